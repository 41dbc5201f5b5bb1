package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"SocialGW/global/config"
	"SocialGW/logger"
	"SocialGW/middleware/security"
	"SocialGW/service/chat"
	"SocialGW/service/mgo"
	"SocialGW/service/relay"
	"SocialGW/service/storage"
	redismgr "SocialGW/service/storage/redis"
	"SocialGW/service/store"
	"SocialGW/tools/ids"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Errorf("[main] load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.NodeBits)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Mongo connects in the background; wait for it before serving so the
	// first handshake never races the store.
	mgo.StartAsync(rootCtx, mgo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	waitCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	err = mgo.WaitReady(waitCtx)
	cancel()
	if err != nil {
		logger.Errorf("[main] mongo not ready: %v", err)
		os.Exit(1)
	}
	stores := store.NewMongoStores(mgo.GetDB(), cfg.StoreTimeout)

	var mirror chat.OnlineMirror
	var om *storage.OnlineMirror
	if err := redismgr.Init(redismgr.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		logger.Warnf("[main] redis unavailable, online mirror disabled: %v", err)
	} else {
		om = storage.NewOnlineMirror(redismgr.Get(), cfg.NodeID, 0)
		mirror = om
		defer func() { _ = redismgr.Close() }()
	}

	var rly chat.Relay
	var rlyClient *relay.Client
	if cfg.Nats.Enabled {
		rlyClient, err = relay.Connect(cfg.Nats.Servers, cfg.NodeID)
		if err != nil {
			logger.Errorf("[main] nats connect: %v", err)
			os.Exit(1)
		}
		rly = rlyClient
		defer rlyClient.Close()
	}

	srv := chat.NewServer(cfg, stores.Conversations, stores.Messages, stores.Users, rly, mirror)
	defer srv.Close()
	if rlyClient != nil {
		if err := rlyClient.Subscribe(srv); err != nil {
			logger.Errorf("[main] relay subscribe: %v", err)
			os.Exit(1)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	authed := r.Group("/", security.Middleware(security.DefaultOptions([]byte(cfg.AuthSecret))))
	authed.GET("/ws", srv.HandleWS)
	if om != nil {
		authed.GET("/presence/:pubId", func(c *gin.Context) {
			online, err := om.IsOnlineAnywhere(c.Request.Context(), c.Param("pubId"))
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"pubId": c.Param("pubId"), "online": online})
		})
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		logger.Infof("[main] gateway %s listening on %s", cfg.NodeID, httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[main] serve: %v", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("[main] shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
}
