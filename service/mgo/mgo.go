package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"SocialGW/logger"
)

type Config struct {
	URI      string
	Database string
}

type Manager struct {
	mu        sync.RWMutex
	client    *mongo.Client
	database  string
	readyCh   chan struct{} // closed once on first successful connect
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = &Manager{readyCh: make(chan struct{})}

// StartAsync runs until ctx is done. It connects with backoff, closes the
// ready channel on first success, and reconnects when health checks fail.
func StartAsync(ctx context.Context, cfg Config) {
	globalMgr.database = cfg.Database

	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3
		)

		backoff := baseBackoff
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			cli, err := connect(ctx, cfg.URI)
			if err != nil {
				globalMgr.lastErr.Store(err)
				logger.Warnf("[mgo] connect failed, retrying in %v: %v", backoff, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff *= 2; backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = baseBackoff

			globalMgr.mu.Lock()
			globalMgr.client = cli
			globalMgr.mu.Unlock()
			globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
			logger.Infof("[mgo] connected to %s", cfg.URI)

			// Health check phase: ping until failThresh consecutive failures.
			fails := 0
			ticker := time.NewTicker(healthEvery)
			for fails < failThresh {
				select {
				case <-ctx.Done():
					ticker.Stop()
					_ = cli.Disconnect(context.Background())
					return
				case <-ticker.C:
					pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
					if err := cli.Ping(pctx, readpref.Primary()); err != nil {
						fails++
						globalMgr.lastErr.Store(err)
					} else {
						fails = 0
					}
					cancel()
				}
			}
			ticker.Stop()
			logger.Warnf("[mgo] health checks failing, reconnecting")
			_ = cli.Disconnect(context.Background())
		}
	}()
}

func connect(ctx context.Context, uri string) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(cctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// WaitReady blocks until the first successful connect or ctx expiry.
func WaitReady(ctx context.Context) error {
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-ctx.Done():
		if err, ok := globalMgr.lastErr.Load().(error); ok {
			return err
		}
		return ctx.Err()
	}
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		panic("mongo not ready, call StartAsync and WaitReady first")
	}
	return globalMgr.client.Database(globalMgr.database)
}
