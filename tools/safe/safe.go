package safe

import (
	"reflect"

	"SocialGW/logger"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required collaborators during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil()) {
		panic(name + " must not be nil")
	}
}

// Go starts a goroutine that recovers from panic, so a single connection's
// handler can never take down the process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
