package middleware

import "github.com/aretw0/journey/pkg/ports"

// Middleware allows wrapping a RecoveryCache to add behavior.
type Middleware func(ports.RecoveryCache) ports.RecoveryCache

// Chain applies mws to cache, the first one ending up outermost.
func Chain(cache ports.RecoveryCache, mws ...Middleware) ports.RecoveryCache {
	for i := len(mws) - 1; i >= 0; i-- {
		cache = mws[i](cache)
	}
	return cache
}
