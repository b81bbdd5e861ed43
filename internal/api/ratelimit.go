package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorTTL   = 3 * time.Minute
	sweepEvery   = time.Minute
	defaultRPS   = 20
	defaultBurst = 40
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit limits every client address to rps requests per second with
// the given burst. Idle clients are forgotten until ctx ends.
func RateLimit(ctx context.Context, rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}

	visitors := make(map[string]*visitor)
	var mu sync.Mutex

	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			mu.Lock()
			for key, v := range visitors {
				if time.Since(v.lastSeen) > visitorTTL {
					delete(visitors, key)
				}
			}
			mu.Unlock()
		}
	}()

	getLimiter := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = time.Now()
		return v.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !getLimiter(clientIP(r.RemoteAddr)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(r.Context(), w, http.StatusTooManyRequests, errorBody{Error: "Too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
