package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IngressConfig bounds raw request rate per remote IP before a request
// reaches the gateway's own per-principal limiter.
type IngressConfig struct {
	RequestsPerSecond float64
	Burst             int
}

const ingressIdleTTL = 10 * time.Minute

type ingressLimiter struct {
	cfg       IngressConfig
	mu        sync.Mutex
	clients   map[string]*ingressClient
	lastSweep time.Time
	now       func() time.Time
}

type ingressClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIngressLimiter(cfg IngressConfig) *ingressLimiter {
	return &ingressLimiter{
		cfg:     cfg,
		clients: make(map[string]*ingressClient),
		now:     time.Now,
	}
}

// get returns the limiter for ip, dropping idle clients at most once per TTL.
func (l *ingressLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > ingressIdleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > ingressIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &ingressClient{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// IngressLimit rejects requests over the per-IP token bucket with 429.
func IngressLimit(cfg IngressConfig) func(http.Handler) http.Handler {
	l := newIngressLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.get(clientIP(r)).Reserve()
			if !res.OK() {
				writeJSON(w, http.StatusTooManyRequests, errorBody{ErrorMessage: "too many requests"})
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				writeJSON(w, http.StatusTooManyRequests, errorBody{ErrorMessage: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses RemoteAddr only; forwarded headers are client-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
