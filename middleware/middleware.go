package middleware

import (
	"bufio"
	"context"
	"errors"
	"fittrack/herr"
	"fittrack/session"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Middleware func(http.Handler) http.Handler

func Chain(handler http.Handler, m ...Middleware) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		handler = m[i](handler)
	}
	return handler
}

// statusRecorder remembers the response code. It stays hijackable for websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func Logger() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			slog.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.code(),
				"ip", r.RemoteAddr,
				"duration", time.Since(start),
			)
		})
	}
}

func CORS(allowedOrigins []string) Middleware {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Protect requires a valid access token on every path under one of prefixes.
func Protect(prefixes []string, sm *session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !protected(prefixes, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result, err := sm.GetCurrentSession(r)
			if err != nil {
				slog.Warn("error getting session", "path", r.URL.Path, "error", err)
				herr.Write(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if result == nil || result.User == nil {
				slog.Warn("no active session", "path", r.URL.Path)
				herr.Write(w, http.StatusUnauthorized, "No active session")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), result)))
		})
	}
}

func protected(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Proxies is a set of peers whose X-Forwarded-For header is believed.
type Proxies []netip.Prefix

// ParseProxies accepts plain addresses and CIDR ranges. Bad entries are
// logged and skipped.
func ParseProxies(entries []string) Proxies {
	var proxies Proxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			proxies = append(proxies, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy", "entry", entry)
			continue
		}
		addr = addr.Unmap()
		proxies = append(proxies, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return proxies
}

func (p Proxies) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the peer address, unless the peer is a trusted proxy. Then it is
// the rightmost X-Forwarded-For hop that is not itself a trusted proxy.
func clientIP(r *http.Request, proxies Proxies) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !proxies.trusts(peer) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !proxies.trusts(hop) {
			return hop
		}
	}
	return peer
}

// RateLimit keeps a token bucket per client IP. Buckets idle for an hour are
// dropped until ctx is done.
func RateLimit(ctx context.Context, rps float64, burst int, proxies Proxies) Middleware {
	type limiterEntry struct {
		limiter  *rate.Limiter
		lastSeen time.Time
		mu       sync.Mutex
	}

	limiters := &sync.Map{}

	cleanup := time.NewTicker(5 * time.Minute)
	go func() {
		defer cleanup.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanup.C:
			}
			now := time.Now()
			limiters.Range(func(key, value any) bool {
				entry := value.(*limiterEntry)
				entry.mu.Lock()
				idle := now.Sub(entry.lastSeen)
				entry.mu.Unlock()
				if idle > time.Hour {
					slog.Debug("dropping idle rate limiter", "ip", key)
					limiters.Delete(key)
				}
				return true
			})
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, proxies)

			value, _ := limiters.LoadOrStore(ip, &limiterEntry{
				limiter: rate.NewLimiter(rate.Limit(rps), burst),
			})
			entry := value.(*limiterEntry)
			entry.mu.Lock()
			entry.lastSeen = time.Now()
			entry.mu.Unlock()

			if !entry.limiter.Allow() {
				slog.Warn("too many requests", "ip", ip)
				herr.Write(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			slog.Debug("rate limiter state",
				"ip", ip,
				"tokens", entry.limiter.Tokens(),
				"limit", entry.limiter.Limit(),
				"burst", entry.limiter.Burst(),
			)

			next.ServeHTTP(w, r)
		})
	}
}
