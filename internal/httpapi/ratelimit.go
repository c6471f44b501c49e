package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rateLimiter is a fixed-window per-IP counter. Windows are created on
// first hit and garbage-collected in the background; precision beyond a
// soft per-window cap is not needed here.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*limiterWindow
	window  time.Duration
	max     int
	now     func() time.Time
	stop    chan struct{}
}

type limiterWindow struct {
	count int
	start time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	rl := &rateLimiter{
		windows: make(map[string]*limiterWindow),
		window:  window,
		max:     max,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// allow records a hit for key and reports whether it is within the
// window's budget. The second return is the time until the window resets.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > rl.window {
		rl.windows[key] = &limiterWindow{count: 1, start: now}
		return true, 0
	}
	w.count++
	if w.count > rl.max {
		return false, rl.window - now.Sub(w.start)
	}
	return true, 0
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.windows {
				if now.Sub(w.start) > 2*rl.window {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *rateLimiter) Close() { close(rl.stop) }

// clientIP prefers the first X-Forwarded-For hop (the platform runs
// behind a load balancer), falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
