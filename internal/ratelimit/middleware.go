// Package ratelimit throttles kiosk traffic reaching the relay. The webview
// forwards every widget postMessage, so the message route legitimately bursts
// in a way the checkout routes never should; limits are kept per traffic
// class so one cannot starve the other.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tiendapy/vpos-checkout/internal/common"
)

// Class is one traffic class with its own Redis key space and thresholds. Key
// derives the per-caller identity, normally the kiosk's client IP.
type Class struct {
	Name   string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces one traffic class's limit before delegating.
type Handler struct {
	Limiter Sliding
	Class   Class
	OnError func(error)
}

// Middleware rejects over-limit requests with 429. A limiter error fails
// open: dropping widget messages because Redis blipped would strand an
// in-flight payment.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Class.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		decision, err := h.Limiter.Take(r.Context(), h.Class.Name, h.Class.Key(r), h.Class.Window, h.Class.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limit := h.Class.Max
		if limit < 0 {
			limit = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "demasiadas solicitudes, intente de nuevo en unos segundos", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
