package message

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/events"
)

// Handler owns one session's subscription to the message channel. It emits
// exactly one terminal event per session, then unsubscribes; duplicate vendor
// messages after that are dropped.
type Handler struct {
	Bus *events.Bus
	// AllowedOrigins is advisory: the vendor is known to use more than one
	// documented origin across environments, so a mismatch is logged but the
	// message is still classified.
	AllowedOrigins []string
	Log            zerolog.Logger
	// OnLoaded fires at most once, when the widget reports it rendered.
	OnLoaded func()
}

// Listen subscribes and returns a channel that delivers at most one terminal
// event before closing, plus a stop function. Stop is idempotent and safe to
// call after the terminal event was delivered.
func (h *Handler) Listen(ctx context.Context) (<-chan Event, func()) {
	in, unsubscribe := h.Bus.Subscribe(0)
	out := make(chan Event, 1)

	go func() {
		defer unsubscribe()
		loadedSeen := false
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				if !h.originAllowed(m.Origin) {
					h.Log.Warn().Str("origin", m.Origin).Msg("widget message from unlisted origin")
				}
				ev, ok := Classify(m.Data)
				if !ok {
					continue
				}
				if ev.Loaded {
					if !loadedSeen {
						loadedSeen = true
						if h.OnLoaded != nil {
							h.OnLoaded()
						}
					}
					continue
				}
				if !ev.Terminal {
					continue
				}
				out <- ev
				close(out)
				return
			}
		}
	}()

	return out, unsubscribe
}

func (h *Handler) originAllowed(origin string) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	origin = strings.TrimSpace(strings.ToLower(origin))
	for _, allowed := range h.AllowedOrigins {
		if strings.TrimSpace(strings.ToLower(allowed)) == origin {
			return true
		}
	}
	return false
}
