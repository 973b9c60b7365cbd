package checkout

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
	"github.com/tiendapy/vpos-checkout/internal/widget"
)

// CardRegistration runs one card-capture flow through the same machine as
// Payment, mounting the vendor's registration form instead. On approval it
// refreshes the stored-card list so the caller sees the new token without a
// second round trip.
type CardRegistration struct {
	Backend        SessionBackend
	Scripts        *widget.Manager
	Mount          *widget.Mount
	Bus            *events.Bus
	AllowedOrigins []string
	Log            zerolog.Logger

	once sync.Once
	flow *widgetFlow
}

func (r *CardRegistration) init() {
	r.once.Do(func() {
		r.flow = &widgetFlow{
			scripts: r.Scripts,
			mount:   r.Mount,
			bus:     r.Bus,
			origins: r.AllowedOrigins,
			log:     r.Log,
			name:    "card_registration",
			kind:    widget.FormCardCapture,
		}
	})
}

// Start validates the request and drives the card-capture widget until a
// terminal outcome. Exactly one callback fires, after teardown.
func (r *CardRegistration) Start(ctx context.Context, req RegistrationRequest, cb Callbacks) *Error {
	r.init()
	return r.flow.start(ctx, flowRun{
		containerID: req.ContainerID,
		styles:      req.Styles,
		cb:          cb,
		check:       req.check,
		createSession: func(ctx context.Context) (vpos.Session, error) {
			return r.Backend.CreateCardSession(ctx, vpos.CardSessionRequest{
				CardID:        req.CardID,
				UserID:        req.UserID,
				UserCellPhone: req.CellPhone,
				UserMail:      req.Email,
				ReturnURL:     req.ReturnURL,
			})
		},
		decorate: func(ctx context.Context, res *Result) {
			cards, err := r.Backend.ListCards(ctx, req.UserID)
			if err != nil {
				// The card was registered; a stale list is not a failure.
				r.Log.Warn().Err(err).Str("user_id", req.UserID).Msg("card list refresh failed")
				return
			}
			res.Cards = cards
		},
	})
}

// Phase reports the current lifecycle position.
func (r *CardRegistration) Phase() Phase {
	r.init()
	return r.flow.res.current()
}

// Close cancels the flow. Idempotent.
func (r *CardRegistration) Close() {
	r.init()
	r.flow.close()
}
