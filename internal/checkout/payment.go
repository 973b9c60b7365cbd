package checkout

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
	"github.com/tiendapy/vpos-checkout/internal/widget"
)

// Payment runs one embedded-form payment from session request to terminal
// outcome. One instance serves one invocation; build a fresh one per attempt.
// The script manager is shared between instances so retries and concurrent
// flows reuse the loaded vendor script.
type Payment struct {
	Backend        SessionBackend
	Scripts        *widget.Manager
	Mount          *widget.Mount
	Bus            *events.Bus
	AllowedOrigins []string
	Log            zerolog.Logger

	once sync.Once
	flow *widgetFlow
}

func (p *Payment) init() {
	p.once.Do(func() {
		p.flow = &widgetFlow{
			scripts: p.Scripts,
			mount:   p.Mount,
			bus:     p.Bus,
			origins: p.AllowedOrigins,
			log:     p.Log,
			name:    "payment",
			kind:    widget.FormPayment,
		}
	})
}

// Start validates the request, opens a session and drives the widget until a
// terminal outcome. Exactly one of the callbacks fires, after teardown. The
// returned error is non-nil only for misuse (starting twice); every runtime
// failure is delivered through OnError instead.
func (p *Payment) Start(ctx context.Context, req PaymentRequest, cb Callbacks) *Error {
	p.init()
	return p.flow.start(ctx, flowRun{
		containerID: req.ContainerID,
		styles:      req.Styles,
		cb:          cb,
		check:       req.check,
		createSession: func(ctx context.Context) (vpos.Session, error) {
			return p.Backend.CreatePaymentSession(ctx, vpos.PaymentSessionRequest{
				Amount:        req.Amount,
				Currency:      req.Currency,
				Description:   req.Description,
				ShopProcessID: req.ShopProcessID,
				Customer:      req.Customer,
				Items:         req.Items,
				Device:        req.Device,
			})
		},
	})
}

// Phase reports the current lifecycle position.
func (p *Payment) Phase() Phase {
	p.init()
	return p.flow.res.current()
}

// Close cancels the flow and removes the vendor script once no other holder
// remains. Idempotent; if the flow already resolved no second callback fires.
func (p *Payment) Close() {
	p.init()
	p.flow.close()
}
