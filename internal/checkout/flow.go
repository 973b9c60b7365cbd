package checkout

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/message"
	"github.com/tiendapy/vpos-checkout/internal/obs"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
	"github.com/tiendapy/vpos-checkout/internal/widget"
)

// resolver serialises the terminal transition. begin is the single-flight
// gate: whichever caller claims it first owns teardown and the one callback.
type resolver struct {
	mu       sync.Mutex
	phase    Phase
	resolved bool
}

func (r *resolver) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.resolved {
		r.phase = p
	}
}

func (r *resolver) current() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *resolver) isResolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

func (r *resolver) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return false
	}
	r.resolved = true
	r.phase = PhaseResolving
	return true
}

func (r *resolver) done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhaseDone
}

// widgetFlow is the shared engine for flows that render the embedded form:
// session request, script acquisition, form mount, message wait, resolution.
// Payment and CardRegistration configure it; TokenPayment never uses it.
type widgetFlow struct {
	scripts *widget.Manager
	mount   *widget.Mount
	bus     *events.Bus
	origins []string
	log     zerolog.Logger

	name string
	kind widget.FormKind

	res resolver

	// The per-invocation fields below are written once inside start, under mu
	// and before the run goroutine exists; a rejected second start never
	// touches them.
	mu            sync.Mutex
	started       bool
	cancel        context.CancelFunc
	containerID   string
	styles        map[string]string
	stop          func()
	holdingRef    bool
	session       vpos.Session
	cb            Callbacks
	createSession func(ctx context.Context) (vpos.Session, error)
	// decorate lets a flow enrich the approved result (e.g. refresh the card
	// list) after teardown, before the callback fires.
	decorate func(ctx context.Context, res *Result)
}

// flowRun carries everything one invocation contributes to the shared engine.
type flowRun struct {
	containerID   string
	styles        map[string]string
	cb            Callbacks
	check         func() *Error
	createSession func(ctx context.Context) (vpos.Session, error)
	decorate      func(ctx context.Context, res *Result)
}

// start claims the flow and launches the run goroutine. A second start on the
// same instance is a programmer error reported synchronously, without touching
// the callbacks of the flow already in progress.
func (f *widgetFlow) start(ctx context.Context, run flowRun) *Error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return newError(KindPrecondition, "flow already started", nil)
	}
	f.started = true
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.containerID = run.containerID
	f.styles = run.styles
	f.cb = run.cb
	f.createSession = run.createSession
	f.decorate = run.decorate
	f.mu.Unlock()

	cb := run.cb
	cb.start()

	if verr := run.check(); verr != nil {
		if f.res.begin() {
			obs.CountOutcome(f.name, string(verr.Kind))
			f.res.done()
			if cb.OnError != nil {
				cb.OnError(verr)
			}
		}
		cancel()
		return nil
	}

	go f.run(runCtx)
	return nil
}

func (f *widgetFlow) run(ctx context.Context) {
	f.res.setPhase(PhaseRequestingSession)
	session, err := f.createSession(ctx)
	if err != nil {
		f.fail(err)
		return
	}
	f.mu.Lock()
	f.session = session
	f.mu.Unlock()
	if f.interrupted(ctx) {
		return
	}

	f.res.setPhase(PhaseLoadingScript)
	if _, err := f.scripts.Acquire(ctx); err != nil {
		if obs.ScriptLoadTotal != nil {
			obs.ScriptLoadTotal.WithLabelValues("failure").Inc()
		}
		f.fail(err)
		return
	}
	f.mu.Lock()
	f.holdingRef = true
	f.mu.Unlock()
	if obs.ScriptLoadTotal != nil {
		obs.ScriptLoadTotal.WithLabelValues("success").Inc()
	}
	if f.interrupted(ctx) {
		return
	}

	f.res.setPhase(PhaseMountingForm)
	state := &widget.LoadState{Script: widget.ScriptReady}
	if err := f.mount.MountForm(ctx, state, f.containerID, session.ProcessID, f.kind, f.styles); err != nil {
		if obs.FormMountTotal != nil {
			obs.FormMountTotal.WithLabelValues(f.kind.String(), "failure").Inc()
		}
		f.fail(err)
		return
	}
	if obs.FormMountTotal != nil {
		obs.FormMountTotal.WithLabelValues(f.kind.String(), "success").Inc()
	}
	if f.interrupted(ctx) {
		return
	}

	// The listener exists only while a mounted form can produce messages;
	// subscribing earlier would classify traffic from a form we never showed.
	handler := &message.Handler{
		Bus:            f.bus,
		AllowedOrigins: f.origins,
		Log:            f.log,
		OnLoaded: func() {
			f.log.Debug().Str("flow", f.name).Msg("widget reported rendered")
		},
	}
	eventCh, stop := handler.Listen(ctx)
	f.mu.Lock()
	f.stop = stop
	f.mu.Unlock()
	if f.interrupted(ctx) {
		return
	}

	f.res.setPhase(PhaseAwaitingUser)
	select {
	case <-ctx.Done():
		f.fail(ctx.Err())
	case ev := <-eventCh:
		f.finish(ctx, ev)
	}
}

// interrupted is checked between stages. A close racing the run goroutine may
// have claimed resolution while a stage call was in flight, in which case the
// stage's product (session, script reference, mounted form, listener) appeared
// after teardown already ran and must be torn down again; the script resource
// is removed too, honouring the close that won. A cancelled context with no
// resolution yet is an ordinary failure.
func (f *widgetFlow) interrupted(ctx context.Context) bool {
	if f.res.isResolved() {
		f.teardown()
		f.scripts.Unload()
		return true
	}
	if ctx.Err() != nil {
		f.fail(ctx.Err())
		return true
	}
	return false
}

// finish resolves from a classified terminal event.
func (f *widgetFlow) finish(ctx context.Context, ev message.Event) {
	if !f.res.begin() {
		return
	}
	f.teardown()

	f.mu.Lock()
	cb := f.cb
	session := f.session
	f.mu.Unlock()

	shopProcessID := ev.ShopProcessID
	if shopProcessID == "" {
		shopProcessID = session.ShopProcessID
	}

	switch ev.Outcome {
	case message.OutcomeApproved:
		result := Result{Outcome: OutcomeApproved, ShopProcessID: shopProcessID, Confirmation: ev.Raw}
		if f.decorate != nil {
			// Teardown cancels the run context; decoration outlives it.
			f.decorate(context.WithoutCancel(ctx), &result)
		}
		obs.CountOutcome(f.name, string(OutcomeApproved))
		f.res.done()
		if cb.OnSuccess != nil {
			cb.OnSuccess(result)
		}
	case message.OutcomeRequiresStrongAuth:
		if ev.IframeURL != "" {
			if err := f.mount.Page.OpenWindow(ev.IframeURL); err != nil {
				f.log.Warn().Err(err).Msg("could not open strong-auth surface")
			}
		}
		obs.CountOutcome(f.name, string(OutcomeRequiresStrongAuth))
		f.res.done()
		if cb.OnSuccess != nil {
			cb.OnSuccess(Result{
				Outcome:         OutcomeRequiresStrongAuth,
				ShopProcessID:   shopProcessID,
				ContinuationURL: ev.IframeURL,
			})
		}
	case message.OutcomeDeclined:
		reason := ev.Reason
		if strings.TrimSpace(reason) == "" {
			reason = "el pago fue rechazado"
		}
		obs.CountOutcome(f.name, string(OutcomeDeclined))
		f.res.done()
		if cb.OnError != nil {
			cb.OnError(newError(KindDeclined, reason, nil))
		}
	default:
		reason := ev.Reason
		if strings.TrimSpace(reason) == "" {
			reason = genericTransportMessage
		}
		obs.CountOutcome(f.name, string(OutcomeTransportError))
		f.res.done()
		if cb.OnError != nil {
			cb.OnError(newError(KindTransport, reason, nil))
		}
	}
}

// fail resolves from a boundary error.
func (f *widgetFlow) fail(err error) {
	if !f.res.begin() {
		return
	}
	f.teardown()

	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()

	cerr := reclassify(err)
	obs.CountOutcome(f.name, string(cerr.Kind))
	f.res.done()
	if cb.OnError != nil {
		cb.OnError(cerr)
	}
}

// teardown runs before any callback: the caller must never observe a live
// form or listener from inside its own success or error handler. The script
// reference is released but the resource stays cached for a retry.
func (f *widgetFlow) teardown() {
	f.mu.Lock()
	containerID := f.containerID
	stop := f.stop
	holding := f.holdingRef
	f.holdingRef = false
	cancel := f.cancel
	f.mu.Unlock()

	if containerID != "" {
		f.mount.Unmount(containerID)
	}
	if stop != nil {
		stop()
	}
	if holding {
		f.scripts.Release()
	}
	if cancel != nil {
		cancel()
	}
}

// close cancels the flow. If it has not resolved yet this produces the
// CANCELLED callback; afterwards it only releases the script resource.
func (f *widgetFlow) close() {
	f.mu.Lock()
	started := f.started
	cb := f.cb
	f.mu.Unlock()

	if started && f.res.begin() {
		f.teardown()
		obs.CountOutcome(f.name, string(OutcomeCancelled))
		f.res.done()
		if cb.OnError != nil {
			cb.OnError(newError(KindCancelled, "operación cancelada", nil))
		}
	}

	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if f.scripts != nil {
		f.scripts.Unload()
	}
}
