package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/page/pagetest"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
	"github.com/tiendapy/vpos-checkout/internal/widget"
)

const containerID = "checkout-box"

type stubBackend struct {
	mu sync.Mutex

	session    vpos.Session
	sessionErr error
	// sessionGate, when set, holds CreatePaymentSession open until closed.
	sessionGate chan struct{}

	cardSession vpos.Session
	cardErr     error

	chargeRes vpos.TokenChargeResult
	chargeErr error

	cards    []vpos.CardToken
	cardsErr error

	paymentReqs []vpos.PaymentSessionRequest
	cardReqs    []vpos.CardSessionRequest
	chargeReqs  []vpos.TokenChargeRequest
	listCalls   int
}

func (b *stubBackend) CreatePaymentSession(_ context.Context, req vpos.PaymentSessionRequest) (vpos.Session, error) {
	b.mu.Lock()
	b.paymentReqs = append(b.paymentReqs, req)
	gate := b.sessionGate
	session, err := b.session, b.sessionErr
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return vpos.Session{}, err
	}
	return session, nil
}

func (b *stubBackend) CreateCardSession(_ context.Context, req vpos.CardSessionRequest) (vpos.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cardReqs = append(b.cardReqs, req)
	if b.cardErr != nil {
		return vpos.Session{}, b.cardErr
	}
	return b.cardSession, nil
}

func (b *stubBackend) ChargeToken(_ context.Context, req vpos.TokenChargeRequest) (vpos.TokenChargeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chargeReqs = append(b.chargeReqs, req)
	if b.chargeErr != nil {
		return vpos.TokenChargeResult{}, b.chargeErr
	}
	return b.chargeRes, nil
}

func (b *stubBackend) ListCards(context.Context, string) ([]vpos.CardToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.cardsErr != nil {
		return nil, b.cardsErr
	}
	return b.cards, nil
}

func (b *stubBackend) sessionRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.paymentReqs)
}

// recorder collects callback firings so tests can assert exactly-once
// delivery.
type recorder struct {
	mu        sync.Mutex
	starts    int
	successes []Result
	errors    []*Error
	terminal  chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan struct{})}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStart: func() {
			r.mu.Lock()
			r.starts++
			r.mu.Unlock()
		},
		OnSuccess: func(res Result) {
			r.mu.Lock()
			r.successes = append(r.successes, res)
			r.mu.Unlock()
			r.once.Do(func() { close(r.terminal) })
		},
		OnError: func(err *Error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
			r.once.Do(func() { close(r.terminal) })
		},
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal callback fired")
	}
}

func (r *recorder) counts() (starts, successes, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, len(r.successes), len(r.errors)
}

func (r *recorder) success(t *testing.T) Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.successes, 1)
	require.Empty(t, r.errors)
	return r.successes[0]
}

func (r *recorder) failure(t *testing.T) *Error {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.errors, 1)
	require.Empty(t, r.successes)
	return r.errors[0]
}

type harness struct {
	fake      *pagetest.Fake
	container *pagetest.FakeContainer
	bus       *events.Bus
	backend   *stubBackend
	scripts   *widget.Manager
	payment   *Payment
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := pagetest.New()
	container := fake.AddContainer(containerID)
	bus := events.NewBus()
	backend := &stubBackend{session: vpos.Session{ProcessID: "proc-1", ShopProcessID: "shop-1"}}
	scripts := &widget.Manager{Loader: &widget.Loader{
		Page:         fake,
		Env:          widget.EnvStaging,
		Log:          zerolog.Nop(),
		PollInterval: time.Millisecond,
	}}
	payment := &Payment{
		Backend: backend,
		Scripts: scripts,
		Mount:   &widget.Mount{Page: fake, Log: zerolog.Nop(), RetryDelay: time.Millisecond},
		Bus:     bus,
		Log:     zerolog.Nop(),
	}
	return &harness{fake: fake, container: container, bus: bus, backend: backend, scripts: scripts, payment: payment}
}

func validPaymentRequest() PaymentRequest {
	return PaymentRequest{
		Amount:      decimal.NewFromInt(150000),
		Currency:    "PYG",
		Description: "pedido 42",
		ContainerID: containerID,
		Customer:    vpos.Customer{Name: "Juan Pérez"},
		Items: []vpos.Item{
			{ProductID: "p1", Name: "Empanadas", Quantity: 3, UnitPrice: decimal.NewFromInt(50000)},
		},
	}
}

// awaitUser waits until the flow is subscribed and ready for widget messages.
func (h *harness) awaitUser(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.payment.Phase() == PhaseAwaitingUser
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return h.bus.Subscribers() > 0
	}, 2*time.Second, time.Millisecond)
}

func (h *harness) publish(payload string) {
	h.bus.Publish(events.Message{Origin: "https://vpos.infonet.com.py", Data: json.RawMessage(payload)})
}

func TestPaymentApproved(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)

	h.container.SetContent("<iframe>")
	h.publish(`{"type":"payment_success","shop_process_id":"xyz"}`)
	rec.wait(t)

	res := rec.success(t)
	require.Equal(t, OutcomeApproved, res.Outcome)
	require.Equal(t, "xyz", res.ShopProcessID)
	require.NotEmpty(t, res.Confirmation)

	starts, _, _ := rec.counts()
	require.Equal(t, 1, starts)
	// Teardown ran before the callback: form gone, listener gone, script kept.
	require.Empty(t, h.container.Content())
	require.Eventually(t, func() bool { return h.bus.Subscribers() == 0 }, time.Second, time.Millisecond)
	require.True(t, h.fake.HasScript("vpos-checkout-script"))
	require.Equal(t, 0, h.scripts.Refs())
}

func TestPaymentSessionFieldsReachBackend(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()
	req := validPaymentRequest()
	req.ShopProcessID = "order-77"

	require.Nil(t, h.payment.Start(context.Background(), req, rec.callbacks()))
	h.awaitUser(t)

	h.backend.mu.Lock()
	sent := h.backend.paymentReqs[0]
	h.backend.mu.Unlock()
	require.Equal(t, "order-77", sent.ShopProcessID)
	require.Equal(t, "PYG", sent.Currency)
	require.Equal(t, "150000", sent.Amount.String())
	require.Equal(t, []string{"proc-1"}, h.fake.VendorRuntime().PaymentCalls())

	h.payment.Close()
	rec.wait(t)
}

func TestPaymentValidationFailsBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()
	req := validPaymentRequest()
	req.Amount = decimal.Zero

	require.Nil(t, h.payment.Start(context.Background(), req, rec.callbacks()))
	rec.wait(t)

	err := rec.failure(t)
	require.Equal(t, KindValidation, err.Kind)
	require.Equal(t, 0, h.backend.sessionRequests())
	require.Equal(t, 0, h.fake.Inserts())
}

func TestPaymentCurrencyMustBeGuarani(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()
	req := validPaymentRequest()
	req.Currency = "USD"

	require.Nil(t, h.payment.Start(context.Background(), req, rec.callbacks()))
	rec.wait(t)

	require.Equal(t, KindValidation, rec.failure(t).Kind)
	require.Equal(t, 0, h.backend.sessionRequests())
}

func TestPaymentBackendRejectionSurfacedVerbatim(t *testing.T) {
	h := newHarness(t)
	h.backend.sessionErr = &vpos.BackendError{StatusCode: 422, Message: "monto inválido"}
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	rec.wait(t)

	err := rec.failure(t)
	require.Equal(t, KindTransport, err.Kind)
	require.Equal(t, "monto inválido", err.Message)
	// The backend rejected the session; the widget must never have appeared.
	require.Equal(t, 0, h.fake.Inserts())
}

func TestPaymentScriptLoadExhaustion(t *testing.T) {
	h := newHarness(t)
	h.fake.LoadOutcomes = []error{pagetest.ErrScriptBlocked, pagetest.ErrScriptBlocked, pagetest.ErrScriptBlocked}
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	rec.wait(t)

	err := rec.failure(t)
	require.Equal(t, KindScriptLoad, err.Kind)
	require.True(t, err.Retryable())
	require.Equal(t, 3, h.fake.Inserts())
	require.False(t, h.fake.HasScript("vpos-checkout-script"))
}

func TestPaymentMountFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.VendorRuntime().CreateErrs = []error{
		pagetest.ErrScriptBlocked, pagetest.ErrScriptBlocked, pagetest.ErrScriptBlocked,
	}
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	rec.wait(t)

	err := rec.failure(t)
	require.Equal(t, KindMount, err.Kind)
	require.True(t, err.Retryable())
	require.Equal(t, 0, h.scripts.Refs())
}

func TestPaymentMissingContainerIsPrecondition(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()
	req := validPaymentRequest()
	req.ContainerID = "nope"

	require.Nil(t, h.payment.Start(context.Background(), req, rec.callbacks()))
	rec.wait(t)

	require.Equal(t, KindPrecondition, rec.failure(t).Kind)
}

func TestPaymentDeclined(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)
	h.publish(`{"type":"payment_fail","return_code":"12","message":"tarjeta vencida"}`)
	rec.wait(t)

	err := rec.failure(t)
	require.Equal(t, KindDeclined, err.Kind)
	require.Equal(t, "tarjeta vencida", err.Message)
	require.False(t, err.Retryable())
}

func TestPaymentStrongAuthOpensSecondarySurface(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)
	h.publish(`{"type":"payment_3ds_required","shop_process_id":"xyz","iframe_url":"https://vpos.infonet.com.py/3ds/abc"}`)
	rec.wait(t)

	res := rec.success(t)
	require.Equal(t, OutcomeRequiresStrongAuth, res.Outcome)
	require.Equal(t, "https://vpos.infonet.com.py/3ds/abc", res.ContinuationURL)
	require.Equal(t, []string{"https://vpos.infonet.com.py/3ds/abc"}, h.fake.Windows())
	// The continuation never reuses the primary container.
	require.Empty(t, h.container.Content())
}

func TestPaymentCloseCancels(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)

	h.payment.Close()
	rec.wait(t)

	err := rec.failure(t)
	require.Equal(t, KindCancelled, err.Kind)
	// Close is the one teardown that also removes the cached script.
	require.False(t, h.fake.HasScript("vpos-checkout-script"))

	h.payment.Close()
	_, successes, errors := rec.counts()
	require.Equal(t, 0, successes)
	require.Equal(t, 1, errors)
}

func TestPaymentCloseDuringSessionRequest(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()
	gate := make(chan struct{})
	h.backend.sessionGate = gate

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	require.Eventually(t, func() bool { return h.backend.sessionRequests() == 1 }, 2*time.Second, time.Millisecond)

	h.payment.Close()
	rec.wait(t)
	require.Equal(t, KindCancelled, rec.failure(t).Kind)

	// The backend answers after the cancellation; the session it returns must
	// not revive the flow or load anything.
	close(gate)
	require.Eventually(t, func() bool { return h.scripts.Refs() == 0 }, 2*time.Second, time.Millisecond)
	require.Equal(t, 0, h.fake.Inserts())
	require.Empty(t, h.fake.VendorRuntime().PaymentCalls())
	require.False(t, h.fake.HasScript("vpos-checkout-script"))
	require.Equal(t, 0, h.bus.Subscribers())

	_, successes, errors := rec.counts()
	require.Equal(t, 0, successes)
	require.Equal(t, 1, errors)
}

func TestPaymentCloseDuringMountDismantlesForm(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()
	h.fake.VendorRuntime().OnCreate = func(string, string) {
		h.payment.Close()
	}

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	rec.wait(t)
	require.Equal(t, KindCancelled, rec.failure(t).Kind)

	// The form appeared while close was tearing down; it must come down
	// again, with the reference and the script resource gone.
	require.Eventually(t, func() bool { return h.scripts.Refs() == 0 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !h.fake.HasScript("vpos-checkout-script") }, 2*time.Second, time.Millisecond)
	require.Empty(t, h.container.Content())
	require.Equal(t, 0, h.bus.Subscribers())
}

func TestPaymentExactlyOnceUnderRace(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.publish(`{"type":"payment_success","shop_process_id":"xyz"}`)
	}()
	go func() {
		defer wg.Done()
		h.payment.Close()
	}()
	wg.Wait()
	rec.wait(t)

	require.Eventually(t, func() bool { return h.payment.Phase() == PhaseDone }, time.Second, time.Millisecond)
	_, successes, errors := rec.counts()
	require.Equal(t, 1, successes+errors)
}

func TestPaymentDuplicateTerminalMessagesIgnored(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)

	h.publish(`{"type":"payment_success","shop_process_id":"xyz"}`)
	rec.wait(t)
	h.publish(`{"type":"payment_fail","return_code":"12"}`)
	time.Sleep(20 * time.Millisecond)

	_, successes, errors := rec.counts()
	require.Equal(t, 1, successes)
	require.Equal(t, 0, errors)
}

func TestPaymentStartTwiceIsMisuse(t *testing.T) {
	h := newHarness(t)
	rec := newRecorder()

	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec.callbacks()))
	h.awaitUser(t)

	second := newRecorder()
	req2 := validPaymentRequest()
	req2.ShopProcessID = "intruder"
	err := h.payment.Start(context.Background(), req2, second.callbacks())
	require.NotNil(t, err)
	require.Equal(t, KindPrecondition, err.Kind)

	starts, _, _ := second.counts()
	require.Equal(t, 0, starts)

	// The rejected start left the in-flight invocation untouched.
	h.publish(`{"type":"payment_success","shop_process_id":"xyz"}`)
	rec.wait(t)
	require.Equal(t, "xyz", rec.success(t).ShopProcessID)
	require.Equal(t, 1, h.backend.sessionRequests())
}

func TestPaymentCloseWithoutStart(t *testing.T) {
	h := newHarness(t)
	h.payment.Close()
	h.payment.Close()
	require.Equal(t, PhaseIdle, h.payment.Phase())
}

func TestConcurrentPaymentsShareScript(t *testing.T) {
	h := newHarness(t)
	second := &Payment{
		Backend: h.backend,
		Scripts: h.scripts,
		Mount:   &widget.Mount{Page: h.fake, Log: zerolog.Nop(), RetryDelay: time.Millisecond},
		Bus:     h.bus,
		Log:     zerolog.Nop(),
	}
	h.fake.AddContainer("other-box")

	rec1, rec2 := newRecorder(), newRecorder()
	require.Nil(t, h.payment.Start(context.Background(), validPaymentRequest(), rec1.callbacks()))
	h.awaitUser(t)

	req2 := validPaymentRequest()
	req2.ContainerID = "other-box"
	require.Nil(t, second.Start(context.Background(), req2, rec2.callbacks()))
	require.Eventually(t, func() bool { return second.Phase() == PhaseAwaitingUser }, 2*time.Second, time.Millisecond)

	// One shared script resource, two live flows.
	require.Equal(t, 1, h.fake.Inserts())
	require.Equal(t, 2, h.scripts.Refs())

	h.publish(`{"type":"payment_success"}`)
	rec1.wait(t)
	rec2.wait(t)
}
