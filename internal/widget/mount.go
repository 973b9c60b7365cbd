package widget

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/page"
)

// FormKind selects which vendor form the mount creates.
type FormKind int

const (
	FormPayment FormKind = iota
	FormCardCapture
)

func (k FormKind) String() string {
	if k == FormCardCapture {
		return "card_capture"
	}
	return "payment"
}

// Mount renders the vendor's embedded form into a designated container.
type Mount struct {
	Page page.Page
	Log  zerolog.Logger

	// NotReadyAttempts bounds retries against the entry point racing its own
	// initialisation (default 5, fixed delay).
	NotReadyAttempts int
	// CreateAttempts bounds retries of the create call itself, which may fail
	// synchronously on vendor-side validation (default 3). Counted separately
	// from the not-ready retries.
	CreateAttempts int
	RetryDelay     time.Duration

	// Fixed layout applied to the container before mounting.
	Width  string
	Height string
}

func (m *Mount) notReadyAttempts() int {
	if m.NotReadyAttempts > 0 {
		return m.NotReadyAttempts
	}
	return 5
}

func (m *Mount) createAttempts() int {
	if m.CreateAttempts > 0 {
		return m.CreateAttempts
	}
	return 3
}

func (m *Mount) retryDelay() time.Duration {
	if m.RetryDelay > 0 {
		return m.RetryDelay
	}
	return 300 * time.Millisecond
}

func (m *Mount) width() string {
	if m.Width != "" {
		return m.Width
	}
	return "100%"
}

func (m *Mount) height() string {
	if m.Height != "" {
		return m.Height
	}
	return "350px"
}

// MountForm binds the vendor form for the session to the container. The
// container must exist and the script must already be READY in the given
// state; violating either is a programmer error, not retried.
func (m *Mount) MountForm(ctx context.Context, state *LoadState, containerID, processID string, kind FormKind, styles map[string]string) error {
	if state.Script != ScriptReady {
		return &PreconditionError{Reason: fmt.Sprintf("script is %s, not ready", state.Script)}
	}
	container, ok := m.Page.ContainerByID(containerID)
	if !ok {
		return &PreconditionError{Reason: "container " + containerID + " not in page"}
	}

	// A stale previous mount must never be visible behind a new one.
	container.Clear()
	container.Resize(m.width(), m.height())

	runtime, attempts, err := m.awaitRuntime(ctx)
	if err != nil {
		_ = state.SetForm(FormFailed)
		return &MountError{Attempts: attempts, Err: err}
	}

	if err := state.SetForm(FormMounting); err != nil {
		return &PreconditionError{Reason: err.Error()}
	}

	var lastErr error
	for attempt := 1; attempt <= m.createAttempts(); attempt++ {
		state.Attempt = attempt
		lastErr = m.create(runtime, containerID, processID, kind, styles)
		if lastErr == nil {
			_ = state.SetForm(FormMounted)
			m.Log.Debug().Str("container", containerID).Str("form", kind.String()).Msg("vendor form mounted")
			return nil
		}
		m.Log.Warn().Err(lastErr).Int("attempt", attempt).Msg("vendor form creation failed")
		if attempt == m.createAttempts() {
			break
		}
		if err := m.sleep(ctx); err != nil {
			_ = state.SetForm(FormFailed)
			return &MountError{Attempts: attempt, Err: err}
		}
	}
	_ = state.SetForm(FormFailed)
	return &MountError{Attempts: m.createAttempts(), Err: lastErr}
}

// awaitRuntime polls for the vendor entry point with a short fixed delay. The
// loaded signal and the entry point becoming callable are distinct events.
func (m *Mount) awaitRuntime(ctx context.Context) (page.Runtime, int, error) {
	attempts := m.notReadyAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if rt, ok := m.Page.Runtime(); ok {
			return rt, attempt, nil
		}
		if attempt == attempts {
			break
		}
		if err := m.sleep(ctx); err != nil {
			return nil, attempt, err
		}
	}
	return nil, attempts, fmt.Errorf("widget: entry point not callable after %d attempts", attempts)
}

func (m *Mount) create(rt page.Runtime, containerID, processID string, kind FormKind, styles map[string]string) error {
	if kind == FormCardCapture {
		return rt.CreateCardForm(containerID, processID, styles)
	}
	return rt.CreatePaymentForm(containerID, processID, styles)
}

func (m *Mount) sleep(ctx context.Context) error {
	timer := time.NewTimer(m.retryDelay())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Unmount clears the container. Safe to call twice or for a container that
// was never mounted.
func (m *Mount) Unmount(containerID string) {
	if container, ok := m.Page.ContainerByID(containerID); ok {
		container.Clear()
	}
}
