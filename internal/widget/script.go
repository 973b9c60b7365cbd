package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/page"
)

// scriptResourceID is the reserved identifier for the vendor script resource.
// Only one resource with this id may exist in the page at a time.
const scriptResourceID = "vpos-checkout-script"

// Environment selects which vendor endpoint the script is fetched from.
type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// ScriptURL resolves the vendor script location for the environment.
func ScriptURL(env Environment) string {
	switch Environment(strings.ToLower(strings.TrimSpace(string(env)))) {
	case EnvProduction:
		return "https://vpos.infonet.com.py/checkout/javascript/dist/bancard-checkout-4.0.0.js"
	default:
		return "https://vpos.infonet.com.py:8888/checkout/javascript/dist/bancard-checkout-4.0.0.js"
	}
}

var errEntryPointMissing = errors.New("widget: vendor entry point never became callable")

// Loader ensures exactly one instance of the vendor script is present and
// initialized, with bounded retries.
type Loader struct {
	Page page.Page
	Env  Environment
	Log  zerolog.Logger

	// MaxAttempts bounds full load attempts (default 3). Failed attempts are
	// retried immediately.
	MaxAttempts int
	// PollAttempts and PollInterval bound the wait for the vendor entry point
	// after the native loaded signal: script execution completing does not
	// guarantee the vendor's internal initialisation has finished.
	PollAttempts int
	PollInterval time.Duration
}

func (l *Loader) maxAttempts() int {
	if l.MaxAttempts > 0 {
		return l.MaxAttempts
	}
	return 3
}

func (l *Loader) pollAttempts() int {
	if l.PollAttempts > 0 {
		return l.PollAttempts
	}
	return 20
}

func (l *Loader) pollInterval() time.Duration {
	if l.PollInterval > 0 {
		return l.PollInterval
	}
	return 150 * time.Millisecond
}

// Load inserts the vendor script and waits until the entry point is callable.
// On failure it retries up to MaxAttempts total attempts, then returns a
// ScriptLoadError.
func (l *Loader) Load(ctx context.Context) (page.Runtime, error) {
	var lastErr error
	attempts := l.maxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		rt, err := l.loadOnce(ctx, attempt)
		if err == nil {
			return rt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		l.Log.Warn().Err(err).Int("attempt", attempt).Msg("vendor script load failed")
	}
	return nil, &ScriptLoadError{Attempts: attempts, Err: lastErr}
}

func (l *Loader) loadOnce(ctx context.Context, attempt int) (page.Runtime, error) {
	// A previous teardown may have left a stale, half-initialized instance
	// behind; never assume a prior load succeeded.
	if existing, ok := l.Page.ScriptByID(scriptResourceID); ok {
		existing.Remove()
	}
	script, err := l.Page.InsertScript(scriptResourceID, ScriptURL(l.Env))
	if err != nil {
		return nil, err
	}
	select {
	case err := <-script.Done():
		if err != nil {
			script.Remove()
			return nil, err
		}
	case <-ctx.Done():
		script.Remove()
		return nil, ctx.Err()
	}

	for i := 0; i < l.pollAttempts(); i++ {
		if rt, ok := l.Page.Runtime(); ok {
			l.Log.Debug().Int("attempt", attempt).Int("polls", i).Msg("vendor script ready")
			return rt, nil
		}
		timer := time.NewTimer(l.pollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			script.Remove()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	script.Remove()
	return nil, errEntryPointMissing
}

// Unload removes the script resource. Safe to call multiple times or when
// nothing was loaded.
func (l *Loader) Unload() {
	if existing, ok := l.Page.ScriptByID(scriptResourceID); ok {
		existing.Remove()
	}
}

// Manager is the process-wide script owner. Orchestrator instances acquire
// and release it; the loaded runtime is shared and reference counted so
// concurrent instances compose instead of fighting over the single resource.
type Manager struct {
	Loader *Loader

	mu      sync.Mutex
	refs    int
	runtime page.Runtime
}

// Acquire returns the cached runtime or performs a fresh load.
func (m *Manager) Acquire(ctx context.Context) (page.Runtime, error) {
	m.mu.Lock()
	if m.runtime != nil {
		m.refs++
		rt := m.runtime
		m.mu.Unlock()
		return rt, nil
	}
	m.mu.Unlock()

	rt, err := m.Loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.runtime = rt
	m.refs++
	m.mu.Unlock()
	return rt, nil
}

// Release drops one reference. The script stays cached for a possible retry
// within the same page visit.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs > 0 {
		m.refs--
	}
}

// Unload removes the script resource when no holder remains. Idempotent; a
// second orchestrator still holding a reference keeps the script alive.
func (m *Manager) Unload() {
	m.mu.Lock()
	if m.refs > 0 {
		m.mu.Unlock()
		return
	}
	m.runtime = nil
	m.mu.Unlock()
	m.Loader.Unload()
}

// Refs reports outstanding references, mainly for tests.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
