// Package pagetest provides a scriptable in-memory page.Page for tests.
package pagetest

import (
	"errors"
	"sync"

	"github.com/tiendapy/vpos-checkout/internal/page"
)

// FakeScript records the lifecycle of one inserted script resource.
type FakeScript struct {
	src     string
	done    chan error
	mu      sync.Mutex
	removed bool
}

// URL implements page.Script.
func (s *FakeScript) URL() string { return s.src }

// Done implements page.Script.
func (s *FakeScript) Done() <-chan error { return s.done }

// Remove implements page.Script.
func (s *FakeScript) Remove() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}

// Removed reports whether Remove was called.
func (s *FakeScript) Removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

// FakeContainer records clear/resize operations against one container.
type FakeContainer struct {
	id string

	mu      sync.Mutex
	clears  int
	width   string
	height  string
	content string
}

// ID implements page.Container.
func (c *FakeContainer) ID() string { return c.id }

// Clear implements page.Container.
func (c *FakeContainer) Clear() {
	c.mu.Lock()
	c.clears++
	c.content = ""
	c.mu.Unlock()
}

// Resize implements page.Container.
func (c *FakeContainer) Resize(width, height string) {
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
}

// SetContent simulates the vendor rendering something into the container.
func (c *FakeContainer) SetContent(content string) {
	c.mu.Lock()
	c.content = content
	c.mu.Unlock()
}

// Content returns the simulated container content.
func (c *FakeContainer) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Clears reports how many times Clear was called.
func (c *FakeContainer) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// FakeRuntime is a scriptable vendor entry point.
type FakeRuntime struct {
	mu sync.Mutex

	// CreateErrs is consumed one element per create call; a nil element means
	// the call succeeds. Once exhausted all calls succeed.
	CreateErrs []error

	// OnCreate, when set, runs after a successful create call.
	OnCreate func(containerID, processID string)

	paymentCalls []string
	cardCalls    []string
}

// CreatePaymentForm implements page.Runtime.
func (r *FakeRuntime) CreatePaymentForm(containerID, processID string, _ map[string]string) error {
	return r.create(&r.paymentCalls, containerID, processID)
}

// CreateCardForm implements page.Runtime.
func (r *FakeRuntime) CreateCardForm(containerID, processID string, _ map[string]string) error {
	return r.create(&r.cardCalls, containerID, processID)
}

func (r *FakeRuntime) create(calls *[]string, containerID, processID string) error {
	r.mu.Lock()
	var err error
	if len(r.CreateErrs) > 0 {
		err = r.CreateErrs[0]
		r.CreateErrs = r.CreateErrs[1:]
	}
	onCreate := r.OnCreate
	if err == nil {
		*calls = append(*calls, processID)
	}
	r.mu.Unlock()
	if err == nil && onCreate != nil {
		onCreate(containerID, processID)
	}
	return err
}

// PaymentCalls returns the process ids passed to successful payment mounts.
func (r *FakeRuntime) PaymentCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paymentCalls...)
}

// CardCalls returns the process ids passed to successful card-capture mounts.
func (r *FakeRuntime) CardCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cardCalls...)
}

// Fake is an in-memory page.Page.
type Fake struct {
	mu sync.Mutex

	// LoadOutcomes is consumed one element per InsertScript call and decides
	// the native load signal: nil means loaded, anything else means error.
	// Once exhausted every load succeeds.
	LoadOutcomes []error

	// InsertErr, when set, makes InsertScript itself fail.
	InsertErr error

	// RuntimeReadyAfter delays runtime availability by that many Runtime()
	// calls, modelling vendor initialisation finishing after the load signal.
	RuntimeReadyAfter int

	runtime    *FakeRuntime
	scripts    map[string]*FakeScript
	containers map[string]*FakeContainer
	inserts    int
	windows    []string
	windowErr  error
}

// New returns a Fake with a ready runtime and no containers.
func New() *Fake {
	return &Fake{
		runtime:    &FakeRuntime{},
		scripts:    map[string]*FakeScript{},
		containers: map[string]*FakeContainer{},
	}
}

// AddContainer registers a container and returns it for inspection.
func (f *Fake) AddContainer(id string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &FakeContainer{id: id}
	f.containers[id] = c
	return c
}

// VendorRuntime exposes the scriptable runtime.
func (f *Fake) VendorRuntime() *FakeRuntime { return f.runtime }

// SetWindowErr makes OpenWindow fail.
func (f *Fake) SetWindowErr(err error) {
	f.mu.Lock()
	f.windowErr = err
	f.mu.Unlock()
}

// ScriptByID implements page.Page.
func (f *Fake) ScriptByID(id string) (page.Script, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scripts[id]
	if !ok || s.Removed() {
		return nil, false
	}
	return s, true
}

// InsertScript implements page.Page.
func (f *Fake) InsertScript(id, src string) (page.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		return nil, f.InsertErr
	}
	f.inserts++
	var outcome error
	if len(f.LoadOutcomes) > 0 {
		outcome = f.LoadOutcomes[0]
		f.LoadOutcomes = f.LoadOutcomes[1:]
	}
	s := &FakeScript{src: src, done: make(chan error, 1)}
	s.done <- outcome
	close(s.done)
	f.scripts[id] = s
	return s, nil
}

// ContainerByID implements page.Page.
func (f *Fake) ContainerByID(id string) (page.Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// Runtime implements page.Page.
func (f *Fake) Runtime() (page.Runtime, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RuntimeReadyAfter > 0 {
		f.RuntimeReadyAfter--
		return nil, false
	}
	return f.runtime, true
}

// OpenWindow implements page.Page.
func (f *Fake) OpenWindow(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windowErr != nil {
		return f.windowErr
	}
	f.windows = append(f.windows, url)
	return nil
}

// Inserts reports how many script resources were inserted.
func (f *Fake) Inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

// Windows returns the URLs opened in a secondary surface.
func (f *Fake) Windows() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.windows...)
}

// HasScript reports whether a live (not removed) script with the id exists.
func (f *Fake) HasScript(id string) bool {
	_, ok := f.ScriptByID(id)
	return ok
}

var _ page.Page = (*Fake)(nil)
var _ page.Script = (*FakeScript)(nil)
var _ page.Container = (*FakeContainer)(nil)
var _ page.Runtime = (*FakeRuntime)(nil)

// ErrScriptBlocked is a convenience error for simulating native load errors.
var ErrScriptBlocked = errors.New("pagetest: script blocked")
