// Package page abstracts the rendering surface the checkout widget lives on.
// The embedding application (webview, kiosk shell) provides an implementation;
// the orchestration core only ever talks to these interfaces.
package page

import "errors"

// ErrNoContainer is returned by helpers when a container lookup fails.
var ErrNoContainer = errors.New("page: container not found")

// Script is a handle to a script resource inserted into the surface.
type Script interface {
	// URL reports the source the script was inserted with.
	URL() string
	// Done yields exactly one value: nil once the native "loaded" signal fires,
	// or an error for the native "error" signal. The channel is closed after.
	Done() <-chan error
	// Remove detaches the script resource. Safe to call more than once.
	Remove()
}

// Container is a designated element the vendor form is rendered into.
type Container interface {
	// ID reports the container identifier.
	ID() string
	// Clear removes any existing content so a stale mount is never visible
	// behind a new one.
	Clear()
	// Resize applies fixed layout sizing before a mount.
	Resize(width, height string)
}

// Runtime is the vendor's global entry point. It only becomes available after
// the vendor script has finished its own internal initialisation, which can be
// noticeably later than the script's "loaded" signal.
type Runtime interface {
	// CreatePaymentForm binds a payment form to the container for a session.
	// It may fail synchronously on vendor-side validation.
	CreatePaymentForm(containerID, processID string, styles map[string]string) error
	// CreateCardForm binds a card-capture form to the container for a session.
	CreateCardForm(containerID, processID string, styles map[string]string) error
}

// Page is the host surface itself.
type Page interface {
	// ScriptByID looks up a previously inserted script resource.
	ScriptByID(id string) (Script, bool)
	// InsertScript inserts a fresh script resource. The returned handle's Done
	// channel reports the native load outcome.
	InsertScript(id, src string) (Script, error)
	// ContainerByID looks up a mount container.
	ContainerByID(id string) (Container, bool)
	// Runtime reports the vendor entry point once it is callable.
	Runtime() (Runtime, bool)
	// OpenWindow opens a secondary surface, used for the strong-authentication
	// continuation. The primary container is never reused for it.
	OpenWindow(url string) error
}
