package checkout

import (
	"context"
	"errors"

	"github.com/tiendapy/vpos-checkout/internal/vpos"
	"github.com/tiendapy/vpos-checkout/internal/widget"
)

// Kind classifies a terminal checkout error.
type Kind string

const (
	// KindValidation is a local, pre-network failure. Never retried.
	KindValidation Kind = "VALIDATION"
	// KindTransport is a network or backend rejection.
	KindTransport Kind = "TRANSPORT"
	// KindScriptLoad is an exhausted vendor script load.
	KindScriptLoad Kind = "SCRIPT_LOAD"
	// KindMount is an exhausted form mount.
	KindMount Kind = "MOUNT"
	// KindPrecondition marks a programmer error in the mounting sequence.
	KindPrecondition Kind = "PRECONDITION"
	// KindDeclined is an explicit rejection by the backend or vendor.
	KindDeclined Kind = "DECLINED"
	// KindCancelled is the caller closing the flow before resolution.
	KindCancelled Kind = "CANCELLED"
)

// Error is the normalised failure handed to the caller's OnError callback.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the UI should offer a retry affordance.
func (e *Error) Retryable() bool {
	return e.Kind == KindScriptLoad || e.Kind == KindMount
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

const genericTransportMessage = "no pudimos contactar al servidor de pagos, verifique su conexión"

// reclassify funnels every async boundary failure into the taxonomy. Backend
// messages are surfaced verbatim; everything else gets a generic message.
func reclassify(err error) *Error {
	var checkoutErr *Error
	if errors.As(err, &checkoutErr) {
		return checkoutErr
	}
	var backendErr *vpos.BackendError
	if errors.As(err, &backendErr) {
		msg := backendErr.Message
		if msg == "" {
			msg = genericTransportMessage
		}
		return newError(KindTransport, msg, err)
	}
	var loadErr *widget.ScriptLoadError
	if errors.As(err, &loadErr) {
		return newError(KindScriptLoad, "no se pudo cargar el formulario de pago", err)
	}
	var mountErr *widget.MountError
	if errors.As(err, &mountErr) {
		return newError(KindMount, "no se pudo mostrar el formulario de pago", err)
	}
	var preErr *widget.PreconditionError
	if errors.As(err, &preErr) {
		return newError(KindPrecondition, preErr.Reason, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindCancelled, "operación cancelada", err)
	}
	return newError(KindTransport, genericTransportMessage, err)
}
