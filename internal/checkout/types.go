// Package checkout drives the hosted payment widget end to end: session
// creation against the backend, vendor script and form lifecycle, message
// classification and exactly-once resolution back to the caller.
package checkout

import (
	"context"
	"encoding/json"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tiendapy/vpos-checkout/internal/vpos"
)

// Phase is the orchestrator's lifecycle position. Transitions only move
// forward; a terminal phase is never left.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequestingSession
	PhaseLoadingScript
	PhaseMountingForm
	PhaseAwaitingUser
	PhaseResolving
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseRequestingSession:
		return "REQUESTING_SESSION"
	case PhaseLoadingScript:
		return "LOADING_SCRIPT"
	case PhaseMountingForm:
		return "MOUNTING_FORM"
	case PhaseAwaitingUser:
		return "AWAITING_USER"
	case PhaseResolving:
		return "RESOLVING"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the terminal disposition reported through the callbacks.
type Outcome string

const (
	OutcomeApproved           Outcome = "APPROVED"
	OutcomeDeclined           Outcome = "DECLINED"
	OutcomeRequiresStrongAuth Outcome = "REQUIRES_STRONG_AUTH"
	OutcomeTransportError     Outcome = "TRANSPORT_ERROR"
	OutcomeCancelled          Outcome = "CANCELLED"
)

// Result is the successful resolution of a flow. A REQUIRES_STRONG_AUTH
// result is still a success from the orchestrator's point of view: the flow
// completed and handed control to the continuation surface.
type Result struct {
	Outcome         Outcome
	ShopProcessID   string
	Reason          string
	ContinuationURL string
	Confirmation    json.RawMessage
	Cards           []vpos.CardToken
}

// Callbacks is the caller-facing boundary. Exactly one of OnSuccess/OnError
// fires per started flow, always after teardown has completed. OnStart fires
// before any network call.
type Callbacks struct {
	OnStart   func()
	OnSuccess func(Result)
	OnError   func(*Error)
}

func (cb Callbacks) start() {
	if cb.OnStart != nil {
		cb.OnStart()
	}
}

// SessionBackend is the slice of the backend client the orchestrators need.
type SessionBackend interface {
	CreatePaymentSession(ctx context.Context, req vpos.PaymentSessionRequest) (vpos.Session, error)
	CreateCardSession(ctx context.Context, req vpos.CardSessionRequest) (vpos.Session, error)
	ChargeToken(ctx context.Context, req vpos.TokenChargeRequest) (vpos.TokenChargeResult, error)
	ListCards(ctx context.Context, userID string) ([]vpos.CardToken, error)
}

var validate = validator.New()

// PaymentRequest starts an embedded-form payment.
type PaymentRequest struct {
	Amount        decimal.Decimal
	Currency      string `validate:"required"`
	Description   string
	ShopProcessID string
	ContainerID   string `validate:"required"`
	Customer      vpos.Customer
	Items         []vpos.Item `validate:"min=1"`
	Device        vpos.Device
	Styles        map[string]string
}

func (r PaymentRequest) check() *Error {
	if err := validate.Struct(r); err != nil {
		return newError(KindValidation, "solicitud de pago incompleta", err)
	}
	if !r.Amount.IsPositive() {
		return newError(KindValidation, "el monto debe ser mayor a cero", nil)
	}
	if !strings.EqualFold(strings.TrimSpace(r.Currency), "PYG") {
		return newError(KindValidation, "moneda no soportada: "+r.Currency, nil)
	}
	if strings.TrimSpace(r.Customer.Name) == "" {
		return newError(KindValidation, "el nombre del cliente es obligatorio", nil)
	}
	for _, item := range r.Items {
		if item.Quantity <= 0 || !item.UnitPrice.IsPositive() {
			return newError(KindValidation, "ítem inválido: "+item.Name, nil)
		}
	}
	return nil
}

// RegistrationRequest starts a card-capture flow.
type RegistrationRequest struct {
	CardID      string `validate:"required"`
	UserID      string `validate:"required"`
	CellPhone   string
	Email       string `validate:"omitempty,email"`
	ReturnURL   string
	ContainerID string `validate:"required"`
	Styles      map[string]string
}

func (r RegistrationRequest) check() *Error {
	if err := validate.Struct(r); err != nil {
		return newError(KindValidation, "solicitud de registro incompleta", err)
	}
	return nil
}

// TokenPaymentRequest charges a stored card token directly, no widget on the
// primary attempt.
type TokenPaymentRequest struct {
	Amount        decimal.Decimal
	Currency      string `validate:"required"`
	AliasToken    string `validate:"required"`
	ShopProcessID string
	Customer      vpos.Customer
	Items         []vpos.Item `validate:"min=1"`
}

func (r TokenPaymentRequest) check() *Error {
	if err := validate.Struct(r); err != nil {
		return newError(KindValidation, "solicitud de cobro incompleta", err)
	}
	if !r.Amount.IsPositive() {
		return newError(KindValidation, "el monto debe ser mayor a cero", nil)
	}
	if !strings.EqualFold(strings.TrimSpace(r.Currency), "PYG") {
		return newError(KindValidation, "moneda no soportada: "+r.Currency, nil)
	}
	return nil
}
