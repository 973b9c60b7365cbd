// Package vpos talks to the storefront backend's payment endpoints: session
// creation for the embedded widget, card registration, token charges and the
// stored-card list. The backend itself fronts the vPOS provider; this client
// only sees the normalised `{success, data}` envelopes.
package vpos

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Customer is the immutable customer snapshot attached to a session.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"cell_phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
}

// Item is one cart line in the outgoing request. The widget never mutates it.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Device carries tracking/device metadata the backend attaches to a session.
type Device struct {
	UserAgent string `json:"user_agent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Session is the backend's answer to a session request. ProcessID is the
// opaque token the embedded form binds to; ShopProcessID is the merchant-side
// correlation id.
type Session struct {
	ProcessID     string `json:"process_id"`
	ShopProcessID string `json:"shop_process_id"`
}

// CardToken references a previously registered card. Owned by the backend;
// never stored here beyond the current operation.
type CardToken struct {
	AliasToken   string `json:"alias_token"`
	Brand        string `json:"brand"`
	MaskedNumber string `json:"masked_number"`
	Expiration   string `json:"expiration"`
}

// PaymentSessionRequest opens a payment session for the embedded form.
type PaymentSessionRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ShopProcessID string
	Customer      Customer
	Items         []Item
	Device        Device
}

// CardSessionRequest opens a card-capture (registration) session.
type CardSessionRequest struct {
	CardID        string `json:"card_id"`
	UserID        string `json:"user_id"`
	UserCellPhone string `json:"user_cell_phone"`
	UserMail      string `json:"user_mail"`
	ReturnURL     string `json:"return_url"`
}

// TokenChargeRequest submits a stored alias token for a direct charge.
type TokenChargeRequest struct {
	Amount        decimal.Decimal
	Currency      string
	AliasToken    string
	ShopProcessID string
	Customer      Customer
	Items         []Item
}

// TokenChargeResult is the normalised outcome of a token charge. A charge
// that is conditionally accepted pending strong authentication carries the
// continuation URL instead of a confirmation.
type TokenChargeResult struct {
	Approved      bool
	Requires3DS   bool
	IframeURL     string
	ShopProcessID string
	Message       string
	Confirmation  json.RawMessage
}

// BackendError is a backend rejection; Message is the backend's own wording,
// surfaced verbatim to the caller.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "vpos: backend request failed"
}
