package checkout

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/obs"
	"github.com/tiendapy/vpos-checkout/internal/page"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
)

// TokenPayment charges a stored card token. The primary attempt never touches
// the widget: no script, no mount, a single backend call. Only when the issuer
// demands strong authentication does a rendering surface appear, and then as a
// secondary window, never the primary container.
type TokenPayment struct {
	Backend SessionBackend
	Page    page.Page
	Log     zerolog.Logger
}

// Run performs the charge and returns the terminal result. A declined charge
// is returned as a DECLINED error carrying the backend's wording; a pending
// strong-authentication fork is a successful result with a continuation URL.
func (t *TokenPayment) Run(ctx context.Context, req TokenPaymentRequest) (Result, *Error) {
	if verr := req.check(); verr != nil {
		obs.CountOutcome("token_payment", string(verr.Kind))
		return Result{}, verr
	}

	res, err := t.Backend.ChargeToken(ctx, vpos.TokenChargeRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		AliasToken:    req.AliasToken,
		ShopProcessID: req.ShopProcessID,
		Customer:      req.Customer,
		Items:         req.Items,
	})
	if err != nil {
		cerr := reclassify(err)
		obs.CountOutcome("token_payment", string(cerr.Kind))
		return Result{}, cerr
	}

	switch {
	case res.Requires3DS:
		if t.Page != nil {
			if werr := t.Page.OpenWindow(res.IframeURL); werr != nil {
				t.Log.Warn().Err(werr).Msg("could not open strong-auth surface")
			}
		}
		obs.CountOutcome("token_payment", string(OutcomeRequiresStrongAuth))
		return Result{
			Outcome:         OutcomeRequiresStrongAuth,
			ShopProcessID:   res.ShopProcessID,
			ContinuationURL: res.IframeURL,
		}, nil
	case res.Approved:
		obs.CountOutcome("token_payment", string(OutcomeApproved))
		return Result{
			Outcome:       OutcomeApproved,
			ShopProcessID: res.ShopProcessID,
			Confirmation:  res.Confirmation,
		}, nil
	default:
		reason := res.Message
		if strings.TrimSpace(reason) == "" {
			reason = "el pago fue rechazado"
		}
		obs.CountOutcome("token_payment", string(OutcomeDeclined))
		return Result{}, newError(KindDeclined, reason, nil)
	}
}

// Start is the callback form of Run, matching the widget orchestrators'
// boundary. Exactly one of the callbacks fires.
func (t *TokenPayment) Start(ctx context.Context, req TokenPaymentRequest, cb Callbacks) {
	cb.start()
	result, err := t.Run(ctx, req)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}
	if cb.OnSuccess != nil {
		cb.OnSuccess(result)
	}
}
