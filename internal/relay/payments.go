package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tiendapy/vpos-checkout/internal/checkout"
	"github.com/tiendapy/vpos-checkout/internal/common"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
)

type tokenChargePayload struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	AliasToken    string          `json:"alias_token"`
	ShopProcessID string          `json:"shop_process_id"`
	Customer      vpos.Customer   `json:"customer_info"`
	Items         []vpos.Item     `json:"items"`
}

func (s *Server) handleTokenPayment(w http.ResponseWriter, r *http.Request) {
	var payload tokenChargePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed charge request", nil)
		return
	}

	result, cerr := s.TokenPay.Run(r.Context(), checkout.TokenPaymentRequest{
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		AliasToken:    payload.AliasToken,
		ShopProcessID: payload.ShopProcessID,
		Customer:      payload.Customer,
		Items:         payload.Items,
	})
	if cerr != nil {
		writeCheckoutError(w, cerr)
		return
	}

	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"outcome":          result.Outcome,
			"shop_process_id":  result.ShopProcessID,
			"continuation_url": result.ContinuationURL,
			"confirmation":     result.Confirmation,
		},
	})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	cards, err := s.Backend.ListCards(r.Context(), userID)
	if err != nil {
		var backendErr *vpos.BackendError
		if errors.As(err, &backendErr) && backendErr.StatusCode >= http.StatusBadRequest {
			common.JSONError(w, backendErr.StatusCode, "UPSTREAM", backendErr.Message, nil)
			return
		}
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM", "card list unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"cards": cards},
	})
}

// writeCheckoutError maps the orchestration taxonomy onto HTTP statuses. The
// message text travels unchanged so the shell can show the backend's wording.
func writeCheckoutError(w http.ResponseWriter, err *checkout.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case checkout.KindValidation:
		status = http.StatusBadRequest
	case checkout.KindDeclined:
		status = http.StatusPaymentRequired
	case checkout.KindTransport:
		status = http.StatusBadGateway
	case checkout.KindCancelled:
		status = http.StatusConflict
	}
	common.JSONError(w, status, string(err.Kind), err.Message, nil)
}
