package vpos_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tiendapy/vpos-checkout/internal/resilience"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
)

func newClient(srv *httptest.Server) *vpos.Client {
	return &vpos.Client{
		BaseURL: srv.URL,
		HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, BaseBackoff: time.Millisecond},
		Log:     zerolog.Nop(),
	}
}

func TestCreatePaymentSession(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/session", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"process_id": "abc123", "shop_process_id": "sp-1"},
		})
	}))
	defer srv.Close()

	session, err := newClient(srv).CreatePaymentSession(context.Background(), vpos.PaymentSessionRequest{
		Amount:        decimal.NewFromInt(150000),
		Currency:      "PYG",
		Description:   "compra online",
		ShopProcessID: "sp-1",
		Customer:      vpos.Customer{Name: "Ana Benítez"},
		Items: []vpos.Item{
			{ProductID: "p1", Name: "libro", Quantity: 2, UnitPrice: decimal.NewFromInt(75000)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "abc123", session.ProcessID)
	require.Equal(t, "sp-1", session.ShopProcessID)

	// Amount goes over the wire with two decimals.
	require.Equal(t, "150000.00", got["amount"])
	items := got["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "75000.00", items[0].(map[string]any)["unit_price"])
}

func TestCreatePaymentSessionGeneratesShopReference(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"process_id": "abc123"},
		})
	}))
	defer srv.Close()

	session, err := newClient(srv).CreatePaymentSession(context.Background(), vpos.PaymentSessionRequest{
		Amount:   decimal.NewFromInt(1000),
		Currency: "PYG",
		Customer: vpos.Customer{Name: "Ana"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, got["shop_process_id"], "client must generate a correlation id when absent")
	require.Equal(t, got["shop_process_id"], session.ShopProcessID)
}

func TestCreatePaymentSessionBackendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "monto inválido"})
	}))
	defer srv.Close()

	_, err := newClient(srv).CreatePaymentSession(context.Background(), vpos.PaymentSessionRequest{
		Amount: decimal.NewFromInt(10), Currency: "PYG",
	})
	var backendErr *vpos.BackendError
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, "monto inválido", backendErr.Message)
}

func TestCreatePaymentSessionMissingProcessID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
	}))
	defer srv.Close()

	_, err := newClient(srv).CreatePaymentSession(context.Background(), vpos.PaymentSessionRequest{
		Amount: decimal.NewFromInt(10), Currency: "PYG",
	})
	var backendErr *vpos.BackendError
	require.ErrorAs(t, err, &backendErr)
}

func TestCreateCardSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cards/session", r.URL.Path)
		var req vpos.CardSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "user-9", req.UserID)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"process_id": "reg-7"},
		})
	}))
	defer srv.Close()

	session, err := newClient(srv).CreateCardSession(context.Background(), vpos.CardSessionRequest{
		CardID: "c1", UserID: "user-9", UserMail: "ana@example.com", ReturnURL: "https://shop.example/perfil",
	})
	require.NoError(t, err)
	require.Equal(t, "reg-7", session.ProcessID)
}

func TestChargeTokenApproved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/token-charge", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"transaction_approved": true,
				"confirmation":         map[string]any{"authorization_number": "123456"},
				"shop_process_id":      "sp-3",
			},
		})
	}))
	defer srv.Close()

	result, err := newClient(srv).ChargeToken(context.Background(), vpos.TokenChargeRequest{
		Amount: decimal.NewFromInt(50000), Currency: "PYG", AliasToken: "alias-1",
	})
	require.NoError(t, err)
	require.True(t, result.Approved)
	require.False(t, result.Requires3DS)
	require.Equal(t, "sp-3", result.ShopProcessID)
	require.JSONEq(t, `{"authorization_number":"123456"}`, string(result.Confirmation))
}

func TestChargeTokenDeclinedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"transaction_approved": false,
				"message":              "tarjeta vencida",
			},
		})
	}))
	defer srv.Close()

	result, err := newClient(srv).ChargeToken(context.Background(), vpos.TokenChargeRequest{
		Amount: decimal.NewFromInt(50000), Currency: "PYG", AliasToken: "alias-1",
	})
	require.NoError(t, err)
	require.False(t, result.Approved)
	require.Equal(t, "tarjeta vencida", result.Message)
}

func TestChargeTokenRequires3DS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":      false,
			"requires_3ds": true,
			"data":         map[string]any{"iframe_url": "https://vpos.example/3ds/42"},
		})
	}))
	defer srv.Close()

	result, err := newClient(srv).ChargeToken(context.Background(), vpos.TokenChargeRequest{
		Amount: decimal.NewFromInt(50000), Currency: "PYG", AliasToken: "alias-1",
	})
	require.NoError(t, err)
	require.True(t, result.Requires3DS)
	require.Equal(t, "https://vpos.example/3ds/42", result.IframeURL)
}

func TestListCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/user-9/cards", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{"cards": []map[string]any{
				{"alias_token": "alias-1", "brand": "VISA", "masked_number": "****1111", "expiration": "12/27"},
			}},
		})
	}))
	defer srv.Close()

	cards, err := newClient(srv).ListCards(context.Background(), "user-9")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, "alias-1", cards[0].AliasToken)
	require.Equal(t, "****1111", cards[0].MaskedNumber)
}
