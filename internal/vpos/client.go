package vpos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tiendapy/vpos-checkout/internal/resilience"
)

// Client calls the storefront backend's payment endpoints.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Log     zerolog.Logger
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreatePaymentSession asks the backend to open a payment session. A missing
// ShopProcessID is generated client-side so every session has a merchant-side
// correlation id.
func (c *Client) CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (Session, error) {
	ctx, span := otel.Tracer("vpos.Client").Start(ctx, "vpos.CreatePaymentSession")
	defer span.End()

	if strings.TrimSpace(req.ShopProcessID) == "" {
		req.ShopProcessID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("vpos.shop_process_id", req.ShopProcessID),
		attribute.String("vpos.currency", req.Currency),
	)

	payload := map[string]any{
		"amount":          req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"description":     req.Description,
		"shop_process_id": req.ShopProcessID,
		"customer_info":   req.Customer,
		"items":           wireItems(req.Items),
		"device":          req.Device,
	}

	var session Session
	if err := c.post(ctx, "/payments/session", payload, &session); err != nil {
		span.RecordError(err)
		return Session{}, err
	}
	if strings.TrimSpace(session.ProcessID) == "" {
		return Session{}, &BackendError{Message: "session response missing process id"}
	}
	if session.ShopProcessID == "" {
		session.ShopProcessID = req.ShopProcessID
	}
	return session, nil
}

// CreateCardSession asks the backend to open a card-capture session.
func (c *Client) CreateCardSession(ctx context.Context, req CardSessionRequest) (Session, error) {
	ctx, span := otel.Tracer("vpos.Client").Start(ctx, "vpos.CreateCardSession")
	defer span.End()

	var session Session
	if err := c.post(ctx, "/cards/session", req, &session); err != nil {
		span.RecordError(err)
		return Session{}, err
	}
	if strings.TrimSpace(session.ProcessID) == "" {
		return Session{}, &BackendError{Message: "session response missing process id"}
	}
	return session, nil
}

type chargeData struct {
	Operation           json.RawMessage `json:"operation"`
	Confirmation        json.RawMessage `json:"confirmation"`
	TransactionApproved *bool           `json:"transaction_approved"`
	IframeURL           string          `json:"iframe_url"`
	ShopProcessID       string          `json:"shop_process_id"`
	Message             string          `json:"message"`
}

type chargeEnvelope struct {
	envelope
	Requires3DS bool `json:"requires_3ds"`
}

// ChargeToken submits a stored token directly. A declined charge is a result,
// not an error; only transport and backend rejections error out.
func (c *Client) ChargeToken(ctx context.Context, req TokenChargeRequest) (TokenChargeResult, error) {
	ctx, span := otel.Tracer("vpos.Client").Start(ctx, "vpos.ChargeToken")
	defer span.End()

	if strings.TrimSpace(req.AliasToken) == "" {
		return TokenChargeResult{}, &BackendError{Message: "alias token is required"}
	}
	if strings.TrimSpace(req.ShopProcessID) == "" {
		req.ShopProcessID = uuid.NewString()
	}

	payload := map[string]any{
		"amount":          req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"alias_token":     req.AliasToken,
		"shop_process_id": req.ShopProcessID,
		"customer_info":   req.Customer,
		"items":           wireItems(req.Items),
	}

	body, status, err := c.roundTrip(ctx, http.MethodPost, "/payments/token-charge", payload)
	if err != nil {
		span.RecordError(err)
		return TokenChargeResult{}, err
	}

	var env chargeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TokenChargeResult{}, fmt.Errorf("vpos: decode charge response: %w", err)
	}
	if status >= http.StatusBadRequest || (!env.Success && !env.Requires3DS) {
		return TokenChargeResult{}, &BackendError{StatusCode: status, Message: env.Message}
	}

	var data chargeData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return TokenChargeResult{}, fmt.Errorf("vpos: decode charge data: %w", err)
		}
	}

	result := TokenChargeResult{
		Requires3DS:   env.Requires3DS,
		IframeURL:     data.IframeURL,
		ShopProcessID: data.ShopProcessID,
		Message:       data.Message,
	}
	if result.ShopProcessID == "" {
		result.ShopProcessID = req.ShopProcessID
	}
	if env.Requires3DS {
		if strings.TrimSpace(data.IframeURL) == "" {
			return TokenChargeResult{}, &BackendError{Message: "3ds continuation missing iframe url"}
		}
		span.SetAttributes(attribute.Bool("vpos.requires_3ds", true))
		return result, nil
	}

	result.Confirmation = data.Confirmation
	if len(result.Confirmation) == 0 {
		result.Confirmation = data.Operation
	}
	result.Approved = data.TransactionApproved != nil && *data.TransactionApproved
	return result, nil
}

type cardList struct {
	Cards []CardToken `json:"cards"`
}

// ListCards fetches the user's registered cards.
func (c *Client) ListCards(ctx context.Context, userID string) ([]CardToken, error) {
	ctx, span := otel.Tracer("vpos.Client").Start(ctx, "vpos.ListCards")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("vpos: user id is required")
	}
	body, status, err := c.roundTrip(ctx, http.MethodGet, "/users/"+userID+"/cards", nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("vpos: decode card list: %w", err)
	}
	if status >= http.StatusBadRequest || !env.Success {
		return nil, &BackendError{StatusCode: status, Message: env.Message}
	}
	var list cardList
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &list); err != nil {
			return nil, fmt.Errorf("vpos: decode card list: %w", err)
		}
	}
	return list.Cards, nil
}

// post sends the payload and decodes the envelope's data into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, status, err := c.roundTrip(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("vpos: decode response: %w", err)
	}
	if status >= http.StatusBadRequest || !env.Success {
		return &BackendError{StatusCode: status, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("vpos: decode response data: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("vpos: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		c.Log.Warn().Err(err).Str("path", path).Msg("backend request failed")
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// wireItems formats unit prices the way the backend expects them.
func wireItems(items []Item) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"product_id": item.ProductID,
			"name":       item.Name,
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice.StringFixed(2),
		})
	}
	return out
}
