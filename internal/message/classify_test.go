package message_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiendapy/vpos-checkout/internal/message"
)

func TestClassifyOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    message.Outcome
		ignored bool
		loaded  bool
	}{
		{name: "status success", raw: `{"status":"success","shop_process_id":"xyz"}`, want: message.OutcomeApproved},
		{name: "payment success", raw: `{"type":"payment_success"}`, want: message.OutcomeApproved},
		{name: "card registered", raw: `{"type":"add_new_card_success"}`, want: message.OutcomeApproved},
		{name: "declined with code", raw: `{"type":"payment_fail","return_code":"12","message":"tarjeta rechazada"}`, want: message.OutcomeDeclined},
		{name: "error without code", raw: `{"status":"error","message":"connection lost"}`, want: message.OutcomeTransportError},
		{name: "three ds", raw: `{"type":"3ds_required","shop_process_id":"abc"}`, want: message.OutcomeRequiresStrongAuth},
		{name: "loaded is not terminal", raw: `{"type":"iframe_loaded"}`, loaded: true},
		{name: "string encoded payload", raw: `"{\"status\":\"success\",\"shop_process_id\":\"s1\"}"`, want: message.OutcomeApproved},
		{name: "non json noise", raw: `not even json`, ignored: true},
		{name: "unrelated browser message", raw: `{"source":"react-devtools"}`, ignored: true},
		{name: "plain string", raw: `"hello"`, ignored: true},
		{name: "array payload", raw: `[1,2,3]`, ignored: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := message.Classify(json.RawMessage(tc.raw))
			if tc.ignored {
				require.False(t, ok, "expected payload to be ignored")
				return
			}
			require.True(t, ok)
			if tc.loaded {
				require.True(t, ev.Loaded)
				require.False(t, ev.Terminal)
				return
			}
			require.True(t, ev.Terminal)
			require.Equal(t, tc.want, ev.Outcome)
		})
	}
}

func TestClassifyCarriesDetails(t *testing.T) {
	ev, ok := message.Classify(json.RawMessage(`{"status":"success","shop_process_id":"xyz"}`))
	require.True(t, ok)
	require.Equal(t, "xyz", ev.ShopProcessID)

	ev, ok = message.Classify(json.RawMessage(`{"type":"payment_fail","error_code":"51","description":"fondos insuficientes"}`))
	require.True(t, ok)
	require.Equal(t, message.OutcomeDeclined, ev.Outcome)
	require.Equal(t, "51", ev.Code)
	require.Equal(t, "fondos insuficientes", ev.Reason)
}

func TestTypeWinsOverStatus(t *testing.T) {
	ev, ok := message.Classify(json.RawMessage(`{"type":"payment_success","status":"error"}`))
	require.True(t, ok)
	require.Equal(t, message.OutcomeApproved, ev.Outcome)
}
