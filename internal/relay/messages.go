package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tiendapy/vpos-checkout/internal/common"
	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/obs"
)

// inboundMessage is what the webview posts for every widget message it sees.
// ID is a client-side correlation id; when present it powers replay
// protection, because the vendor is known to deliver duplicates.
type inboundMessage struct {
	ID     string          `json:"id"`
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.countRelay("invalid")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed message envelope", nil)
		return
	}
	if len(msg.Data) == 0 {
		s.countRelay("invalid")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "message data is required", nil)
		return
	}

	if msg.ID != "" && s.Redis != nil {
		key := dedupeKey(msg.ID)
		fresh, err := s.Redis.SetNX(r.Context(), key, "seen", s.dedupeTTL()).Result()
		if err != nil {
			s.Log.Warn().Err(err).Msg("replay guard unavailable, accepting message")
		} else if !fresh {
			s.countRelay("duplicate")
			common.JSON(w, http.StatusAccepted, map[string]any{"accepted": false, "duplicate": true})
			return
		}
	}

	s.Bus.Publish(events.Message{
		Origin:     msg.Origin,
		Data:       msg.Data,
		ReceivedAt: time.Now(),
	})
	s.countRelay("accepted")
	common.JSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) countRelay(result string) {
	if obs.RelayMessageTotal != nil {
		obs.RelayMessageTotal.WithLabelValues(result).Inc()
	}
}

func dedupeKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "relay:msg:" + hex.EncodeToString(sum[:])
}
