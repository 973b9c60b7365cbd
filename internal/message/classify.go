// Package message parses and classifies the widget's cross-origin message
// stream into a closed set of outcomes.
package message

import (
	"encoding/json"
	"strings"
)

// Outcome is the terminal classification of a session.
type Outcome string

// Possible outcomes. Cancelled is never produced by classification; it exists
// for the orchestrators' teardown path.
const (
	OutcomeApproved           Outcome = "APPROVED"
	OutcomeDeclined           Outcome = "DECLINED"
	OutcomeRequiresStrongAuth Outcome = "REQUIRES_STRONG_AUTH"
	OutcomeTransportError     Outcome = "TRANSPORT_ERROR"
	OutcomeCancelled          Outcome = "CANCELLED"
)

// Event is one classified protocol message.
type Event struct {
	Outcome       Outcome
	Terminal      bool
	Loaded        bool
	ShopProcessID string
	Reason        string
	Code          string
	IframeURL     string
	Raw           json.RawMessage
}

// payload covers the historical field names the vendor has used. Some
// environments send "type", others "status"; error details show up under
// several keys.
type payload struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Description   string `json:"description"`
	ReturnCode    string `json:"return_code"`
	ErrorCode     string `json:"error_code"`
	ShopProcessID string `json:"shop_process_id"`
	ProcessID     string `json:"process_id"`
	IframeURL     string `json:"iframe_url"`
}

func (p payload) tag() string {
	if t := strings.ToLower(strings.TrimSpace(p.Type)); t != "" {
		return t
	}
	return strings.ToLower(strings.TrimSpace(p.Status))
}

func (p payload) reason() string {
	if strings.TrimSpace(p.Message) != "" {
		return p.Message
	}
	return p.Description
}

func (p payload) code() string {
	if strings.TrimSpace(p.ReturnCode) != "" {
		return p.ReturnCode
	}
	return p.ErrorCode
}

// rule maps a family of tags to an event builder. Rules are evaluated in
// order; the first tag match wins.
type rule struct {
	tags  []string
	build func(p payload, raw json.RawMessage) Event
}

var rules = []rule{
	{
		tags: []string{"payment_success", "success", "add_new_card_success"},
		build: func(p payload, raw json.RawMessage) Event {
			return Event{Outcome: OutcomeApproved, Terminal: true, ShopProcessID: p.ShopProcessID, Raw: raw}
		},
	},
	{
		tags: []string{"3ds_required", "payment_3ds_required"},
		build: func(p payload, raw json.RawMessage) Event {
			return Event{Outcome: OutcomeRequiresStrongAuth, Terminal: true, ShopProcessID: p.ShopProcessID, IframeURL: p.IframeURL, Raw: raw}
		},
	},
	{
		tags: []string{"payment_fail", "add_new_card_fail", "error", "fail"},
		build: func(p payload, raw json.RawMessage) Event {
			ev := Event{Terminal: true, ShopProcessID: p.ShopProcessID, Reason: p.reason(), Code: p.code(), Raw: raw}
			if strings.TrimSpace(ev.Code) != "" {
				ev.Outcome = OutcomeDeclined
			} else {
				ev.Outcome = OutcomeTransportError
			}
			return ev
		},
	},
	{
		// The widget announces itself once rendered. Not a terminal outcome,
		// it only clears the "still waiting" flag.
		tags: []string{"loaded", "iframe_loaded", "payment_loaded"},
		build: func(p payload, raw json.RawMessage) Event {
			return Event{Loaded: true, Raw: raw}
		},
	},
}

// Classify parses a raw payload and maps it onto the outcome set. The second
// return value is false for anything that is not a protocol message: non-JSON
// noise, unrelated browser traffic, unknown tags. Those are ignored, never
// errors, because the channel is shared.
func Classify(raw json.RawMessage) (Event, bool) {
	p, normalized, ok := decode(raw)
	if !ok {
		return Event{}, false
	}
	tag := p.tag()
	if tag == "" {
		return Event{}, false
	}
	for _, r := range rules {
		for _, t := range r.tags {
			if t == tag {
				return r.build(p, normalized), true
			}
		}
	}
	return Event{}, false
}

// decode accepts either a structured JSON object or a JSON string wrapping
// one (both shapes are seen in the wild).
func decode(raw json.RawMessage) (payload, json.RawMessage, bool) {
	var p payload
	if err := json.Unmarshal(raw, &p); err == nil {
		// Guard against scalars: "success" alone unmarshals into nothing.
		if json.Valid(raw) && len(raw) > 0 && raw[0] == '{' {
			return p, raw, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return payload{}, nil, false
	}
	inner := json.RawMessage(s)
	if !json.Valid(inner) || len(inner) == 0 || inner[0] != '{' {
		return payload{}, nil, false
	}
	if err := json.Unmarshal(inner, &p); err != nil {
		return payload{}, nil, false
	}
	return p, inner, true
}
