// Package live implements the client-facing fan-out surface (§4.7): a
// gorilla/websocket hub that rooms connections by user and by
// instrument, broadcasting ticks and alert lifecycle events, grounded
// on the teacher corpus's hub.go broadcast-channel/register pattern.
package live

import (
	"encoding/json"
	"time"

	"github.com/stockpulse/alert-engine/internal/domain"
)

// EventType names the outbound frame kinds a session can receive.
type EventType string

const (
	EventTick                EventType = "tick"
	EventAlertStatusUpdated  EventType = "alert_status_updated"
	EventAlertTriggered      EventType = "alert_triggered"
	EventReconnected         EventType = "ws-reconnected"
)

// CommandType names the inbound frame kinds a session can send.
type CommandType string

const (
	CommandAddStock    CommandType = "addStock"
	CommandRemoveStock CommandType = "removeStock"
)

// outboundFrame is the envelope every server-to-client message shares.
type outboundFrame struct {
	Type      EventType   `json:"type"`
	Symbol    domain.Symbol `json:"symbol,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Alert     interface{} `json:"alert,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// inboundCommand is the envelope every client-to-server message shares.
type inboundCommand struct {
	Type   CommandType   `json:"type"`
	Symbol domain.Symbol `json:"symbol"`
}

func encodeTick(sym domain.Symbol, fields map[string]string) ([]byte, error) {
	return json.Marshal(outboundFrame{Type: EventTick, Symbol: sym, Fields: fields, Timestamp: time.Now()})
}

func encodeAlertStatusUpdated(payload domain.AlertStatusPayload) ([]byte, error) {
	return json.Marshal(outboundFrame{Type: EventAlertStatusUpdated, Alert: payload, Timestamp: time.Now()})
}

func encodeAlertTriggered(payload domain.AlertTriggeredPayload) ([]byte, error) {
	return json.Marshal(outboundFrame{Type: EventAlertTriggered, Alert: payload, Timestamp: time.Now()})
}

func encodeReconnected() ([]byte, error) {
	return json.Marshal(outboundFrame{Type: EventReconnected, Timestamp: time.Now()})
}
