package logging

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"
)

type Fields struct {
	Service        string `json:"service"`
	OrderID        int64  `json:"order_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	CaptureID      string `json:"capture_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	Env            string `json:"env,omitempty"`
	Step           string `json:"step,omitempty"`
	Status         string `json:"status,omitempty"`
	DurationMS     int64  `json:"duration_ms,omitempty"`
	Message        string `json:"message,omitempty"`
}

var debugEnabled atomic.Bool

// SetDebug toggles step-level checkout logging (DEBUG_LOG env in the services).
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

func Log(fields Fields) {
	payload := map[string]any{
		"service":          fields.Service,
		"order_id":         fields.OrderID,
		"gateway_order_id": fields.GatewayOrderID,
		"capture_id":       fields.CaptureID,
		"event_id":         fields.EventID,
		"env":              fields.Env,
		"step":             fields.Step,
		"status":           fields.Status,
		"duration_ms":      fields.DurationMS,
		"message":          fields.Message,
		"timestamp":        time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}

// Debug logs only when step-level logging is enabled.
func Debug(fields Fields) {
	if !debugEnabled.Load() {
		return
	}
	Log(fields)
}
