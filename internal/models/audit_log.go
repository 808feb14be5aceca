package models

import (
	"time"
)

// AuditLog is a structured action record accepted by the audit sink.
type AuditLog struct {
	ID           string         `json:"id"`
	ActorID      *int64         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	BeforeValues map[string]any `json:"before_values,omitempty"`
	AfterValues  map[string]any `json:"after_values,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
