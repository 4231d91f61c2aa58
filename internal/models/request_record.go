package models

import "time"

// RequestRecord is one observed request, captured on completion.
// Immutable once created.
type RequestRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	ClientAddr   string        `json:"client_addr"`
	Status       int           `json:"status"`
	Latency      time.Duration `json:"latency_ms"`
	UserAgent    string        `json:"user_agent"`
	ResponseSize int64         `json:"response_size"`
}
