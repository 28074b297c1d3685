package idempotency

import (
	"encoding/json"
	"time"
)

// Status of an idempotency record.
type Status string

const (
	StatusInFlight  Status = "in_flight"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record remembers one logical request under its key until ExpiresAt.
type Record struct {
	Key           string          `json:"key"`
	Operation     string          `json:"operation"`
	RequestHash   string          `json:"request_hash"`
	Status        Status          `json:"status"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// NewInFlight creates the record a first request reserves.
func NewInFlight(key, operation, requestHash string, ttl time.Duration) *Record {
	now := time.Now().UTC()
	return &Record{
		Key:         key,
		Operation:   operation,
		RequestHash: requestHash,
		Status:      StatusInFlight,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Matches reports whether another request is the same logical request.
func (r *Record) Matches(operation, requestHash string) bool {
	return r.Operation == operation && r.RequestHash == requestHash
}

// Expired reports whether the record is past its retention window.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
