package server

import (
	"github.com/mohammad-safakhou/artha/internal/consensus"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// LoginRequest carries the phone number registered with the data provider.
type LoginRequest struct {
	Phone string `json:"phone"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// AskRequest is the body of POST /api/consensus.
type AskRequest struct {
	Query        string             `json:"query"`
	Producers    []string           `json:"producers,omitempty"`
	Hints        map[string]float64 `json:"hints,omitempty"`
	ForceRefresh bool               `json:"force_refresh,omitempty"`
}

// AskResponse wraps a result with its rendered transparency block.
type AskResponse struct {
	Result       *consensus.Result `json:"result"`
	Transparency string            `json:"transparency"`
}

// ProducerInfo describes a registered producer.
type ProducerInfo struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags"`
	AlwaysActive   bool     `json:"always_active,omitempty"`
	AlwaysRelevant bool     `json:"always_relevant,omitempty"`
	Timeout        string   `json:"timeout,omitempty"`
}
