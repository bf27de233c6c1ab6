package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage wraps a progress event for websocket subscribers
type WSProgressMessage struct {
	Type    string        `json:"type"`
	BatchID string        `json:"batchId"`
	Event   ProgressEvent `json:"event"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batchId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
