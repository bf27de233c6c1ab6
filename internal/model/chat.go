package model

// Chat event types
const (
	ChatEventStatus        = "status"
	ChatEventTranscription = "transcription"
	ChatEventText          = "text"
	ChatEventAudio         = "audio"
	ChatEventError         = "error"
)

// QueryType is the routing decision for a chat query
type QueryType string

const (
	QueryNormal    QueryType = "NORMAL"
	QueryRetrieval QueryType = "RETRIEVAL"
)

// ChatRequest is the body of POST /api/chat/text
type ChatRequest struct {
	Query string `json:"query" validate:"required,min=1,max=4000"`
}

// ChatEvent is one server-sent event of a chat response
type ChatEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
