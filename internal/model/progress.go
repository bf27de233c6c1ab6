package model

// ProgressEvent is a transient notification about a batch. It is also the
// JSON shape of every status stream message.
type ProgressEvent struct {
	UserID   string      `json:"user_id"`
	Status   BatchStatus `json:"status"`
	Progress int         `json:"progress"`
	Details  string      `json:"details,omitempty"`
}

// Terminal reports whether the event closes a status stream
func (e ProgressEvent) Terminal() bool {
	return e.Status.IsTerminal()
}

// FailedEvent builds the event published when a batch fails
func FailedEvent(userID, details string) ProgressEvent {
	return ProgressEvent{
		UserID:   userID,
		Status:   BatchStatusFailed,
		Progress: 0,
		Details:  details,
	}
}
