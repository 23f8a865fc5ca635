package models

// Event types published to the turn and control topics.
const (
	EventTypeUserTurn      = "conversation.turn.user"
	EventTypeAssistantTurn = "conversation.turn.assistant"
	EventTypeInterruption  = "conversation.interruption"
)

// TurnEvent represents one completed user or assistant turn.
type TurnEvent struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
	TurnID         string `json:"turnId"`
	Role           string `json:"role"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
	// LatencyMs is the time to the first response chunk for assistant turns.
	LatencyMs float64 `json:"latencyMs,omitempty"`
}

// InterruptionEvent represents a barge-in that cancelled assistant output.
type InterruptionEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId,omitempty"`
	// Source is what detected the barge-in: vad, transcript or manual.
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}
