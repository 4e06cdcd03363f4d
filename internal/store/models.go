package store

import (
	"encoding/json"
	"time"
)

type EventAction string

const (
	ActionSubmitted EventAction = "submitted"
	ActionRevised   EventAction = "revised"
	ActionApproved  EventAction = "approved"
	ActionRejected  EventAction = "rejected"
	ActionDuplicate EventAction = "duplicate"
)

// ReviewEvent is one row of the append-only audit log.
type ReviewEvent struct {
	ID        int64           `json:"id"`
	Project   string          `json:"project"`
	Version   string          `json:"version"`
	Action    EventAction     `json:"action"`
	Actor     string          `json:"actor"`
	TopicID   int64           `json:"topicId"`
	PostID    int64           `json:"postId"`
	Revision  *int            `json:"revision,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
