package chatstore

import (
	"fmt"
	"time"
)

type MsgType string

const (
	MsgType_Text  MsgType = "text"
	MsgType_Image MsgType = "image" // content is a relative media path
	MsgType_Voice MsgType = "voice" // content is a relative media path
)

type Status string

const (
	Status_Pending   Status = "pending"
	Status_Confirmed Status = "confirmed"
	Status_Failed    Status = "failed"
)

// MaxContentLen is the max number of characters of a message content, after trimming.
const MaxContentLen = 500

func (t MsgType) Valid() bool {
	switch t {
	case MsgType_Text, MsgType_Image, MsgType_Voice:
		return true
	}
	return false
}

// Draft is what a user submits before the message gets an id.
type Draft struct {
	Content string  `json:"content"`
	Type    MsgType `json:"type,omitempty"`
}

type Reaction struct {
	UserID   int32  `json:"uid"`
	Reaction string `json:"reaction"`
}

type Message struct {
	ID        string     `json:"id"`
	SpaceID   string     `json:"space_id"`
	AuthorID  int32      `json:"author_id"`
	Content   string     `json:"content"`
	Type      MsgType    `json:"type"`
	CreatedAt time.Time  `json:"create_time"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Status    Status     `json:"status"`
}

// Clone returns a deep copy, callers outside the log never share the reactions slice.
func (m *Message) Clone() *Message {
	out := *m
	if len(m.Reactions) > 0 {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return &out
}

func (m *Message) String() string {
	return fmt.Sprintf("{id: %s, space: %s, author: %d, type: %s, status: %s}", m.ID, m.SpaceID, m.AuthorID, m.Type, m.Status)
}

// ValidationError is returned when a draft is rejected before any append.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
