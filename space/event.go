package space

import (
	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/quantum"
)

type EventKind string

const (
	Event_MessageAppended  EventKind = "message_appended"
	Event_MessageConfirmed EventKind = "message_confirmed"
	Event_MessageFailed    EventKind = "message_failed"
	Event_MessageRemoved   EventKind = "message_removed"
	Event_Reaction         EventKind = "reaction"
	Event_MorphPhase       EventKind = "morph_phase"
	Event_Suggestions      EventKind = "suggestions"
	Event_Quantum          EventKind = "quantum"
	Event_Collapse         EventKind = "collapse"
	Event_Members          EventKind = "members"
)

// Event is a state change of a space, pushed to subscribers.
type Event struct {
	SpaceID string    `json:"space_id"`
	Kind    EventKind `json:"kind"`

	Message *chatstore.Message `json:"message,omitempty"`

	// set with Event_MessageConfirmed for a local send, and with Event_MessageRemoved.
	ProvisionalID string `json:"provisional_id,omitempty"`

	Phase     morph.Phase  `json:"phase,omitempty"`
	From      morph.Type   `json:"from,omitempty"`
	To        morph.Type   `json:"to,omitempty"`
	Error     string       `json:"error,omitempty"`
	Suggested []morph.Type `json:"suggested,omitempty"`

	Quantum   *quantum.Event `json:"quantum,omitempty"`
	Entangled []int32        `json:"entangled,omitempty"`

	Members []int32 `json:"members,omitempty"`
}
