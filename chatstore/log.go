package chatstore

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pborman/uuid"
)

const provisionalPrefix = "local-"

// MessageLog is the ordered, append-only message store of one space.
// Order is local insertion order, server timestamps never re-sort it.
// It is not safe for concurrent use, the owning space serializes access.
type MessageLog struct {
	spaceID string
	// 0 means unbounded.
	maxMessages int
	now         func() time.Time
	msgs        []*Message
}

func NewMessageLog(spaceID string, maxMessages int) *MessageLog {
	return &MessageLog{
		spaceID:     spaceID,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// SetClock replaces the clock, for tests.
func (l *MessageLog) SetClock(now func() time.Time) {
	l.now = now
}

// ValidateDraft checks and normalizes the draft: content is trimmed and type defaults to text.
func ValidateDraft(d Draft) (Draft, error) {
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return d, &ValidationError{Field: "content", Reason: "empty"}
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLen {
		return d, &ValidationError{Field: "content", Reason: "exceeds 500 characters"}
	}
	typ := d.Type
	if typ == "" {
		typ = MsgType_Text
	} else if !typ.Valid() {
		return d, &ValidationError{Field: "type", Reason: "expect one of text, image, voice"}
	}
	return Draft{Content: content, Type: typ}, nil
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// Append inserts a pending message at the tail for optimistic display.
func (l *MessageLog) Append(authorID int32, d Draft) (*Message, error) {
	d, err := ValidateDraft(d)
	if err != nil {
		return nil, err
	}

	createdAt := l.now()
	if n := len(l.msgs); n > 0 && createdAt.Before(l.msgs[n-1].CreatedAt) {
		createdAt = l.msgs[n-1].CreatedAt
	}

	m := &Message{
		ID:        provisionalPrefix + strings.ReplaceAll(uuid.New(), "-", ""),
		SpaceID:   l.spaceID,
		AuthorID:  authorID,
		Content:   d.Content,
		Type:      d.Type,
		CreatedAt: createdAt,
		Status:    Status_Pending,
	}
	l.push(m)
	return m.Clone(), nil
}

// Reconcile replaces the pending entry `provisionalID` with server confirmed values.
// Returns false if there is no such pending entry.
func (l *MessageLog) Reconcile(provisionalID string, server *Message) bool {
	m := l.find(provisionalID)
	if m == nil || m.Status != Status_Pending || server == nil {
		return false
	}
	m.ID = server.ID
	m.AuthorID = server.AuthorID
	m.Content = server.Content
	m.Type = server.Type
	if !server.CreatedAt.IsZero() {
		m.CreatedAt = server.CreatedAt
	}
	if len(server.Reactions) > 0 {
		m.Reactions = append([]Reaction(nil), server.Reactions...)
	}
	m.Status = Status_Confirmed
	l.trim()
	return true
}

// MarkFailed sets a pending entry as failed, the entry stays for retry or removal.
func (l *MessageLog) MarkFailed(provisionalID string) bool {
	m := l.find(provisionalID)
	if m == nil || m.Status != Status_Pending {
		return false
	}
	m.Status = Status_Failed
	return true
}

// Observe inserts a message confirmed elsewhere, e.g. by another node.
func (l *MessageLog) Observe(msg *Message) bool {
	if msg == nil || msg.ID == "" || l.find(msg.ID) != nil {
		return false
	}
	m := msg.Clone()
	m.SpaceID = l.spaceID
	m.Status = Status_Confirmed
	if n := len(l.msgs); n > 0 && m.CreatedAt.Before(l.msgs[n-1].CreatedAt) {
		m.CreatedAt = l.msgs[n-1].CreatedAt
	}
	l.push(m)
	return true
}

// Remove deletes a failed entry.
func (l *MessageLog) Remove(id string) bool {
	for i, m := range l.msgs {
		if m.ID == id {
			if m.Status != Status_Failed {
				return false
			}
			l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// React appends a raw reaction, duplicates are kept.
func (l *MessageLog) React(id string, uid int32, reaction string) (*Message, bool) {
	m := l.find(id)
	if m == nil || reaction == "" {
		return nil, false
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: uid, Reaction: reaction})
	return m.Clone(), true
}

func (l *MessageLog) Get(id string) *Message {
	if m := l.find(id); m != nil {
		return m.Clone()
	}
	return nil
}

// Messages returns copies in insertion order.
func (l *MessageLog) Messages() []*Message {
	out := make([]*Message, 0, len(l.msgs))
	for _, m := range l.msgs {
		out = append(out, m.Clone())
	}
	return out
}

func (l *MessageLog) Len() int {
	return len(l.msgs)
}

func (l *MessageLog) find(id string) *Message {
	// recent entries are looked up most.
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].ID == id {
			return l.msgs[i]
		}
	}
	return nil
}

func (l *MessageLog) push(m *Message) {
	l.msgs = append(l.msgs, m)
	l.trim()
}

// trim drops the oldest confirmed entries beyond max, pending and failed ones are kept.
func (l *MessageLog) trim() {
	if l.maxMessages <= 0 || len(l.msgs) <= l.maxMessages {
		return
	}
	excess := len(l.msgs) - l.maxMessages
	kept := l.msgs[:0]
	for _, m := range l.msgs {
		if excess > 0 && m.Status == Status_Confirmed {
			excess--
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(l.msgs); i++ {
		l.msgs[i] = nil
	}
	l.msgs = kept
}
