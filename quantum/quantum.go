package quantum

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

type Kind string

const (
	Kind_Echo          Kind = "echo"
	Kind_Synchronicity Kind = "synchronicity"
	Kind_Breakthrough  Kind = "breakthrough"
	Kind_Entanglement  Kind = "entanglement"
)

const DefaultMaxEvents = 64

var (
	entanglementOutcomes = []string{"synced-cursor", "shared-ideas", "mirror-actions"}
	echoOutcomes         = []string{"happy-memory", "lesson-learned", "inspiration"}

	defaultEchoData = json.RawMessage(`{"message":"a moment from the past resurfaces"}`)

	ErrInvalidEvent = errors.New("invalid quantum event")
)

// Event is a probabilistic event. Once collapsed it has exactly one superposition
// and probability 1.
type Event struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	Probability    float64         `json:"probability"`
	Superpositions []string        `json:"superpositions"`
	CreatedAt      time.Time       `json:"create_time"`
}

func (e *Event) Collapsed() bool {
	return len(e.Superpositions) == 1 && e.Probability == 1
}

func (e *Event) clone() *Event {
	out := *e
	out.Superpositions = append([]string(nil), e.Superpositions...)
	return &out
}

// Engine holds the events and the entanglement set of one space.
// Events are kept most recent first, at most `maxEvents` of them.
// It is not safe for concurrent use, the owning space serializes access.
type Engine struct {
	maxEvents int
	now       func() time.Time
	counter   uint64
	events    []*Event
	entangled map[int32]struct{}
}

func NewEngine(maxEvents int) *Engine {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Engine{
		maxEvents: maxEvents,
		now:       time.Now,
		entangled: make(map[int32]struct{}),
	}
}

// SetClock replaces the clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CreateEntanglement links two users, re-adding a member is a no-op.
func (e *Engine) CreateEntanglement(userA, userB int32) *Event {
	e.entangled[userA] = struct{}{}
	e.entangled[userB] = struct{}{}

	data, _ := json.Marshal(map[string][]int32{"users": {userA, userB}})
	return e.add(Kind_Entanglement, data, 0.9, entanglementOutcomes)
}

// TriggerTimeEcho creates an echo event, `data` defaults to a generic memory.
func (e *Engine) TriggerTimeEcho(data json.RawMessage) *Event {
	if len(data) == 0 {
		data = defaultEchoData
	}
	return e.add(Kind_Echo, data, 0.7, echoOutcomes)
}

// Trigger creates an event of any kind with explicit probability and outcomes.
func (e *Engine) Trigger(kind Kind, data json.RawMessage, probability float64, superpositions []string) (*Event, error) {
	switch kind {
	case Kind_Echo, Kind_Synchronicity, Kind_Breakthrough, Kind_Entanglement:
	default:
		return nil, fmt.Errorf("%w: unknown type `%s`", ErrInvalidEvent, kind)
	}
	if !(probability > 0 && probability <= 1) {
		return nil, fmt.Errorf("%w: probability %v not in (0, 1]", ErrInvalidEvent, probability)
	}
	if len(superpositions) == 0 {
		return nil, fmt.Errorf("%w: empty superpositions", ErrInvalidEvent)
	}
	for _, s := range superpositions {
		if s == "" {
			return nil, fmt.Errorf("%w: empty superposition label", ErrInvalidEvent)
		}
	}
	if len(data) > 0 && !json.Valid(data) {
		return nil, fmt.Errorf("%w: data is not valid json", ErrInvalidEvent)
	}
	return e.add(kind, data, probability, superpositions), nil
}

// CollapseWaveFunction reduces the event to `choice`. Returns false if the event is unknown
// or the choice is empty. Collapsing again with another choice overwrites.
func (e *Engine) CollapseWaveFunction(eventID, choice string) (*Event, bool) {
	if choice == "" {
		return nil, false
	}
	for _, ev := range e.events {
		if ev.ID == eventID {
			ev.Superpositions = []string{choice}
			ev.Probability = 1
			return ev.clone(), true
		}
	}
	return nil, false
}

func (e *Engine) Get(eventID string) *Event {
	for _, ev := range e.events {
		if ev.ID == eventID {
			return ev.clone()
		}
	}
	return nil
}

// Events returns copies, most recent first.
func (e *Engine) Events() []*Event {
	out := make([]*Event, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.clone())
	}
	return out
}

// Entangled returns linked user ids in ascending order.
func (e *Engine) Entangled() []int32 {
	out := make([]int32, 0, len(e.entangled))
	for uid := range e.entangled {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) IsEntangled(uid int32) bool {
	_, ok := e.entangled[uid]
	return ok
}

func (e *Engine) add(kind Kind, data json.RawMessage, probability float64, superpositions []string) *Event {
	now := e.now()
	e.counter++
	ev := &Event{
		ID:             fmt.Sprintf("%d-%d", now.UnixNano(), e.counter),
		Kind:           kind,
		Data:           append(json.RawMessage(nil), data...),
		Probability:    probability,
		Superpositions: append([]string(nil), superpositions...),
		CreatedAt:      now,
	}

	if len(e.events) < e.maxEvents {
		e.events = append(e.events, nil)
	} else {
		// evict the oldest.
		e.events[len(e.events)-1] = nil
	}
	copy(e.events[1:], e.events[:len(e.events)-1])
	e.events[0] = ev
	return ev.clone()
}
