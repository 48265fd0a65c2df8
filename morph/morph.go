package morph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/minispace/analysis"
	"github.com/mqy/minispace/store"
)

type Type string

const (
	Whiteboard   Type = "whiteboard"
	Meeting      Type = "meeting"
	Brainstorm   Type = "brainstorm"
	Document     Type = "document"
	VoiceChannel Type = "voice_channel"
)

var (
	ErrConcurrentMorph = errors.New("morph already in progress")
	ErrUnknownType     = errors.New("unknown space type")
)

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Whiteboard, Meeting, Brainstorm, Document, VoiceChannel:
		return t, nil
	}
	return "", fmt.Errorf("%w: `%s`", ErrUnknownType, s)
}

type State int

const (
	Idle State = iota
	Suggesting
	AwaitingChoice
	Morphing
	Settled // transient, advances to Idle right after confirm.
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Suggesting:
		return "suggesting"
	case AwaitingChoice:
		return "awaiting_choice"
	case Morphing:
		return "morphing"
	case Settled:
		return "settled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Phase string

const (
	PhaseBegin   Phase = "begin"
	PhasePersist Phase = "persist"
	PhaseConfirm Phase = "confirm"
	PhaseAbort   Phase = "abort"
)

// PhaseEvent is delivered to listeners on each step of a morph.
type PhaseEvent struct {
	SpaceID string
	Phase   Phase
	From    Type
	To      Type
	Err     error // set on PhaseAbort.
}

// Persister is the part of store.ISpaceStore a morph needs.
type Persister interface {
	UpdateSpace(ctx context.Context, spaceID, spaceType string) error
}

const suggestPrompt = "suggest space morphs"

// Machine governs the type of one space.
// At most one morph runs at a time, a second one is rejected rather than queued.
type Machine struct {
	sync.Mutex

	spaceID     string
	state       State
	current     Type
	suggestions []Type
	// bumped when current type changes, so a stale suggestion result is dropped.
	gen uint64

	persister Persister
	analyzer  analysis.IAnalyzer
	listeners []func(PhaseEvent)
}

// NewMachine creates a machine in Idle. `analyzer` may be nil.
func NewMachine(spaceID string, current Type, persister Persister, analyzer analysis.IAnalyzer) *Machine {
	return &Machine{
		spaceID:   spaceID,
		current:   current,
		persister: persister,
		analyzer:  analyzer,
	}
}

// OnPhase registers a listener, called outside of the machine lock in phase order.
func (m *Machine) OnPhase(fn func(PhaseEvent)) {
	m.Lock()
	m.listeners = append(m.listeners, fn)
	m.Unlock()
}

func (m *Machine) emit(e PhaseEvent) {
	m.Lock()
	listeners := m.listeners
	m.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

func (m *Machine) State() State {
	m.Lock()
	defer m.Unlock()
	return m.state
}

func (m *Machine) Current() Type {
	m.Lock()
	defer m.Unlock()
	return m.current
}

func (m *Machine) Suggestions() []Type {
	m.Lock()
	defer m.Unlock()
	return append([]Type(nil), m.suggestions...)
}

// RequestSuggestions asks the analyzer for candidate types. It only runs from Idle.
// Unknown types and the current type are filtered out; an empty result goes back to Idle.
// Suggestions are advisory and never applied.
func (m *Machine) RequestSuggestions(ctx context.Context) ([]Type, error) {
	if m.analyzer == nil {
		return nil, nil
	}

	m.Lock()
	if m.state != Idle {
		m.Unlock()
		return nil, nil
	}
	m.state = Suggesting
	gen := m.gen
	current := m.current
	m.Unlock()

	res, err := m.analyzer.QueryAI(ctx, m.spaceID, suggestPrompt, map[string]string{"current_type": string(current)})

	m.Lock()
	defer m.Unlock()

	if m.gen != gen || m.state != Suggesting {
		glog.V(5).Infof("morph: space `%s` drop stale suggestions", m.spaceID)
		return nil, nil
	}

	var out []Type
	if err == nil && res != nil {
		seen := make(map[Type]bool)
		for _, s := range res.SuggestedMorphs {
			t, err := ParseType(s)
			if err != nil || t == m.current || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}

	if len(out) == 0 {
		m.state = Idle
		m.suggestions = nil
		return nil, err
	}
	m.state = AwaitingChoice
	m.suggestions = out
	return append([]Type(nil), out...), nil
}

// InitiateMorph runs begin, persist, then confirm or abort.
// The current type only changes after the persist step succeeds.
// Returns ErrConcurrentMorph if a morph is in progress, *store.PersistenceError if persist fails.
func (m *Machine) InitiateMorph(ctx context.Context, newType string) error {
	to, err := ParseType(newType)
	if err != nil {
		return err
	}

	m.Lock()
	if m.state == Morphing {
		m.Unlock()
		return ErrConcurrentMorph
	}
	from := m.current
	if to == from {
		m.Unlock()
		return nil
	}
	m.state = Morphing
	m.Unlock()

	glog.V(5).Infof("morph: space `%s` %s -> %s", m.spaceID, from, to)
	m.emit(PhaseEvent{SpaceID: m.spaceID, Phase: PhaseBegin, From: from, To: to})
	m.emit(PhaseEvent{SpaceID: m.spaceID, Phase: PhasePersist, From: from, To: to})

	if err := m.persister.UpdateSpace(ctx, m.spaceID, string(to)); err != nil {
		perr := store.NewPersistenceError("update_space", m.spaceID, err)
		m.Lock()
		if len(m.suggestions) > 0 {
			m.state = AwaitingChoice
		} else {
			m.state = Idle
		}
		m.Unlock()
		glog.Errorf("morph: space `%s` %s -> %s aborted: %v", m.spaceID, from, to, err)
		m.emit(PhaseEvent{SpaceID: m.spaceID, Phase: PhaseAbort, From: from, To: to, Err: perr})
		return perr
	}

	m.Lock()
	m.current = to
	m.suggestions = nil
	m.gen++
	m.state = Settled
	m.Unlock()

	m.emit(PhaseEvent{SpaceID: m.spaceID, Phase: PhaseConfirm, From: from, To: to})

	m.Lock()
	if m.state == Settled {
		m.state = Idle
	}
	m.Unlock()
	return nil
}

// ApplyRemote sets the type committed by another node. Ignored while a local morph runs.
func (m *Machine) ApplyRemote(t Type) bool {
	m.Lock()
	defer m.Unlock()
	if m.state == Morphing || m.current == t {
		return false
	}
	m.current = t
	m.suggestions = nil
	m.gen++
	m.state = Idle
	return true
}
