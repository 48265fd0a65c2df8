package space

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minispace/analysis"
	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/media"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/store"
)

var ErrNotRetryable = errors.New("message is not a failed message of the user")

// Publisher fans out committed changes to other nodes.
type Publisher interface {
	PublishMessage(spaceID string, msg *chatstore.Message)
	PublishMorph(spaceID string, t morph.Type)
	PublishReaction(spaceID, msgID string, r chatstore.Reaction)
}

// Space owns the message log, the type and the quantum events of one collaborative space.
// All local state is guarded by the embedded mutex; calls to collaborators run outside of it.
type Space struct {
	sync.Mutex

	id    string
	title string
	conf  *Config

	log        *chatstore.MessageLog
	quantum    *quantum.Engine
	morph      *morph.Machine
	members    map[int32]struct{}
	lastActive time.Time
	evicted    bool

	store     store.ISpaceStore
	unread    *UnreadTracker
	publisher func() Publisher

	subsLock sync.Mutex
	subs     map[uint64]func(Event)
	nextSub  uint64
}

// Snapshot is a copy of the state of a space.
type Snapshot struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Type        morph.Type           `json:"space_type"`
	MorphState  string               `json:"morph_state"`
	Suggestions []morph.Type         `json:"suggestions,omitempty"`
	Messages    []*chatstore.Message `json:"messages"`
	Media       []media.Media        `json:"media,omitempty"`
	Events      []*quantum.Event     `json:"quantum_events,omitempty"`
	Entangled   []int32              `json:"entangled,omitempty"`
	Members     []int32              `json:"members,omitempty"`
}

func newSpace(row *store.SpaceRow, conf *Config, st store.ISpaceStore, analyzer analysis.IAnalyzer,
	unread *UnreadTracker, publisher func() Publisher) *Space {

	typ, err := morph.ParseType(row.Type)
	if err != nil {
		glog.Errorf("space `%s`: %v, use default `%s`", row.ID, err, conf.DefaultType)
		typ = conf.DefaultType
	}

	s := &Space{
		id:         row.ID,
		title:      row.Title,
		conf:       conf,
		log:        chatstore.NewMessageLog(row.ID, conf.MaxMessages),
		quantum:    quantum.NewEngine(conf.MaxEvents),
		members:    make(map[int32]struct{}),
		lastActive: time.Now(),
		store:      st,
		unread:     unread,
		publisher:  publisher,
		subs:       make(map[uint64]func(Event)),
	}
	s.morph = morph.NewMachine(row.ID, typ, st, analyzer)
	s.morph.OnPhase(s.onMorphPhase)
	return s
}

func (s *Space) ID() string {
	return s.id
}

func (s *Space) Type() morph.Type {
	return s.morph.Current()
}

// Subscribe registers `fn` for state changes, call the returned func to unsubscribe.
func (s *Space) Subscribe(fn func(Event)) func() {
	s.subsLock.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsLock.Unlock()

	return func() {
		s.subsLock.Lock()
		delete(s.subs, id)
		s.subsLock.Unlock()
	}
}

// notify MUST NOT be called with the space lock held.
func (s *Space) notify(e Event) {
	e.SpaceID = s.id
	s.subsLock.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsLock.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (s *Space) touch() {
	s.lastActive = time.Now()
}

func (s *Space) memberList() []int32 {
	out := make([]int32, 0, len(s.members))
	for uid := range s.members {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// evictIfIdle marks the space evicted if it has no member and no activity since `ttl`.
// An evicted space accepts no more members.
func (s *Space) evictIfIdle(now time.Time, ttl time.Duration) bool {
	s.Lock()
	defer s.Unlock()
	if len(s.members) > 0 || now.Sub(s.lastActive) <= ttl {
		return false
	}
	s.evicted = true
	return true
}

// Join returns false if the space was evicted from the registry, get it again to join.
func (s *Space) Join(uid int32) bool {
	s.Lock()
	if s.evicted {
		s.Unlock()
		return false
	}
	s.members[uid] = struct{}{}
	s.touch()
	members := s.memberList()
	s.Unlock()
	s.notify(Event{Kind: Event_Members, Members: members})
	return true
}

func (s *Space) Leave(uid int32) {
	s.Lock()
	if _, ok := s.members[uid]; !ok {
		s.Unlock()
		return
	}
	delete(s.members, uid)
	s.touch()
	members := s.memberList()
	s.Unlock()
	s.notify(Event{Kind: Event_Members, Members: members})
}

func (s *Space) Members() []int32 {
	s.Lock()
	defer s.Unlock()
	return s.memberList()
}

// Send appends the draft optimistically, then persists it.
// On persistence failure the entry is marked failed and a *store.PersistenceError is returned
// together with the failed entry.
func (s *Space) Send(ctx context.Context, uid int32, draft chatstore.Draft) (*chatstore.Message, error) {
	return s.send(ctx, uid, draft, true)
}

// send counts the message as unread for other members only if `countUnread`: a retried
// message was counted when it was first appended.
func (s *Space) send(ctx context.Context, uid int32, draft chatstore.Draft, countUnread bool) (*chatstore.Message, error) {
	s.Lock()
	pending, err := s.log.Append(uid, draft)
	if err != nil {
		s.Unlock()
		messagesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	s.touch()
	members := s.memberList()
	s.Unlock()

	if countUnread {
		for _, member := range members {
			s.unread.OnMessageObserved(s.id, uid, member)
		}
	}
	s.notify(Event{Kind: Event_MessageAppended, Message: pending})

	server, err := s.store.SendMessage(ctx, s.id, uid, chatstore.Draft{Content: pending.Content, Type: pending.Type})
	if err != nil {
		s.Lock()
		s.log.MarkFailed(pending.ID)
		failed := s.log.Get(pending.ID)
		s.Unlock()

		glog.Errorf("space `%s`: send message %s failed: %v", s.id, pending.ID, err)
		messagesTotal.WithLabelValues("failed").Inc()
		if failed != nil {
			s.notify(Event{Kind: Event_MessageFailed, Message: failed})
		}
		return failed, store.NewPersistenceError("send_message", s.id, err)
	}

	s.Lock()
	s.log.Reconcile(pending.ID, server)
	confirmed := s.log.Get(server.ID)
	s.Unlock()
	if confirmed == nil {
		confirmed = server.Clone()
		confirmed.Status = chatstore.Status_Confirmed
	}

	messagesTotal.WithLabelValues("confirmed").Inc()
	s.notify(Event{Kind: Event_MessageConfirmed, Message: confirmed, ProvisionalID: pending.ID})
	if p := s.publisher(); p != nil {
		p.PublishMessage(s.id, confirmed)
	}
	return confirmed, nil
}

// takeFailed removes a failed message of `uid` from the log.
func (s *Space) takeFailed(uid int32, failedID string) (*chatstore.Message, error) {
	s.Lock()
	m := s.log.Get(failedID)
	if m == nil || m.Status != chatstore.Status_Failed || m.AuthorID != uid {
		s.Unlock()
		return nil, ErrNotRetryable
	}
	s.log.Remove(failedID)
	s.Unlock()
	s.notify(Event{Kind: Event_MessageRemoved, ProvisionalID: failedID})
	return m, nil
}

// Retry removes a failed message and sends its content again as a new message.
func (s *Space) Retry(ctx context.Context, uid int32, failedID string) (*chatstore.Message, error) {
	m, err := s.takeFailed(uid, failedID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, uid, chatstore.Draft{Content: m.Content, Type: m.Type}, false)
}

// Discard removes a failed message.
func (s *Space) Discard(uid int32, failedID string) error {
	_, err := s.takeFailed(uid, failedID)
	return err
}

// ObserveRemote inserts a message confirmed by another node.
func (s *Space) ObserveRemote(msg *chatstore.Message) bool {
	s.Lock()
	ok := s.log.Observe(msg)
	var m *chatstore.Message
	if ok {
		m = s.log.Get(msg.ID)
		s.touch()
	}
	members := s.memberList()
	s.Unlock()
	if !ok {
		return false
	}

	for _, member := range members {
		s.unread.OnMessageObserved(s.id, msg.AuthorID, member)
	}
	messagesTotal.WithLabelValues("remote").Inc()
	if m != nil {
		s.notify(Event{Kind: Event_MessageConfirmed, Message: m})
	}
	return true
}

func (s *Space) React(msgID string, uid int32, reaction string) (*chatstore.Message, bool) {
	m, ok := s.react(msgID, uid, reaction)
	if ok {
		if p := s.publisher(); p != nil {
			p.PublishReaction(s.id, msgID, chatstore.Reaction{UserID: uid, Reaction: reaction})
		}
	}
	return m, ok
}

// ObserveRemoteReaction adds a reaction made on another node.
func (s *Space) ObserveRemoteReaction(msgID string, r chatstore.Reaction) bool {
	_, ok := s.react(msgID, r.UserID, r.Reaction)
	return ok
}

func (s *Space) react(msgID string, uid int32, reaction string) (*chatstore.Message, bool) {
	s.Lock()
	m, ok := s.log.React(msgID, uid, reaction)
	s.Unlock()
	if ok {
		s.notify(Event{Kind: Event_Reaction, Message: m})
	}
	return m, ok
}

func (s *Space) MarkRead(uid int32) int {
	return s.unread.MarkRead(s.id, uid)
}

func (s *Space) Unread(uid int32) int {
	return s.unread.Count(s.id, uid)
}

func (s *Space) Messages() []*chatstore.Message {
	s.Lock()
	defer s.Unlock()
	return s.log.Messages()
}

// InitiateMorph runs a morph, see morph.Machine.InitiateMorph.
func (s *Space) InitiateMorph(ctx context.Context, newType string) error {
	from := s.morph.Current()
	err := s.morph.InitiateMorph(ctx, newType)
	if err != nil {
		if errors.Is(err, morph.ErrConcurrentMorph) {
			morphsTotal.WithLabelValues("rejected").Inc()
		}
		return err
	}
	if s.morph.Current() == from {
		return nil
	}
	s.Lock()
	s.touch()
	s.Unlock()
	s.suggestAsync()
	return nil
}

func (s *Space) onMorphPhase(e morph.PhaseEvent) {
	ev := Event{Kind: Event_MorphPhase, Phase: e.Phase, From: e.From, To: e.To}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	s.notify(ev)

	switch e.Phase {
	case morph.PhaseConfirm:
		morphsTotal.WithLabelValues("confirmed").Inc()
		if p := s.publisher(); p != nil {
			p.PublishMorph(s.id, e.To)
		}
	case morph.PhaseAbort:
		morphsTotal.WithLabelValues("aborted").Inc()
	}
}

// ApplyRemoteType sets the type committed by another node.
func (s *Space) ApplyRemoteType(t morph.Type) bool {
	from := s.morph.Current()
	if !s.morph.ApplyRemote(t) {
		return false
	}
	morphsTotal.WithLabelValues("remote").Inc()
	s.notify(Event{Kind: Event_MorphPhase, Phase: morph.PhaseConfirm, From: from, To: t})
	s.suggestAsync()
	return true
}

// RequestSuggestions asks for morph suggestions; subscribers get Event_Suggestions if any.
func (s *Space) RequestSuggestions(ctx context.Context) ([]morph.Type, error) {
	out, err := s.morph.RequestSuggestions(ctx)
	if err != nil {
		glog.Errorf("space `%s`: request suggestions: %v", s.id, err)
		return nil, err
	}
	if len(out) > 0 {
		s.notify(Event{Kind: Event_Suggestions, Suggested: out})
	}
	return out, nil
}

// suggestAsync requests suggestions after the type changed, when enabled.
// The machine must be back in Idle, suggestions are not requested from Settled.
func (s *Space) suggestAsync() {
	if !s.conf.SuggestOnChange {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.SuggestTimeout)
		defer cancel()
		_, _ = s.RequestSuggestions(ctx)
	}()
}

func (s *Space) Entangle(userA, userB int32) *quantum.Event {
	s.Lock()
	ev := s.quantum.CreateEntanglement(userA, userB)
	entangled := s.quantum.Entangled()
	s.touch()
	s.Unlock()

	quantumEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	s.notify(Event{Kind: Event_Quantum, Quantum: ev, Entangled: entangled})
	return ev
}

func (s *Space) TimeEcho(data json.RawMessage) *quantum.Event {
	s.Lock()
	ev := s.quantum.TriggerTimeEcho(data)
	s.touch()
	s.Unlock()

	quantumEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	s.notify(Event{Kind: Event_Quantum, Quantum: ev})
	return ev
}

func (s *Space) Trigger(kind quantum.Kind, data json.RawMessage, probability float64, superpositions []string) (*quantum.Event, error) {
	s.Lock()
	ev, err := s.quantum.Trigger(kind, data, probability, superpositions)
	if err == nil {
		s.touch()
	}
	s.Unlock()
	if err != nil {
		return nil, err
	}

	quantumEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	s.notify(Event{Kind: Event_Quantum, Quantum: ev})
	return ev, nil
}

// Collapse returns false if the event is unknown, which is not an error.
func (s *Space) Collapse(eventID, choice string) (*quantum.Event, bool) {
	s.Lock()
	ev, ok := s.quantum.CollapseWaveFunction(eventID, choice)
	s.Unlock()
	if ok {
		s.notify(Event{Kind: Event_Collapse, Quantum: ev})
	}
	return ev, ok
}

func (s *Space) Snapshot() *Snapshot {
	s.Lock()
	out := &Snapshot{
		ID:        s.id,
		Title:     s.title,
		Messages:  s.log.Messages(),
		Events:    s.quantum.Events(),
		Entangled: s.quantum.Entangled(),
		Members:   s.memberList(),
	}
	s.Unlock()

	out.Type = s.morph.Current()
	out.MorphState = s.morph.State().String()
	out.Suggestions = s.morph.Suggestions()

	var items []media.Media
	for _, m := range out.Messages {
		if m.Type == chatstore.MsgType_Image {
			items = append(items, media.Media{Path: m.Content, MsgID: m.ID, CreatedAt: m.CreatedAt})
		}
	}
	out.Media = media.SortMedia(items)
	return out
}
