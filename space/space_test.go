package space

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minispace/analysis"
	analysis_mock "github.com/mqy/minispace/analysis/mock"
	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/store"
	store_mock "github.com/mqy/minispace/store/mock"
)

type recorder struct {
	sync.Mutex
	events []Event
}

func (r *recorder) add(e Event) {
	r.Lock()
	r.events = append(r.events, e)
	r.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.Lock()
	defer r.Unlock()
	var out []EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakePublisher struct {
	sync.Mutex
	messages  []*chatstore.Message
	morphs    []morph.Type
	reactions []chatstore.Reaction
}

func (p *fakePublisher) PublishMessage(spaceID string, msg *chatstore.Message) {
	p.Lock()
	p.messages = append(p.messages, msg)
	p.Unlock()
}

func (p *fakePublisher) PublishMorph(spaceID string, t morph.Type) {
	p.Lock()
	p.morphs = append(p.morphs, t)
	p.Unlock()
}

func (p *fakePublisher) PublishReaction(spaceID, msgID string, r chatstore.Reaction) {
	p.Lock()
	p.reactions = append(p.reactions, r)
	p.Unlock()
}

func newTestSpace(st store.ISpaceStore, analyzer analysis.IAnalyzer, typ morph.Type, pub Publisher) *Space {
	conf := DefaultConfig()
	row := &store.SpaceRow{ID: "s1", Title: "standup", Type: string(typ)}
	return newSpace(row, conf, st, analyzer, NewUnreadTracker(), func() Publisher { return pub })
}

func TestSendConfirmed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	pub := &fakePublisher{}
	s := newTestSpace(st, nil, morph.Meeting, pub)
	s.Join(3)
	s.Join(7)

	rec := &recorder{}
	cancel := s.Subscribe(rec.add)
	defer cancel()

	created := time.Unix(1700000000, 0)
	st.EXPECT().SendMessage(gomock.Any(), "s1", int32(7), chatstore.Draft{Content: "hi", Type: chatstore.MsgType_Text}).
		Return(&chatstore.Message{ID: "101", SpaceID: "s1", AuthorID: 7, Content: "hi", Type: chatstore.MsgType_Text, CreatedAt: created}, nil)

	m, err := s.Send(context.Background(), 7, chatstore.Draft{Content: " hi "})
	require.NoError(t, err)
	assert.Equal(t, "101", m.ID)
	assert.Equal(t, chatstore.Status_Confirmed, m.Status)

	assert.Equal(t, 1, s.Unread(3))
	assert.Equal(t, 0, s.Unread(7))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "101", msgs[0].ID)

	assert.Equal(t, []EventKind{Event_MessageAppended, Event_MessageConfirmed}, rec.kinds())
	assert.True(t, chatstore.IsProvisionalID(rec.events[1].ProvisionalID))
	assert.Equal(t, rec.events[0].Message.ID, rec.events[1].ProvisionalID)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "101", pub.messages[0].ID)
}

func TestSendInvalid(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, nil)
	s.Join(3)

	_, err := s.Send(context.Background(), 7, chatstore.Draft{Content: "   "})
	var verr *chatstore.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "content", verr.Field)
	assert.Empty(t, s.Messages())
	assert.Equal(t, 0, s.Unread(3))
}

func TestSendFailedThenRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	pub := &fakePublisher{}
	s := newTestSpace(st, nil, morph.Meeting, pub)
	s.Join(3)
	s.Join(7)

	cause := errors.New("db down")
	gomock.InOrder(
		st.EXPECT().SendMessage(gomock.Any(), "s1", int32(7), gomock.Any()).Return(nil, cause),
		st.EXPECT().SendMessage(gomock.Any(), "s1", int32(7), gomock.Any()).
			Return(&chatstore.Message{ID: "5", AuthorID: 7, Content: "hi", Type: chatstore.MsgType_Text}, nil),
	)

	failed, err := s.Send(context.Background(), 7, chatstore.Draft{Content: "hi"})
	var perr *store.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, cause))
	require.NotNil(t, failed)
	assert.Equal(t, chatstore.Status_Failed, failed.Status)
	assert.Empty(t, pub.messages)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chatstore.Status_Failed, msgs[0].Status)
	assert.Equal(t, 1, s.Unread(3))

	// only the author can retry.
	_, err = s.Retry(context.Background(), 3, failed.ID)
	assert.Equal(t, ErrNotRetryable, err)

	m, err := s.Retry(context.Background(), 7, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "5", m.ID)

	msgs = s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "5", msgs[0].ID)
	assert.Equal(t, chatstore.Status_Confirmed, msgs[0].Status)

	// one message, counted once.
	assert.Equal(t, 1, s.Unread(3))
	assert.Equal(t, 0, s.Unread(7))
}

func TestDiscard(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	s := newTestSpace(st, nil, morph.Meeting, nil)
	st.EXPECT().SendMessage(gomock.Any(), "s1", int32(7), gomock.Any()).Return(nil, errors.New("timeout"))

	failed, err := s.Send(context.Background(), 7, chatstore.Draft{Content: "hi"})
	require.Error(t, err)
	require.NoError(t, s.Discard(7, failed.ID))
	assert.Empty(t, s.Messages())
	assert.Equal(t, ErrNotRetryable, s.Discard(7, failed.ID))
}

func TestObserveRemote(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, nil)
	s.Join(3)
	s.Join(7)

	msg := &chatstore.Message{ID: "9", AuthorID: 7, Content: "from afar", Type: chatstore.MsgType_Text}
	assert.True(t, s.ObserveRemote(msg))
	assert.False(t, s.ObserveRemote(msg))
	assert.Equal(t, 1, s.Unread(3))
	assert.Equal(t, 0, s.Unread(7))

	assert.Equal(t, 1, s.MarkRead(3))
	assert.Equal(t, 0, s.Unread(3))
}

func TestReact(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub := &fakePublisher{}
	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, pub)
	s.ObserveRemote(&chatstore.Message{ID: "1", AuthorID: 2, Content: "x", Type: chatstore.MsgType_Text})

	s.React("1", 1, "❤")
	// made on another node: applied, not published again.
	assert.True(t, s.ObserveRemoteReaction("1", chatstore.Reaction{UserID: 2, Reaction: "❤"}))
	m, ok := s.React("1", 3, "👍")
	require.True(t, ok)
	assert.Equal(t, []chatstore.ReactionCount{{Reaction: "❤", Count: 2}, {Reaction: "👍", Count: 1}},
		chatstore.Aggregate(m.Reactions))

	_, ok = s.React("nope", 1, "❤")
	assert.False(t, ok)
	assert.False(t, s.ObserveRemoteReaction("nope", chatstore.Reaction{UserID: 2, Reaction: "❤"}))

	assert.Equal(t, []chatstore.Reaction{{UserID: 1, Reaction: "❤"}, {UserID: 3, Reaction: "👍"}}, pub.reactions)
}

func TestMorphSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	pub := &fakePublisher{}
	s := newTestSpace(st, nil, morph.Meeting, pub)
	rec := &recorder{}
	s.Subscribe(rec.add)

	st.EXPECT().UpdateSpace(gomock.Any(), "s1", "whiteboard").Return(nil)

	require.NoError(t, s.InitiateMorph(context.Background(), "whiteboard"))
	assert.Equal(t, morph.Whiteboard, s.Type())

	snap := s.Snapshot()
	assert.Equal(t, morph.Whiteboard, snap.Type)
	assert.Equal(t, morph.Idle.String(), snap.MorphState)

	var phases []morph.Phase
	for _, e := range rec.events {
		if e.Kind == Event_MorphPhase {
			phases = append(phases, e.Phase)
		}
	}
	assert.Equal(t, []morph.Phase{morph.PhaseBegin, morph.PhasePersist, morph.PhaseConfirm}, phases)
	assert.Equal(t, []morph.Type{morph.Whiteboard}, pub.morphs)
}

func TestMorphFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	pub := &fakePublisher{}
	s := newTestSpace(st, nil, morph.Meeting, pub)

	st.EXPECT().UpdateSpace(gomock.Any(), "s1", "whiteboard").Return(errors.New("network"))

	err := s.InitiateMorph(context.Background(), "whiteboard")
	var perr *store.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, morph.Meeting, s.Type())
	assert.Empty(t, pub.morphs)
}

func TestSuggestOnChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	analyzer := analysis_mock.NewMockIAnalyzer(ctrl)

	conf := DefaultConfig()
	conf.SuggestOnChange = true
	row := &store.SpaceRow{ID: "s1", Type: "meeting"}
	s := newSpace(row, conf, st, analyzer, NewUnreadTracker(), func() Publisher { return nil })

	got := make(chan []morph.Type, 1)
	s.Subscribe(func(e Event) {
		if e.Kind == Event_Suggestions {
			got <- e.Suggested
		}
	})

	st.EXPECT().UpdateSpace(gomock.Any(), "s1", "whiteboard").Return(nil)
	analyzer.EXPECT().QueryAI(gomock.Any(), "s1", gomock.Any(), gomock.Any()).
		Return(&analysis.Result{SuggestedMorphs: []string{"brainstorm", "document"}}, nil)

	require.NoError(t, s.InitiateMorph(context.Background(), "whiteboard"))

	select {
	case out := <-got:
		assert.Equal(t, []morph.Type{morph.Brainstorm, morph.Document}, out)
	case <-time.After(5 * time.Second):
		t.Fatal("no suggestions")
	}
}

func TestApplyRemoteType(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, nil)
	assert.True(t, s.ApplyRemoteType(morph.Document))
	assert.False(t, s.ApplyRemoteType(morph.Document))
	assert.Equal(t, morph.Document, s.Type())
}

func TestQuantum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, nil)
	rec := &recorder{}
	s.Subscribe(rec.add)

	ev := s.Entangle(1, 2)
	s.Entangle(2, 1)
	echo := s.TimeEcho(nil)

	_, err := s.Trigger("party", nil, 0.5, []string{"a"})
	assert.True(t, errors.Is(err, quantum.ErrInvalidEvent))

	c, ok := s.Collapse(echo.ID, "inspiration")
	require.True(t, ok)
	assert.Equal(t, []string{"inspiration"}, c.Superpositions)
	_, ok = s.Collapse("nope", "x")
	assert.False(t, ok)

	snap := s.Snapshot()
	assert.Equal(t, []int32{1, 2}, snap.Entangled)
	require.Len(t, snap.Events, 3)
	assert.Equal(t, echo.ID, snap.Events[0].ID)
	assert.Equal(t, ev.ID, snap.Events[2].ID)

	assert.Equal(t, []EventKind{Event_Quantum, Event_Quantum, Event_Quantum, Event_Collapse}, rec.kinds())
}

func TestSnapshotMedia(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, nil)
	base := time.Unix(1000, 0)
	s.ObserveRemote(&chatstore.Message{ID: "1", AuthorID: 1, Content: "b.png", Type: chatstore.MsgType_Image, CreatedAt: base})
	s.ObserveRemote(&chatstore.Message{ID: "2", AuthorID: 1, Content: "text", Type: chatstore.MsgType_Text, CreatedAt: base})
	s.ObserveRemote(&chatstore.Message{ID: "3", AuthorID: 1, Content: "a.png", Type: chatstore.MsgType_Image, CreatedAt: base})

	snap := s.Snapshot()
	require.Len(t, snap.Media, 2)
	assert.Equal(t, "a.png", snap.Media[0].Path)
	assert.Equal(t, "3", snap.Media[0].MsgID)
	assert.Equal(t, "b.png", snap.Media[1].Path)
}

func TestMembers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := newTestSpace(store_mock.NewMockISpaceStore(ctrl), nil, morph.Meeting, nil)
	rec := &recorder{}
	cancel := s.Subscribe(rec.add)

	s.Join(9)
	s.Join(2)
	assert.Equal(t, []int32{2, 9}, s.Members())
	s.Leave(9)
	s.Leave(9)
	cancel()
	s.Leave(2)

	assert.Equal(t, []EventKind{Event_Members, Event_Members, Event_Members}, rec.kinds())
	assert.Empty(t, s.Members())
}
