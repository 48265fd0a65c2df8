package space

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/store"
	store_mock "github.com/mqy/minispace/store/mock"
)

func TestRegistryGetCreates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	r := NewRegistry(nil, st, nil)

	gomock.InOrder(
		st.EXPECT().GetSpace(gomock.Any(), "s1").Return(nil, store.ErrSpaceNotFound),
		st.EXPECT().CreateSpace(gomock.Any(), &store.SpaceRow{ID: "s1", Type: "meeting"}).
			Return(&store.SpaceRow{ID: "s1", Type: "meeting"}, nil),
		st.EXPECT().GetMessages(gomock.Any(), "s1", 50).Return(nil, nil),
	)

	s, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, morph.Meeting, s.Type())

	// cached.
	again, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Same(t, s, r.Lookup("s1"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryGetLoadsHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	r := NewRegistry(nil, st, nil)

	base := time.Unix(1000, 0)
	st.EXPECT().GetSpace(gomock.Any(), "s1").Return(&store.SpaceRow{ID: "s1", Type: "document"}, nil)
	st.EXPECT().GetMessages(gomock.Any(), "s1", 50).Return([]*chatstore.Message{
		{ID: "1", AuthorID: 1, Content: "a", Type: chatstore.MsgType_Text, CreatedAt: base},
		{ID: "2", AuthorID: 2, Content: "b", Type: chatstore.MsgType_Text, CreatedAt: base.Add(time.Second)},
	}, nil)

	s, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, morph.Document, s.Type())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, chatstore.Status_Confirmed, msgs[1].Status)
	// history is not unread.
	assert.Empty(t, r.Unread().Stats(1))
}

func TestRegistryGetErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	r := NewRegistry(nil, st, nil)

	_, err := r.Get(context.Background(), "")
	var verr *chatstore.ValidationError
	assert.True(t, errors.As(err, &verr))

	cause := errors.New("db down")
	st.EXPECT().GetSpace(gomock.Any(), "s1").Return(nil, cause)
	_, err = r.Get(context.Background(), "s1")
	var perr *store.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, r.Lookup("s1"))
}

func TestRegistryUnknownTypeFallsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	conf := DefaultConfig()
	conf.HistoryLimit = 0
	conf.DefaultType = morph.Brainstorm
	r := NewRegistry(conf, st, nil)

	st.EXPECT().GetSpace(gomock.Any(), "s1").Return(&store.SpaceRow{ID: "s1", Type: "party"}, nil)
	s, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, morph.Brainstorm, s.Type())
}

func TestRegistrySweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	conf := DefaultConfig()
	conf.HistoryLimit = 0
	r := NewRegistry(conf, st, nil)

	st.EXPECT().GetSpace(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (*store.SpaceRow, error) {
			return &store.SpaceRow{ID: id, Type: "meeting"}, nil
		}).Times(2)

	busy, err := r.Get(context.Background(), "busy")
	require.NoError(t, err)
	idle, err := r.Get(context.Background(), "idle")
	require.NoError(t, err)

	busy.Join(1)
	idle.ObserveRemote(&chatstore.Message{ID: "1", AuthorID: 2, Content: "x", Type: chatstore.MsgType_Text})
	r.Unread().OnMessageObserved("idle", 2, 1)

	assert.Equal(t, 0, r.Sweep(time.Hour))
	assert.Equal(t, 1, r.Sweep(0))
	assert.Nil(t, r.Lookup("idle"))
	assert.NotNil(t, r.Lookup("busy"))
	assert.Equal(t, 0, r.Unread().Count("idle", 1))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []func(c *Config){
		func(c *Config) { c.DefaultType = "party" },
		func(c *Config) { c.MaxMessages = -1 },
		func(c *Config) { c.HistoryLimit = -1 },
		func(c *Config) { c.MaxEvents = -1 },
		func(c *Config) { c.SuggestOnChange = true; c.SuggestTimeout = 0 },
	}
	for i, fn := range bad {
		c := DefaultConfig()
		fn(c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}

func TestRegistryJoinEvictedSpace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := store_mock.NewMockISpaceStore(ctrl)
	conf := DefaultConfig()
	conf.HistoryLimit = 0
	r := NewRegistry(conf, st, nil)

	st.EXPECT().GetSpace(gomock.Any(), "s1").Return(&store.SpaceRow{ID: "s1", Type: "meeting"}, nil).Times(2)

	got, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)

	// swept after Get returned, before the user joins.
	got.Lock()
	got.lastActive = time.Now().Add(-time.Hour)
	got.Unlock()
	require.Equal(t, 1, r.Sweep(time.Minute))

	assert.False(t, got.Join(3))
	assert.Empty(t, got.Members())

	var events []Event
	s, leave, err := r.Join(context.Background(), "s1", 3, func(e Event) { events = append(events, e) })
	require.NoError(t, err)
	assert.NotSame(t, got, s)
	assert.Same(t, s, r.Lookup("s1"))
	assert.Equal(t, []int32{3}, s.Members())
	require.Len(t, events, 1)
	assert.Equal(t, Event_Members, events[0].Kind)

	// a joined space is never swept.
	assert.Equal(t, 0, r.Sweep(0))

	leave()
	assert.Empty(t, s.Members())
	assert.Len(t, events, 1)
}
