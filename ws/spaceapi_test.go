package ws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/media"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/space"
	"github.com/mqy/minispace/store"
	store_mock "github.com/mqy/minispace/store/mock"
)

func newTestApi(ctrl *gomock.Controller) (*SpaceApi, *store_mock.MockISpaceStore) {
	st := store_mock.NewMockISpaceStore(ctrl)
	conf := space.DefaultConfig()
	conf.HistoryLimit = 0
	registry := space.NewRegistry(conf, st, nil)
	resolver := media.NewResolver("https://cdn.example.com/", "/static/placeholder.png")
	return NewApi(registry, resolver, &protocol.WsConf{RequestTimeout: time.Second}), st
}

func TestToError(t *testing.T) {
	cases := []struct {
		err  error
		code int32
	}{
		{&chatstore.ValidationError{Field: "content", Reason: "empty"}, ErrorCodeInvalidArguments},
		{fmt.Errorf("wrap: %w", morph.ErrUnknownType), ErrorCodeInvalidArguments},
		{fmt.Errorf("%w: probability", quantum.ErrInvalidEvent), ErrorCodeInvalidArguments},
		{space.ErrNotRetryable, ErrorCodeInvalidArguments},
		{morph.ErrConcurrentMorph, ErrorCodeFailedPrecondition},
		{store.NewPersistenceError("send_message", "s1", errors.New("db down")), ErrorCodeUnavailable},
		{errors.New("boom"), ErrorCodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, toError(nil, c.err).Code, "err: %v", c.err)
	}
}

func TestInterceptError(t *testing.T) {
	err := toError(nil, store.NewPersistenceError("update_space", "s1", errors.New("dial tcp 10.0.0.1:3306")))
	interceptError(err)
	assert.Equal(t, []string{"temp storage error"}, err.Params)

	err = toError(nil, errors.New("nil pointer"))
	interceptError(err)
	assert.Equal(t, []string{"internal error"}, err.Params)

	err = toError(nil, &chatstore.ValidationError{Field: "content", Reason: "empty"})
	interceptError(err)
	assert.Equal(t, []string{"invalid content: empty"}, err.Params)
}

func TestRender(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	api, _ := newTestApi(ctrl)

	img := api.render(&chatstore.Message{ID: "1", Content: "a/b.png", Type: chatstore.MsgType_Image,
		Reactions: []chatstore.Reaction{{UserID: 1, Reaction: "❤"}, {UserID: 2, Reaction: "❤"}, {UserID: 3, Reaction: "👍"}}})
	assert.Equal(t, "https://cdn.example.com/a/b.png", img.MediaURL)
	assert.Equal(t, []chatstore.ReactionCount{{Reaction: "❤", Count: 2}, {Reaction: "👍", Count: 1}}, img.ReactionCounts)

	text := api.render(&chatstore.Message{ID: "2", Content: "a/b.png", Type: chatstore.MsgType_Text})
	assert.Empty(t, text.MediaURL)
	assert.Nil(t, api.render(nil))
}

func TestApiSendFailureKeepsMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	api, st := newTestApi(ctrl)

	st.EXPECT().GetSpace(gomock.Any(), "s1").Return(&store.SpaceRow{ID: "s1", Type: "meeting"}, nil)
	st.EXPECT().SendMessage(gomock.Any(), "s1", int32(7), gomock.Any()).Return(nil, errors.New("db down"))

	resp, err := api.Send(context.Background(), 7, &protocol.SendReq{SpaceID: "s1", Content: "hi"})
	require.NotNil(t, err)
	assert.Equal(t, int32(ErrorCodeUnavailable), err.Code)
	require.NotNil(t, resp)
	assert.Equal(t, chatstore.Status_Failed, resp.Message.Status)
	assert.True(t, chatstore.IsProvisionalID(resp.Message.ID))
}

func TestApiValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	api, _ := newTestApi(ctrl)

	_, err := api.Send(context.Background(), 7, &protocol.SendReq{Content: "hi"})
	require.NotNil(t, err)
	assert.Equal(t, int32(ErrorCodeInvalidArguments), err.Code)

	_, err = api.Entangle(context.Background(), 7, &protocol.EntangleReq{SpaceID: "s1", Uid: 7})
	require.NotNil(t, err)
	assert.Equal(t, int32(ErrorCodeInvalidArguments), err.Code)

	_, err = api.React(context.Background(), 7, &protocol.ReactReq{SpaceID: "s1", MsgID: "1"})
	require.NotNil(t, err)
	assert.Equal(t, int32(ErrorCodeInvalidArguments), err.Code)

	_, err = api.Retry(context.Background(), 7, &protocol.RetryReq{SpaceID: "s1"})
	require.NotNil(t, err)
	assert.Equal(t, int32(ErrorCodeInvalidArguments), err.Code)
}

func TestApiQuantum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	api, st := newTestApi(ctrl)

	st.EXPECT().GetSpace(gomock.Any(), "s1").Return(&store.SpaceRow{ID: "s1", Type: "meeting"}, nil)

	ent, err := api.Entangle(context.Background(), 7, &protocol.EntangleReq{SpaceID: "s1", Uid: 3})
	require.Nil(t, err)
	assert.Equal(t, quantum.Kind_Entanglement, ent.Event.Kind)

	_, err = api.Trigger(context.Background(), 7, &protocol.TriggerReq{SpaceID: "s1", Type: quantum.Kind_Breakthrough, Probability: 2, Superpositions: []string{"a"}})
	require.NotNil(t, err)
	assert.Equal(t, int32(ErrorCodeInvalidArguments), err.Code)

	c, err := api.Collapse(context.Background(), 7, &protocol.CollapseReq{SpaceID: "s1", EventID: ent.Event.ID, Choice: "synced-cursor"})
	require.Nil(t, err)
	assert.True(t, c.Found)

	c, err = api.Collapse(context.Background(), 7, &protocol.CollapseReq{SpaceID: "s1", EventID: "nope", Choice: "x"})
	require.Nil(t, err)
	assert.False(t, c.Found)

	snap, err := api.Snapshot(context.Background(), 7, &protocol.SnapshotReq{SpaceID: "s1"})
	require.Nil(t, err)
	assert.Equal(t, []int32{3, 7}, snap.Entangled)
}
