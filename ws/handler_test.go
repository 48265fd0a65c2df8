package ws

import (
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/space"
)

func newTestHandler(api *SpaceApi, chanSize int) *Handler {
	return &Handler{
		api:      api,
		session:  &protocol.Session{Uid: 7, Sid: "sid7"},
		dataChan: make(chan *SessionData, chanSize),
		done:     make(chan struct{}),
		joined:   make(map[string]func()),
	}
}

func TestPushEventWithFullDataChan(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	api, _ := newTestApi(ctrl)

	h := newTestHandler(api, 1)
	h.dataChan <- &SessionData{ServerMsg: &protocol.ServerMsg{}}

	// the recv loop waits for room in the chan.
	appended := make(chan struct{})
	go func() {
		h.appendDataChan(&SessionData{ServerMsg: &protocol.ServerMsg{}})
		close(appended)
	}()

	pushed := make(chan struct{})
	go func() {
		h.pushEvent(space.Event{SpaceID: "s1", Kind: space.Event_Members, Members: []int32{3}})
		close(pushed)
	}()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("pushEvent blocked on a full data chan")
	}

	// closing releases the waiting sender.
	close(h.done)
	select {
	case <-appended:
	case <-time.After(time.Second):
		t.Fatal("appendDataChan not released by close")
	}
	require.Len(t, h.dataChan, 1)
}

func TestPushEventAfterClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	api, _ := newTestApi(ctrl)

	h := newTestHandler(api, 4)
	close(h.done)

	h.pushEvent(space.Event{SpaceID: "s1", Kind: space.Event_Members})
	h.appendDataChan(&SessionData{Error: ReadError})
	assert.Len(t, h.dataChan, 0)
}
