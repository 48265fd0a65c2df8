package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minispace/chatstore"
)

func openTestBolt(t *testing.T) *boltStore {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "minispace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltSpace(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	_, err := s.GetSpace(ctx, "s1")
	assert.Equal(t, ErrSpaceNotFound, err)
	assert.Equal(t, ErrSpaceNotFound, s.UpdateSpace(ctx, "s1", "meeting"))

	row, err := s.CreateSpace(ctx, &SpaceRow{ID: "s1", Title: "standup", Type: "meeting"})
	require.NoError(t, err)
	assert.False(t, row.CreateTime.IsZero())

	row, err = s.CreateSpace(ctx, &SpaceRow{ID: "s1", Title: "other", Type: "document"})
	require.NoError(t, err)
	assert.Equal(t, "standup", row.Title)
	assert.Equal(t, "meeting", row.Type)

	require.NoError(t, s.UpdateSpace(ctx, "s1", "whiteboard"))
	row, err = s.GetSpace(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "whiteboard", row.Type)
}

func TestBoltMessages(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	msgs, err := s.GetMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for i := 0; i < 5; i++ {
		m, err := s.SendMessage(ctx, "s1", 7, chatstore.Draft{Content: fmt.Sprintf("m%d", i), Type: chatstore.MsgType_Text})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", i+1), m.ID)
		assert.Equal(t, chatstore.Status_Confirmed, m.Status)
	}
	_, err = s.SendMessage(ctx, "s2", 3, chatstore.Draft{Content: "other", Type: chatstore.MsgType_Text})
	require.NoError(t, err)

	msgs, err = s.GetMessages(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
	assert.Equal(t, "m4", msgs[2].Content)

	msgs, err = s.GetMessages(ctx, "s2", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].ID)
}

func TestBoltCanceledContext(t *testing.T) {
	s := openTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SendMessage(ctx, "s1", 7, chatstore.Draft{Content: "x", Type: chatstore.MsgType_Text})
	assert.ErrorIs(t, err, context.Canceled)
}
