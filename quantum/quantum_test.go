package quantum

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntanglementCommutativeIdempotent(t *testing.T) {
	e := NewEngine(0)
	ev1 := e.CreateEntanglement(1, 2)
	ev2 := e.CreateEntanglement(2, 1)

	assert.Equal(t, []int32{1, 2}, e.Entangled())
	assert.True(t, e.IsEntangled(2))
	assert.False(t, e.IsEntangled(3))

	assert.Equal(t, Kind_Entanglement, ev1.Kind)
	assert.Equal(t, 0.9, ev1.Probability)
	assert.Equal(t, []string{"synced-cursor", "shared-ideas", "mirror-actions"}, ev1.Superpositions)
	assert.NotEqual(t, ev1.ID, ev2.ID)

	// most recent first.
	events := e.Events()
	require.Len(t, events, 2)
	assert.Equal(t, ev2.ID, events[0].ID)
	assert.Equal(t, ev1.ID, events[1].ID)
}

func TestTriggerTimeEcho(t *testing.T) {
	e := NewEngine(0)
	ev := e.TriggerTimeEcho(nil)
	assert.Equal(t, Kind_Echo, ev.Kind)
	assert.Equal(t, 0.7, ev.Probability)
	assert.Equal(t, []string{"happy-memory", "lesson-learned", "inspiration"}, ev.Superpositions)
	assert.JSONEq(t, `{"message":"a moment from the past resurfaces"}`, string(ev.Data))

	ev = e.TriggerTimeEcho(json.RawMessage(`{"msg_id":"42"}`))
	assert.JSONEq(t, `{"msg_id":"42"}`, string(ev.Data))
}

func TestCollapseIdempotent(t *testing.T) {
	e := NewEngine(0)
	ev := e.TriggerTimeEcho(nil)

	once, ok := e.CollapseWaveFunction(ev.ID, "inspiration")
	require.True(t, ok)
	twice, ok := e.CollapseWaveFunction(ev.ID, "inspiration")
	require.True(t, ok)
	assert.Equal(t, once, twice)
	assert.True(t, twice.Collapsed())
	assert.Equal(t, []string{"inspiration"}, twice.Superpositions)
	assert.Equal(t, 1.0, twice.Probability)

	// a different choice overwrites.
	other, ok := e.CollapseWaveFunction(ev.ID, "lesson-learned")
	require.True(t, ok)
	assert.Equal(t, []string{"lesson-learned"}, other.Superpositions)
}

func TestCollapseUnknown(t *testing.T) {
	e := NewEngine(0)
	ev := e.TriggerTimeEcho(nil)
	before := e.Events()

	_, ok := e.CollapseWaveFunction("nope", "inspiration")
	assert.False(t, ok)
	_, ok = e.CollapseWaveFunction(ev.ID, "")
	assert.False(t, ok)
	assert.Equal(t, before, e.Events())
}

func TestEventsBounded(t *testing.T) {
	e := NewEngine(3)
	base := time.Unix(1000, 0)
	var ids []string
	for i := 0; i < 5; i++ {
		e.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Second) })
		ids = append(ids, e.TriggerTimeEcho(nil).ID)
	}

	events := e.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{events[0].ID, events[1].ID, events[2].ID})
	assert.Nil(t, e.Get(ids[0]))
	assert.Equal(t, fmt.Sprintf("%d-5", base.Add(4*time.Second).UnixNano()), ids[4])
}

func TestTrigger(t *testing.T) {
	e := NewEngine(0)
	ev, err := e.Trigger(Kind_Breakthrough, json.RawMessage(`{"idea":"x"}`), 0.5, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, Kind_Breakthrough, ev.Kind)

	bad := []struct {
		kind   Kind
		data   json.RawMessage
		prob   float64
		supers []string
	}{
		{"party", nil, 0.5, []string{"a"}},
		{Kind_Synchronicity, nil, 0, []string{"a"}},
		{Kind_Synchronicity, nil, 1.5, []string{"a"}},
		{Kind_Synchronicity, nil, 0.5, nil},
		{Kind_Synchronicity, nil, 0.5, []string{""}},
		{Kind_Synchronicity, json.RawMessage(`{`), 0.5, []string{"a"}},
	}
	for _, c := range bad {
		_, err := e.Trigger(c.kind, c.data, c.prob, c.supers)
		assert.True(t, errors.Is(err, ErrInvalidEvent), "case: %+v", c)
	}
	assert.Len(t, e.Events(), 1)
}
