package chatstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	out := Aggregate([]Reaction{{1, "❤"}, {2, "❤"}, {3, "👍"}})
	assert.Equal(t, []ReactionCount{{"❤", 2}, {"👍", 1}}, out)

	// duplicates from one user are tolerated.
	out = Aggregate([]Reaction{{1, "👍"}, {1, "👍"}, {2, "❤"}})
	assert.Equal(t, []ReactionCount{{"👍", 2}, {"❤", 1}}, out)

	assert.Nil(t, Aggregate(nil))
}
