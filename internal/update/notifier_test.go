package update

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierFanOut(t *testing.T) {
	n := NewNotifier(nil)
	a, unsubA := n.Subscribe(1)
	b, unsubB := n.Subscribe(1)
	defer unsubB()

	n.Publish(Event{Remote: "2.0.1", At: time.Now()})
	assert.Equal(t, "2.0.1", (<-a).Remote)
	assert.Equal(t, "2.0.1", (<-b).Remote)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := NewNotifier(nil)
	ch, unsub := n.Subscribe(1)
	defer unsub()

	n.Publish(Event{Remote: "1"})
	n.Publish(Event{Remote: "2"})
	require.Len(t, ch, 1)
	assert.Equal(t, "1", (<-ch).Remote)
}
