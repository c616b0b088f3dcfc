package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-localmodel/pkg/utils"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter(4, utils.NewNopLogger())

	var mu sync.Mutex
	var got []string
	e.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Message)
		mu.Unlock()
	})

	for _, m := range []string{"a", "b", "c", "d", "e", "f"} {
		e.Emit(Message(m))
	}
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, got)
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEmitter(8, utils.NewNopLogger())

	var first, second Recorder
	unsubFirst := e.Subscribe(first.Emit)
	e.Subscribe(second.Emit)

	e.Emit(Message("one"))
	e.Close()
	unsubFirst()

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestEmitterDropsAfterClose(t *testing.T) {
	e := NewEmitter(1, utils.NewNopLogger())
	var rec Recorder
	e.Subscribe(rec.Emit)
	e.Close()
	e.Emit(Message("late"))
	e.Close()
	assert.Empty(t, rec.Events())
}

func TestProgressClamps(t *testing.T) {
	ev := Progress("x", 1.5)
	require.True(t, ev.HasFraction)
	assert.Equal(t, 1.0, ev.Fraction)
	assert.Equal(t, 0.0, Progress("x", -1).Fraction)
	assert.False(t, Message("y").HasFraction)
}

func TestWithSourceStampsEvents(t *testing.T) {
	var rec Recorder
	sink := WithSource(&rec, "download")
	sink.Emit(Message("hello"))
	sink.Emit(Event{Message: "keep", Source: "other"})

	evs := rec.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "download", evs[0].Source)
	assert.Equal(t, "other", evs[1].Source)
}
