package board

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

func encodeEvent(t *testing.T, ev domain.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestPump_AppliesWellFormedEvents(t *testing.T) {
	r := NewReconciler(admin(), newFakeUpdater())
	p := NewPump(r, nil, nil, nil)

	created := domain.TaskDetail{Task: boardTask("a", domain.StatusTodo, 1000)}
	p.Handle(context.Background(), encodeEvent(t, domain.NewTaskEvent(domain.EventTaskCreated, created)))
	assert.Equal(t, []string{"a"}, ids(r.Partition(domain.StatusTodo)))

	updated := domain.TaskDetail{Task: boardTask("a", domain.StatusDone, 1000)}
	p.Handle(context.Background(), encodeEvent(t, domain.NewTaskEvent(domain.EventTaskUpdated, updated)))
	assert.Empty(t, r.Partition(domain.StatusTodo))
	assert.Equal(t, []string{"a"}, ids(r.Partition(domain.StatusDone)))

	p.Handle(context.Background(), encodeEvent(t, domain.NewDeleteEvent("a", &updated)))
	assert.Empty(t, r.Partition(domain.StatusDone))
}

func TestPump_AppliesBulkEvent(t *testing.T) {
	r := NewReconciler(admin(), newFakeUpdater())
	r.Seed([]domain.Task{
		boardTask("a", domain.StatusTodo, 1000),
		boardTask("b", domain.StatusTodo, 2000),
	})
	p := NewPump(r, nil, nil, nil)

	bulk := domain.NewBulkEvent([]domain.TaskDetail{
		{Task: boardTask("a", domain.StatusTodo, 2000)},
		{Task: boardTask("b", domain.StatusTodo, 1000)},
	})
	p.Handle(context.Background(), encodeEvent(t, bulk))

	assert.Equal(t, []string{"b", "a"}, ids(r.Partition(domain.StatusTodo)))
}

func TestPump_MalformedFrameIsSkipped(t *testing.T) {
	r := NewReconciler(admin(), newFakeUpdater())
	r.Seed([]domain.Task{boardTask("a", domain.StatusTodo, 1000)})
	resyncs := 0
	p := NewPump(r, DefaultPolicy(), func(context.Context) ([]domain.Task, error) {
		resyncs++
		return nil, nil
	}, nil)

	p.Handle(context.Background(), []byte("{not json"))

	assert.Zero(t, resyncs)
	assert.Equal(t, []string{"a"}, ids(r.Partition(domain.StatusTodo)))
}

func TestPump_ApplyFailureTriggersResync(t *testing.T) {
	r := NewReconciler(admin(), newFakeUpdater())
	r.Seed([]domain.Task{boardTask("stale", domain.StatusTodo, 1000)})
	p := NewPump(r, DefaultPolicy(), func(context.Context) ([]domain.Task, error) {
		return []domain.Task{boardTask("fresh", domain.StatusTodo, 1000)}, nil
	}, nil)

	// Well-formed JSON, but a created event without its task payload.
	frame := encodeEvent(t, domain.Event{Type: domain.EventTaskCreated})
	p.Handle(context.Background(), frame)

	assert.Equal(t, []string{"fresh"}, ids(r.Partition(domain.StatusTodo)))
}

func TestPump_ResyncDegradesToSkipWithoutResyncFunc(t *testing.T) {
	r := NewReconciler(admin(), newFakeUpdater())
	r.Seed([]domain.Task{boardTask("a", domain.StatusTodo, 1000)})
	p := NewPump(r, DefaultPolicy(), nil, nil)

	frame := encodeEvent(t, domain.Event{Type: "unknown-event"})
	p.Handle(context.Background(), frame)

	assert.Equal(t, []string{"a"}, ids(r.Partition(domain.StatusTodo)))
}

func TestPump_RunStopsOnChannelClose(t *testing.T) {
	r := NewReconciler(admin(), newFakeUpdater())
	p := NewPump(r, nil, nil, nil)

	frames := make(chan []byte, 1)
	created := domain.TaskDetail{Task: boardTask("a", domain.StatusTodo, 1000)}
	frames <- encodeEvent(t, domain.NewTaskEvent(domain.EventTaskCreated, created))
	close(frames)

	p.Run(context.Background(), frames)

	assert.Equal(t, []string{"a"}, ids(r.Partition(domain.StatusTodo)))
}
