package toolthread

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepTool sleeps for the requested milliseconds and echoes the label.
func sleepTool(t *testing.T) Tool {
	t.Helper()
	type A struct {
		Label string `json:"label"`
		Ms    int    `json:"ms"`
	}
	tool, err := NewTool("sleep", "Sleep then echo", func(ctx context.Context, a A) (string, error) {
		select {
		case <-time.After(time.Duration(a.Ms) * time.Millisecond):
			return a.Label, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	require.NoError(t, err)
	return tool
}

func sleepCall(id, label string, ms int) ToolCall {
	return ToolCall{ID: id, ToolName: "sleep", Args: fmt.Appendf(nil, `{"label":%q,"ms":%d}`, label, ms)}
}

func TestParallelExecutor_IndexAligned(t *testing.T) {
	t.Parallel()
	fns := Functions{"sleep": sleepTool(t)}
	// Delays inverse to index: the last call finishes first.
	calls := []ToolCall{
		sleepCall("c0", "zero", 60),
		sleepCall("c1", "one", 30),
		sleepCall("c2", "two", 1),
	}
	results := NewParallelExecutor().ExecuteCalls(context.Background(), calls, fns, nil)
	require.Len(t, results, 3)
	for i, want := range []string{"zero", "one", "two"} {
		assert.Equal(t, calls[i].ID, results[i].CallID)
		assert.True(t, results[i].Success)
		assert.Equal(t, want, results[i].Output)
	}
}

func TestParallelExecutor_RunsConcurrently(t *testing.T) {
	t.Parallel()
	fns := Functions{"sleep": sleepTool(t)}
	calls := []ToolCall{sleepCall("a", "a", 80), sleepCall("b", "b", 80), sleepCall("c", "c", 80)}
	start := time.Now()
	results := NewParallelExecutor().ExecuteCalls(context.Background(), calls, fns, nil)
	require.Len(t, results, 3)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestParallelExecutor_Parallelism(t *testing.T) {
	t.Parallel()
	var running, peak int32
	tool := minTool{name: "busy", params: map[string]any{}}
	tool.execute = func(context.Context, []byte, func(Chunk) error) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}
	calls := make([]ToolCall, 6)
	for i := range calls {
		calls[i] = ToolCall{ID: fmt.Sprint(i), ToolName: "busy"}
	}
	results := NewParallelExecutor(WithParallelism(2)).ExecuteCalls(context.Background(), calls, Functions{"busy": tool}, nil)
	require.Len(t, results, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSequentialExecutor_Order(t *testing.T) {
	t.Parallel()
	var order []string
	tool := minTool{name: "rec", params: map[string]any{}}
	tool.execute = func(_ context.Context, args []byte, yield func(Chunk) error) error {
		order = append(order, string(args))
		return yield(Chunk{Data: args})
	}
	calls := []ToolCall{
		{ID: "1", ToolName: "rec", Args: raw(`"a"`)},
		{ID: "2", ToolName: "rec", Args: raw(`"b"`)},
		{ID: "3", ToolName: "rec", Args: raw(`"c"`)},
	}
	results := NewSequentialExecutor().ExecuteCalls(context.Background(), calls, Functions{"rec": tool}, nil)
	require.Len(t, results, 3)
	assert.Equal(t, []string{`"a"`, `"b"`, `"c"`}, order)
	assert.Equal(t, `"b"`, results[1].Output)
}

func TestExecutors_UnregisteredInBatch(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%t", parallel), func(t *testing.T) {
			fns := Functions{"sleep": sleepTool(t)}
			calls := []ToolCall{
				sleepCall("c0", "first", 1),
				{ID: "c1", ToolName: "launch_rockets", Args: raw(`{}`)},
				sleepCall("c2", "third", 1),
			}
			results := NewExecutor(parallel).ExecuteCalls(context.Background(), calls, fns, nil)
			require.Len(t, results, 3)
			assert.True(t, results[0].Success)
			assert.Equal(t, "first", results[0].Output)
			assert.False(t, results[1].Success)
			assert.Equal(t, "c1", results[1].CallID)
			assert.Contains(t, results[1].Output, "launch_rockets")
			require.ErrorIs(t, results[1].Error, ErrToolNotFound)
			assert.True(t, results[2].Success)
			assert.Equal(t, "third", results[2].Output)
		})
	}
}

func TestExecutors_SkipExecuted(t *testing.T) {
	t.Parallel()
	fns := Functions{"sleep": sleepTool(t)}
	calls := []ToolCall{sleepCall("c0", "a", 1), sleepCall("c1", "b", 1), sleepCall("c2", "c", 1)}
	executed := map[string]bool{"c1": true}
	for _, exec := range []Executor{NewSequentialExecutor(), NewParallelExecutor()} {
		results := exec.ExecuteCalls(context.Background(), calls, fns, executed)
		require.Len(t, results, 2)
		assert.Equal(t, "c0", results[0].CallID)
		assert.Equal(t, "c2", results[1].CallID)
	}
}

func TestExecutors_PanicAndTimeoutDoNotAbortBatch(t *testing.T) {
	t.Parallel()
	panicky := minTool{name: "panicky", params: map[string]any{}}
	panicky.execute = func(context.Context, []byte, func(Chunk) error) error {
		panic("kaboom")
	}
	stuck := minTool{name: "stuck", params: map[string]any{}}
	release := make(chan struct{})
	defer close(release)
	stuck.execute = func(context.Context, []byte, func(Chunk) error) error {
		// Ignores cancellation on purpose.
		<-release
		return nil
	}
	fns := Functions{"panicky": panicky, "stuck": stuck, "sleep": sleepTool(t)}
	calls := []ToolCall{
		{ID: "p", ToolName: "panicky"},
		{ID: "s", ToolName: "stuck"},
		sleepCall("ok", "fine", 1),
	}
	for _, exec := range []Executor{
		NewSequentialExecutor(WithCallTimeout(30 * time.Millisecond)),
		NewParallelExecutor(WithCallTimeout(30 * time.Millisecond)),
	} {
		results := exec.ExecuteCalls(context.Background(), calls, fns, nil)
		require.Len(t, results, 3)
		assert.False(t, results[0].Success)
		assert.True(t, IsSystemError(results[0].Error))
		assert.NotContains(t, results[0].Output, "kaboom")
		assert.False(t, results[1].Success)
		require.ErrorIs(t, results[1].Error, ErrTimeout)
		assert.True(t, results[2].Success)
		assert.Equal(t, "fine", results[2].Output)
	}
}

func TestExecutors_ToolTimeoutOverridesDefault(t *testing.T) {
	t.Parallel()
	type A struct{}
	slow, err := NewTool("slow", "Slow", func(ctx context.Context, _ A) (string, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, WithTimeout(time.Second))
	require.NoError(t, err)
	results := NewSequentialExecutor(WithCallTimeout(5*time.Millisecond)).
		ExecuteCalls(context.Background(), []ToolCall{{ID: "1", ToolName: "slow"}}, Functions{"slow": slow}, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "done", results[0].Output)
}

func TestExecutors_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, NewParallelExecutor().ExecuteCalls(context.Background(), nil, nil, nil))
	assert.Empty(t, NewSequentialExecutor().ExecuteCalls(context.Background(), []ToolCall{}, nil, nil))
}
