package thread

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]Store{"file": fileStore, "sqlite": sqliteStore}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func TestStore_AppendListHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx)
		require.NoError(t, err)

		msgs, err := s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, msgs)

		require.NoError(t, s.Append(ctx, id, UserMessage("hello")))
		require.NoError(t, s.Append(ctx, id, AssistantMessage("hi")))
		msgs, err = s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Content.String())
		assert.Equal(t, RoleAssistant, msgs[1].Role)

		history, err := s.History(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, msgs, history)
	})
}

func TestStore_ListUnknownThreadIsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		msgs, err := s.List(context.Background(), "does-not-exist", ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_MutationsOnUnknownThreadFail(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.ErrorIs(t, s.Append(ctx, "nope", UserMessage("x")), ErrThreadNotFound)
		require.ErrorIs(t, s.ModifyAt(ctx, "nope", 0, UserMessage("x")), ErrThreadNotFound)
		require.ErrorIs(t, s.RemoveAt(ctx, "nope", 0), ErrThreadNotFound)
		require.ErrorIs(t, s.Reset(ctx, "nope"), ErrThreadNotFound)
		_, err := s.History(ctx, "nope")
		require.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestStore_CrashRecoveryOnUserAppend(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, id, UserMessage("fix the bug")))
		require.NoError(t, s.Append(ctx, id, callsMessage("c1", "c2", "c3")))
		// Process stops before any tool result is written.
		require.NoError(t, s.Append(ctx, id, UserMessage("are you there?")))

		msgs, err := s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		require.Len(t, msgs, 6)
		for i, callID := range []string{"c1", "c2", "c3"} {
			m := msgs[2+i]
			assert.Equal(t, RoleTool, m.Role)
			assert.Equal(t, callID, m.ToolCallID)
			assert.Equal(t, InterruptedContent(), m.Content.String())
		}
		assert.Equal(t, "are you there?", msgs[5].Content.String())

		// A second user message does not synthesize anything new.
		require.NoError(t, s.Append(ctx, id, UserMessage("again")))
		msgs, err = s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, msgs, 7)
	})
}

func TestStore_NonUserAppendDoesNotRepair(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, id, callsMessage("c1", "c2")))
		require.NoError(t, s.Append(ctx, id, ToolMessage("c1", "fn_c1", "ok")))
		msgs, err := s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})
}

func TestStore_ModifyRemoveReset(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx)
		require.NoError(t, err)
		for i := range 3 {
			require.NoError(t, s.Append(ctx, id, UserMessage(fmt.Sprintf("m%d", i))))
		}
		require.NoError(t, s.ModifyAt(ctx, id, 1, AssistantMessage("edited")))
		require.NoError(t, s.RemoveAt(ctx, id, 0))
		require.ErrorIs(t, s.RemoveAt(ctx, id, 5), ErrIndexOutOfRange)
		require.ErrorIs(t, s.ModifyAt(ctx, id, -1, UserMessage("x")), ErrIndexOutOfRange)

		msgs, err := s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "edited", msgs[0].Content.String())
		assert.Equal(t, "m2", msgs[1].Content.String())

		require.NoError(t, s.Reset(ctx, id))
		msgs, err = s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, msgs)

		history, err := s.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "m0", history[0].Content.String())

		require.NoError(t, s.AppendHistory(ctx, id, SystemMessage("note")))
		history, err = s.History(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, 4)
		msgs, err = s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_ListFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.Create(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, id, UserMessage("q")))
		require.NoError(t, s.Append(ctx, id, callsMessage("c1")))
		require.NoError(t, s.Append(ctx, id, ToolMessage("c1", "fn_c1", "r")))
		require.NoError(t, s.Append(ctx, id, AssistantMessage("answer")))
		require.NoError(t, s.Append(ctx, id, Message{Role: "browser_state", Content: Text("{}")}))

		msgs, err := s.List(ctx, id, ListOptions{HideToolMessages: true})
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		for _, m := range msgs {
			assert.NotEqual(t, RoleTool, m.Role)
			assert.Empty(t, m.ToolCalls)
		}

		msgs, err = s.List(ctx, id, ListOptions{RegularOnly: true})
		require.NoError(t, err)
		assert.Len(t, msgs, 4)

		msgs, err = s.List(ctx, id, ListOptions{OnlyLatestAssistant: true})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "answer", msgs[0].Content.String())

		msgs, err = s.List(ctx, id, ListOptions{HideToolMessages: true, RegularOnly: true})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []Role{RoleUser, RoleAssistant, RoleAssistant}, []Role{msgs[0].Role, msgs[1].Role, msgs[2].Role})

		// The stored log still has the tool calls.
		msgs, err = s.List(ctx, id, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, msgs[1].ToolCalls, 1)
	})
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, WithIDGenerator(func() string { return "t1" }))
	require.NoError(t, err)
	ctx := context.Background()
	id, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", id)
	require.NoError(t, s.Append(ctx, id, UserMessage("hi")))

	active, err := os.ReadFile(filepath.Join(dir, "t1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}]}`, string(active))
	history, err := os.ReadFile(filepath.Join(dir, "t1_history.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}]}`, string(history))
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "threads")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	outside := filepath.Join(root, "x.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"messages":[{"role":"user","content":"secret"}]}`), 0o600))

	for _, id := range []string{"../x", "..", "a/b", `a\b`, ""} {
		t.Run(fmt.Sprintf("%q", id), func(t *testing.T) {
			require.ErrorIs(t, s.Append(ctx, id, UserMessage("x")), ErrThreadNotFound)
			require.ErrorIs(t, s.ModifyAt(ctx, id, 0, UserMessage("x")), ErrThreadNotFound)
			require.ErrorIs(t, s.RemoveAt(ctx, id, 0), ErrThreadNotFound)
			require.ErrorIs(t, s.Reset(ctx, id), ErrThreadNotFound)
			require.ErrorIs(t, s.AppendHistory(ctx, id, UserMessage("x")), ErrThreadNotFound)
			_, err := s.History(ctx, id)
			require.ErrorIs(t, err, ErrThreadNotFound)
			msgs, err := s.List(ctx, id, ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Contains(t, string(data), "secret")
	_, err = os.Stat(filepath.Join(root, "x_history.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad, err := NewFileStore(dir, WithIDGenerator(func() string { return "../y" }))
	require.NoError(t, err)
	_, err = bad.Create(ctx)
	require.Error(t, err)
}

func TestFilter_DoesNotAliasInput(t *testing.T) {
	in := []Message{callsMessage("a")}
	out := Filter(in, ListOptions{HideToolMessages: true})
	require.Len(t, out, 1)
	assert.Nil(t, out[0].ToolCalls)
	assert.Len(t, in[0].ToolCalls, 1)
}
