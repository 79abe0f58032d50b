// Package thread persists conversation threads: an active message log that can be
// edited and reset, and a history log that only grows.
package thread

import (
	"context"
	"errors"
)

var (
	// ErrThreadNotFound is returned by mutating operations on an unknown thread.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrIndexOutOfRange is returned by ModifyAt and RemoveAt.
	ErrIndexOutOfRange = errors.New("message index out of range")
)

// ListOptions selects a view of the active log. Options compose.
type ListOptions struct {
	// HideToolMessages drops tool messages and strips tool calls from the rest.
	HideToolMessages bool
	// OnlyLatestAssistant keeps only the most recent assistant message.
	OnlyLatestAssistant bool
	// RegularOnly keeps only system, user, assistant and tool messages.
	RegularOnly bool
}

// Store is the durable thread log. Every mutating call persists before it returns.
// A thread has one writer at a time; callers serialize writes to the same thread.
type Store interface {
	// Create makes a thread with empty active and history logs and returns its id.
	Create(ctx context.Context) (string, error)
	// Append adds msg to the active and history logs. A user message first repairs
	// unanswered tool calls (see RepairToolCalls).
	Append(ctx context.Context, id string, msg Message) error
	// List returns the active log through opts. An unknown thread yields an empty list.
	List(ctx context.Context, id string, opts ListOptions) ([]Message, error)
	// ModifyAt replaces the active message at index.
	ModifyAt(ctx context.Context, id string, index int, msg Message) error
	// RemoveAt deletes the active message at index.
	RemoveAt(ctx context.Context, id string, index int) error
	// Reset clears the active log and keeps the history.
	Reset(ctx context.Context, id string) error
	// AppendHistory adds msg to the history log only.
	AppendHistory(ctx context.Context, id string, msg Message) error
	// History returns the full history log.
	History(ctx context.Context, id string) ([]Message, error)
}

// Filter applies opts to msgs and returns a new slice; msgs is not modified.
func Filter(msgs []Message, opts ListOptions) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if opts.RegularOnly && !m.Role.Regular() {
			continue
		}
		if opts.HideToolMessages {
			if m.Role == RoleTool {
				continue
			}
			m.ToolCalls = nil
		}
		out = append(out, m.clone())
	}
	if opts.OnlyLatestAssistant {
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role == RoleAssistant {
				return out[i : i+1]
			}
		}
		return []Message{}
	}
	return out
}

// appendActive applies the Append rules to an active log.
func appendActive(active []Message, msg Message) ([]Message, int) {
	repaired := 0
	if msg.Role == RoleUser {
		active, repaired = RepairToolCalls(active)
	}
	return append(active, msg), repaired
}
