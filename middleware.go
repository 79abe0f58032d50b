package toolthread

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a Tool. The wrapper keeps the metadata and XML schema of the tool it wraps.
type Middleware func(Tool) Tool

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Tool) Tool {
		return &middlewareTool{toolBase: toolBase{next: next}, logger: logger}
	}
}

// toolBase delegates Tool and ToolMetadata to the wrapped Tool; used by middleware wrappers.
type toolBase struct{ next Tool }

func (b *toolBase) Name() string               { return b.next.Name() }
func (b *toolBase) Description() string        { return b.next.Description() }
func (b *toolBase) Parameters() map[string]any { return b.next.Parameters() }

func (b *toolBase) Timeout() time.Duration {
	if tm, ok := b.next.(ToolMetadata); ok {
		return tm.Timeout()
	}
	return 0
}
func (b *toolBase) IsDangerous() bool {
	if tm, ok := b.next.(ToolMetadata); ok {
		return tm.IsDangerous()
	}
	return false
}

func (b *toolBase) XMLSchema() XMLSchema {
	if xt, ok := b.next.(XMLTool); ok {
		return xt.XMLSchema()
	}
	return XMLSchema{}
}

type middlewareTool struct {
	toolBase
	logger *slog.Logger
}

func (m *middlewareTool) Execute(ctx context.Context, args []byte, yield func(Chunk) error) error {
	m.logger.Info("tool start", "tool", m.next.Name())
	start := time.Now()
	chunks := 0
	err := m.next.Execute(ctx, args, func(c Chunk) error {
		chunks++
		return yield(c)
	})
	dur := time.Since(start)
	if err != nil {
		m.logger.Error("tool error", "tool", m.next.Name(), "duration", dur, "error", err)
		return err
	}
	m.logger.Info("tool end", "tool", m.next.Name(), "duration", dur, "chunks", chunks)
	return nil
}

// Use stores the given middlewares and reapplies them from scratch to all registered tools (onion order:
// first middleware is outermost). Tools registered after Use will also get these middlewares applied.
// Calling Use multiple times replaces the middleware chain and rewraps from raw tools, avoiding double-wrapping.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, raw := range r.rawTools {
		t := raw
		for i := len(middlewares) - 1; i >= 0; i-- {
			t = middlewares[i](t)
		}
		r.tools[name] = t
	}
}
