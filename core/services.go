package core

import (
	"context"
	"time"
)

// GenerationService produces natural-language text for reflection,
// metacognition and planning prompts. Implementations wrap an external model
// API; every call is made with a bounded context by the orchestrator's job
// runner, never from inside the tick loop.
type GenerationService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbeddingService maps text to a fixed-length vector used for semantic
// dedup and contextual retrieval.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Clock supplies simulated time. Components never call time.Now for
// simulation decisions; tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by wall time.
func SystemClock() Clock { return ClockFunc(time.Now) }
