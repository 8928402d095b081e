//go:build !llama

package engine

// This file provides a no-CGO stub for the llama engine. It is compiled
// when the 'llama' build tag is NOT set, keeping default builds and CI
// CGO-free. The real adapter lives in llama.go (tagged 'llama').

import (
	"context"
	"io"

	"llmstdio/pkg/types"
)

var llamaBuilt = false

// stubEngine satisfies Engine but refuses to run inference without the
// 'llama' build tag. This avoids any mocked behavior in binaries built
// without CGO support.
type stubEngine struct {
	opts options
}

func newEngine(cfg Config, fc fileConfig) Engine {
	return &stubEngine{opts: options{TmpPath: cfg.TmpPath}}
}

// Load fails fast: the llama runtime is not available in this build.
func (e *stubEngine) Load() error {
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *stubEngine) SetOption(jsonFragment string) error {
	return e.opts.apply(jsonFragment)
}

func (e *stubEngine) Tune(hint string, candidates []int) {}

// Respond should never be reached because Load fails, but return a clear
// error anyway.
func (e *stubEngine) Respond(ctx context.Context, msgs []types.ChatMessage, sink io.Writer, maxNewTokens int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *stubEngine) TokenizerEncode(text string) []int { return nil }

func (e *stubEngine) TokenizerDecode(token int) string { return "" }

func (e *stubEngine) Reset() {}

func (e *stubEngine) Counters() types.Counters { return types.Counters{} }
