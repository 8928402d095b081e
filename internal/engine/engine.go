// Package engine defines the facade over the externally supplied LLM
// runtime. The service core delegates all model computation here: loading,
// chat completion with a token budget, streaming output into a sink, and
// session counters. The real adapter is built behind the 'llama' build tag;
// default builds get a stub that fails fast instead of mocking inference.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"llmstdio/pkg/types"
)

// Built reports whether this binary carries the real llama runtime. False
// means the fail-fast stub is compiled in and Load will refuse to run.
func Built() bool { return llamaBuilt }

// TuneEncoderOps is the tuning hint for encoder operator batch sizes.
// Candidate values are probed once after load.
const TuneEncoderOps = "op_encoder_number"

// DefaultTuneCandidates matches the probe set used by the original runtime.
var DefaultTuneCandidates = []int{1, 5, 10, 20, 30, 50, 100}

// Engine is the opaque capability object representing one loaded model
// session. Respond blocks until generation completes; tokens are written to
// the sink as they are produced. A non-positive maxNewTokens means the
// engine's default budget.
type Engine interface {
	// Load prepares the model for inference. Failure is fatal to startup.
	Load() error
	// SetOption applies a JSON fragment of runtime options, e.g.
	// {"tmp_path":"tmp"} or {"async":false}.
	SetOption(jsonFragment string) error
	// Tune probes candidate values for a runtime hint. Best effort.
	Tune(hint string, candidates []int)
	// Respond generates a reply to the message list, streaming output into
	// sink and honoring the token budget.
	Respond(ctx context.Context, msgs []types.ChatMessage, sink io.Writer, maxNewTokens int) error
	// TokenizerEncode returns the token ids for text, or nil when the
	// adapter cannot observe the tokenizer.
	TokenizerEncode(text string) []int
	// TokenizerDecode returns the text for one token id, or "" when the
	// adapter cannot observe the tokenizer.
	TokenizerDecode(token int) string
	// Reset clears the engine's internal conversation state and counters.
	Reset()
	// Counters reports the live session counters.
	Counters() types.Counters
}

// Config selects and parameterizes the engine adapter.
type Config struct {
	// ConfigPath points at the engine's own config file (JSON) describing
	// the model weights and runtime parameters.
	ConfigPath string
	// TmpPath is the scratch directory handed to the runtime.
	TmpPath string
}

// fileConfig is the engine config file shape. Unknown keys are ignored so
// runtime-specific files keep working.
type fileConfig struct {
	ModelPath   string  `json:"model_path"`
	ContextSize int     `json:"context_size"`
	Threads     int     `json:"threads"`
	MaxTokens   int     `json:"max_new_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, fmt.Errorf("empty engine config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse engine config %s: %w", path, err)
	}
	if fc.ModelPath == "" {
		return fc, fmt.Errorf("engine config %s: model_path is required", path)
	}
	return fc, nil
}

// New creates an engine handle from its config file. The handle is not
// loaded yet; call Load before Respond.
func New(cfg Config) (Engine, error) {
	fc, err := loadFileConfig(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	return newEngine(cfg, fc), nil
}

// options is the shared SetOption state used by both adapter builds.
type options struct {
	TmpPath string `json:"tmp_path"`
	Async   bool   `json:"async"`
}

func (o *options) apply(jsonFragment string) error {
	if err := json.Unmarshal([]byte(jsonFragment), o); err != nil {
		return fmt.Errorf("invalid option fragment: %w", err)
	}
	return nil
}
