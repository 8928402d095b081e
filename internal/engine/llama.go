//go:build llama

package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"

	"llmstdio/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaEngine adapts go-llama.cpp to the Engine facade. One engine owns one
// loaded model; Respond is blocking and the service loop guarantees a
// single in-flight call.
type llamaEngine struct {
	cfg  Config
	fc   fileConfig
	opts options

	mu       sync.Mutex
	model    *llama.LLama
	counters types.Counters
}

func newEngine(cfg Config, fc fileConfig) Engine {
	return &llamaEngine{cfg: cfg, fc: fc, opts: options{TmpPath: cfg.TmpPath}}
}

func (e *llamaEngine) Load() error {
	mo := []llama.ModelOption{}
	if e.fc.ContextSize > 0 {
		mo = append(mo, llama.SetContext(e.fc.ContextSize))
	}
	m, err := llama.New(e.fc.ModelPath, mo...)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
	return nil
}

func (e *llamaEngine) SetOption(jsonFragment string) error {
	return e.opts.apply(jsonFragment)
}

// Tune is a no-op for llama.cpp; the binding exposes no operator tuning.
func (e *llamaEngine) Tune(hint string, candidates []int) {}

func (e *llamaEngine) Respond(ctx context.Context, msgs []types.ChatMessage, sink io.Writer, maxNewTokens int) error {
	e.mu.Lock()
	m := e.model
	e.mu.Unlock()
	if m == nil {
		return errors.New("llama model not loaded")
	}

	prompt := renderPrompt(msgs)

	start := time.Now()
	var firstToken time.Time
	generated := 0
	m.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if generated == 0 {
			firstToken = time.Now()
		}
		generated++
		if _, err := io.WriteString(sink, tok); err != nil {
			return false
		}
		return true
	})

	po := []llama.PredictOption{
		llama.SetThreads(maxInt(1, e.fc.Threads)),
	}
	budget := maxNewTokens
	if budget <= 0 {
		budget = e.fc.MaxTokens
	}
	if budget > 0 {
		po = append(po, llama.SetTokens(budget))
	}
	if e.fc.Temperature > 0 {
		po = append(po, llama.SetTemperature(float32(e.fc.Temperature)))
	}
	if e.fc.TopP > 0 {
		po = append(po, llama.SetTopP(float32(e.fc.TopP)))
	}
	if e.fc.TopK > 0 {
		po = append(po, llama.SetTopK(e.fc.TopK))
	}

	_, err := m.Predict(prompt, po...)
	end := time.Now()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	promptLen := len(e.TokenizerEncode(prompt))
	e.mu.Lock()
	e.counters = types.Counters{
		PromptLen: promptLen,
		GenSeqLen: generated,
		AllSeqLen: promptLen + generated,
	}
	if generated > 0 {
		e.counters.PrefillUS = firstToken.Sub(start).Microseconds()
		e.counters.DecodeUS = end.Sub(firstToken).Microseconds()
	}
	e.mu.Unlock()
	return nil
}

func (e *llamaEngine) TokenizerEncode(text string) []int {
	e.mu.Lock()
	m := e.model
	e.mu.Unlock()
	if m == nil {
		return nil
	}
	count, tokens, err := m.TokenizeString(text)
	if err != nil || count <= 0 {
		return nil
	}
	out := make([]int, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, int(t))
	}
	return out
}

// TokenizerDecode is not exposed by the go-llama.cpp binding.
func (e *llamaEngine) TokenizerDecode(token int) string { return "" }

func (e *llamaEngine) Reset() {
	e.mu.Lock()
	e.counters = types.Counters{}
	e.mu.Unlock()
}

func (e *llamaEngine) Counters() types.Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// renderPrompt flattens role-tagged messages into a plain chat transcript.
// The system message, when present, always leads.
func renderPrompt(msgs []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString(types.RoleAssistant)
	b.WriteString(": ")
	return b.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
