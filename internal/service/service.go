// Package service implements the three-channel stdio core: a
// single-connection, line-oriented request/response server that reads one
// request per line from the input channel, streams generated text on the
// primary channel, and reports structured events on the diagnostic channel.
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmstdio/internal/engine"
	"llmstdio/internal/protocol"
	"llmstdio/internal/stream"
	"llmstdio/pkg/types"
)

// defaultEndStreamDelay absorbs asynchronous trailing writes from the
// engine before the end-of-stream marker is emitted.
const defaultEndStreamDelay = 500 * time.Millisecond

// Options configures a Core. Zero values select the production defaults.
type Options struct {
	// Primary receives the framed generated text (stdout in production).
	Primary io.Writer
	// Diagnostic receives structured envelopes (stderr in production).
	Diagnostic io.Writer
	// Logger is the operational log. It must never point at the primary or
	// diagnostic channel; use zerolog.Nop() to disable.
	Logger zerolog.Logger
	// EndStreamDelay overrides the trailing-write absorption delay.
	// Negative disables the delay (tests).
	EndStreamDelay time.Duration
	// DefaultMaxTokens is the token budget used when a chat request carries
	// no valid override. Non-positive means the engine default.
	DefaultMaxTokens int
}

// Core owns the session state: system prompt, ordered conversation history,
// and the processing flag. The loop is strictly sequential; the mutex only
// guards snapshot reads from the debug HTTP listener.
type Core struct {
	eng  engine.Engine
	out  io.Writer
	diag io.Writer
	log  zerolog.Logger

	endDelay      time.Duration
	defaultBudget int

	mu           sync.Mutex
	systemPrompt string
	history      []types.ChatMessage
	processing   bool
	running      bool
}

// New builds a Core around a loaded engine.
func New(eng engine.Engine, opts Options) *Core {
	delay := opts.EndStreamDelay
	if delay == 0 {
		delay = defaultEndStreamDelay
	}
	if delay < 0 {
		delay = 0
	}
	return &Core{
		eng:           eng,
		out:           opts.Primary,
		diag:          opts.Diagnostic,
		log:           opts.Logger,
		endDelay:      delay,
		defaultBudget: opts.DefaultMaxTokens,
	}
}

// AnnounceReady emits the initialization-success event on the diagnostic
// channel.
func (c *Core) AnnounceReady() {
	c.emit(protocol.Envelope("status", "ready", "engine initialized, ready for requests", "", ""))
}

// Run drives the read-decode-dispatch cycle until an exit request,
// end-of-input, or Stop. Handlers run to completion before the next line is
// read, so at most one request is ever in flight. Lines are read without a
// length cap: a chat prompt of any size is valid input, and no single
// request may take the loop down.
func (c *Core) Run(ctx context.Context, in io.Reader) error {
	c.setRunning(true)
	defer c.setRunning(false)

	reader := bufio.NewReaderSize(in, 64*1024)
	for c.isRunning() {
		line, err := reader.ReadString('\n')
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		// A final unterminated line is still dispatched before EOF handling.
		if line != "" {
			if exit := c.dispatch(ctx, line); exit {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

// dispatch decodes and handles one request line. It reports whether the
// loop should terminate.
func (c *Core) dispatch(ctx context.Context, line string) bool {
	req := protocol.ParseRequest(line)
	requestsTotal.WithLabelValues(label(req.Method)).Inc()
	c.log.Debug().Str("method", req.Method).Str("id", req.ID).Msg("request")

	switch req.Method {
	case protocol.MethodChat:
		c.handleChat(ctx, req)
	case protocol.MethodStatus:
		c.handleStatus(req)
	case protocol.MethodSystemPrompt:
		c.handleSystemPrompt(req)
	case protocol.MethodReset:
		c.handleReset(req)
	case protocol.MethodExit:
		return true
	default:
		requestErrorsTotal.WithLabelValues("unknown").Inc()
		c.emit(protocol.Envelope("error", "error", "unknown request type: "+req.Method, "", ""))
	}
	return false
}

// Stop requests a cooperative shutdown. It takes effect at the top of the
// next loop iteration; an in-flight handler is never preempted.
func (c *Core) Stop() { c.setRunning(false) }

// Snapshot builds a read-only status report for the debug HTTP listener.
func (c *Core) Snapshot() types.StatusReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := "idle"
	if c.processing {
		state = "processing"
	}
	return types.StatusReport{
		State:           state,
		HistoryCount:    len(c.history),
		SystemPromptSet: c.systemPrompt != "",
		Counters:        c.eng.Counters(),
	}
}

func (c *Core) handleChat(ctx context.Context, req protocol.Request) {
	c.setProcessing(true)
	defer c.setProcessing(false)
	start := time.Now()

	// Budget: full-match sign+digits override, otherwise the default.
	budget := c.defaultBudget
	if v, ok := protocol.ParseTokenBudget(req.Params["max_new_tokens"]); ok {
		budget = v
	}

	msgs := c.assembleMessages(req.Content)

	frame := stream.NewFrameWriter(c.out, nil)
	capture := &stream.Capture{}
	sink := stream.NewFanout(frame, capture)

	err := c.eng.Respond(ctx, msgs, sink, budget)

	// Absorb asynchronous trailing writes before closing the frame.
	if c.endDelay > 0 {
		time.Sleep(c.endDelay)
	}
	if endErr := frame.End(); endErr != nil {
		c.log.Error().Err(endErr).Msg("end stream marker")
	}

	if err != nil {
		requestErrorsTotal.WithLabelValues(protocol.MethodChat).Inc()
		c.emit(protocol.Envelope("error", "error", "chat request failed: "+err.Error(), "", ""))
		return
	}

	full := capture.String()
	streamedBytesTotal.Add(float64(capture.Len()))
	chatDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	c.history = append(c.history,
		types.ChatMessage{Role: types.RoleUser, Content: req.Content},
		types.ChatMessage{Role: types.RoleAssistant, Content: full},
	)
	c.mu.Unlock()

	c.emit(protocol.Envelope("status", "success", "stream complete", "", ""))
	c.emit(protocol.Envelope("response", "success", "full response generated", full, ""))
}

func (c *Core) handleStatus(req protocol.Request) {
	ctr := c.eng.Counters()
	c.mu.Lock()
	state := "idle"
	if c.processing {
		state = "processing"
	}
	historyCount := len(c.history)
	c.mu.Unlock()

	info := fmt.Sprintf("status:%s,prompt_len:%d,gen_seq_len:%d,chat_history_count:%d",
		state, ctr.PromptLen, ctr.GenSeqLen, historyCount)
	c.emit(protocol.Envelope("status", "info", info, "", ""))
}

func (c *Core) handleSystemPrompt(req protocol.Request) {
	if req.Content == "" {
		requestErrorsTotal.WithLabelValues(protocol.MethodSystemPrompt).Inc()
		c.emit(protocol.Envelope("error", "error", "system prompt content empty", "", ""))
		return
	}
	c.mu.Lock()
	c.systemPrompt = req.Content
	c.mu.Unlock()
	c.emit(protocol.Envelope("message", "success", "system prompt updated", "", ""))
}

func (c *Core) handleReset(req protocol.Request) {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	c.eng.Reset()
	// The system prompt deliberately survives a reset.
	c.emit(protocol.Envelope("message", "success", "model reset, chat history cleared, system prompt kept", "", ""))
}

// assembleMessages builds the full message list handed to the engine:
// [system message if set] + history + new user turn. The system prompt is
// never stored inside the history itself.
func (c *Core) assembleMessages(userContent string) []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]types.ChatMessage, 0, len(c.history)+2)
	if c.systemPrompt != "" {
		msgs = append(msgs, types.ChatMessage{Role: types.RoleSystem, Content: c.systemPrompt})
	}
	msgs = append(msgs, c.history...)
	msgs = append(msgs, types.ChatMessage{Role: types.RoleUser, Content: userContent})
	return msgs
}

// emit writes one envelope line to the diagnostic channel.
func (c *Core) emit(envelope string) {
	if c.diag == nil {
		return
	}
	if _, err := io.WriteString(c.diag, envelope+"\n"); err != nil {
		c.log.Error().Err(err).Msg("write diagnostic")
	}
}

func (c *Core) setProcessing(v bool) {
	c.mu.Lock()
	c.processing = v
	c.mu.Unlock()
}

func (c *Core) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

func (c *Core) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func label(method string) string {
	switch method {
	case protocol.MethodChat, protocol.MethodStatus, protocol.MethodSystemPrompt,
		protocol.MethodReset, protocol.MethodExit:
		return method
	}
	return "unknown"
}
