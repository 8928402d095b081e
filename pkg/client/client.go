// Package client speaks the three-channel stdio protocol from the parent
// side: requests go to the service's input channel, generated text is
// collected from the framed primary channel, and structured events are read
// from the diagnostic channel. It drives integration tests and embedding
// parents alike.
package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"llmstdio/internal/stream"
)

// Event is one decoded diagnostic envelope.
type Event struct {
	Type      string          `json:"type"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Response  string          `json:"response,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatResult is the outcome of one chat exchange.
type ChatResult struct {
	// Streamed is the text observed between the stream markers on the
	// primary channel. Empty for zero-output sessions (no markers at all).
	Streamed string
	// Response is the full captured text from the response envelope.
	Response string
	// Events are all envelopes observed during the exchange, in order.
	Events []Event
}

// Client drives one service over its three streams. Methods are not safe
// for concurrent use; the protocol itself is strictly sequential.
type Client struct {
	in   io.Writer
	diag *bufio.Reader

	mu          sync.Mutex
	cond        *sync.Cond
	primary     bytes.Buffer
	primaryDone bool

	nextID int
}

// New attaches to the service's stdin writer and stdout/stderr readers.
// The primary channel is drained in the background so the service's
// unbuffered writes never block.
func New(in io.Writer, primary, diagnostic io.Reader) *Client {
	c := &Client{in: in, diag: bufio.NewReaderSize(diagnostic, 64*1024)}
	c.cond = sync.NewCond(&c.mu)
	go c.drainPrimary(primary)
	return c
}

func (c *Client) drainPrimary(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.primary.Write(buf[:n])
			c.cond.Broadcast()
			c.mu.Unlock()
		}
		if err != nil {
			c.mu.Lock()
			c.primaryDone = true
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
	}
}

// WaitReady consumes events until the initialization-success event arrives.
func (c *Client) WaitReady() (Event, error) {
	for {
		ev, err := c.nextEvent()
		if err != nil {
			return Event{}, err
		}
		if ev.Type == "status" && ev.Status == "ready" {
			return ev, nil
		}
		if ev.Type == "error" {
			return ev, fmt.Errorf("service failed to initialize: %s", ev.Message)
		}
	}
}

// Chat sends one chat request and blocks until the response envelope
// arrives. maxNewTokens <= 0 leaves the engine default in place.
func (c *Client) Chat(prompt string, maxNewTokens int) (ChatResult, error) {
	payload := map[string]any{
		"type":   "chat",
		"id":     c.id(),
		"prompt": prompt,
	}
	if maxNewTokens > 0 {
		payload["max_new_tokens"] = strconv.Itoa(maxNewTokens)
	}
	c.mu.Lock()
	mark := c.primary.Len()
	c.mu.Unlock()

	if err := c.send(payload); err != nil {
		return ChatResult{}, err
	}

	var res ChatResult
	for {
		ev, err := c.nextEvent()
		if err != nil {
			return res, err
		}
		res.Events = append(res.Events, ev)
		switch ev.Type {
		case "error":
			return res, fmt.Errorf("chat failed: %s", ev.Message)
		case "response":
			res.Response = ev.Response
			// Zero-output sessions emit no markers at all, so there is
			// no frame to wait for.
			if ev.Response != "" {
				res.Streamed = c.awaitFrame(mark)
			}
			return res, nil
		}
	}
}

// Status requests the live counters and returns the info event.
func (c *Client) Status() (Event, error) {
	if err := c.send(map[string]any{"type": "status", "id": c.id()}); err != nil {
		return Event{}, err
	}
	return c.nextEvent()
}

// SystemPrompt replaces the session system prompt.
func (c *Client) SystemPrompt(content string) (Event, error) {
	if err := c.send(map[string]any{"type": "system_prompt", "id": c.id(), "content": content}); err != nil {
		return Event{}, err
	}
	ev, err := c.nextEvent()
	if err != nil {
		return ev, err
	}
	if ev.Type == "error" {
		return ev, fmt.Errorf("system_prompt rejected: %s", ev.Message)
	}
	return ev, nil
}

// Reset clears the conversation history (the system prompt survives).
func (c *Client) Reset() (Event, error) {
	if err := c.send(map[string]any{"type": "reset", "id": c.id()}); err != nil {
		return Event{}, err
	}
	return c.nextEvent()
}

// Exit asks the service loop to terminate. No event is produced.
func (c *Client) Exit() error {
	return c.send(map[string]any{"type": "exit", "id": c.id()})
}

func (c *Client) send(payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = c.in.Write(b)
	return err
}

// nextEvent reads one envelope line. Lines are read without a length cap
// because a response envelope embeds the full generated text.
func (c *Client) nextEvent() (Event, error) {
	for {
		line, err := c.diag.ReadString('\n')
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			if err != nil {
				return Event{}, err
			}
			continue
		}
		var ev Event
		if uerr := json.Unmarshal([]byte(line), &ev); uerr != nil {
			return Event{}, fmt.Errorf("malformed diagnostic line: %w", uerr)
		}
		return ev, nil
	}
}

// awaitFrame blocks until one complete frame appears on the primary channel
// after byte offset mark and returns its text. The response envelope can
// arrive before the drain goroutine has observed the final primary bytes, so
// this has to wait rather than take a snapshot.
func (c *Client) awaitFrame(mark int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		s := c.primary.String()[mark:]
		if start := strings.Index(s, stream.StartMarker+"\n"); start >= 0 {
			rest := s[start+len(stream.StartMarker)+1:]
			if end := strings.Index(rest, stream.EndMarker); end >= 0 {
				return rest[:end]
			}
			if c.primaryDone {
				return rest
			}
		} else if c.primaryDone {
			return ""
		}
		c.cond.Wait()
	}
}

func (c *Client) id() string {
	c.nextID++
	return strconv.Itoa(c.nextID)
}
