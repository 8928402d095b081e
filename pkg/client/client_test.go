package client

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmstdio/internal/service"
	"llmstdio/pkg/types"
)

// scriptedEngine replays one canned reply per chat request.
type scriptedEngine struct {
	replies []string
	budgets []int
	calls   int
}

func (s *scriptedEngine) Load() error { return nil }

func (s *scriptedEngine) SetOption(string) error { return nil }

func (s *scriptedEngine) Tune(string, []int) {}

func (s *scriptedEngine) TokenizerEncode(string) []int { return nil }

func (s *scriptedEngine) TokenizerDecode(int) string { return "" }

func (s *scriptedEngine) Reset() {}

func (s *scriptedEngine) Counters() types.Counters {
	return types.Counters{PromptLen: 5, GenSeqLen: 2, AllSeqLen: 7}
}

func (s *scriptedEngine) Respond(_ context.Context, _ []types.ChatMessage, sink io.Writer, maxNewTokens int) error {
	s.budgets = append(s.budgets, maxNewTokens)
	reply := ""
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	for _, tok := range strings.SplitAfter(reply, " ") {
		if tok == "" {
			continue
		}
		if _, err := io.WriteString(sink, tok); err != nil {
			return err
		}
	}
	return nil
}

// startService wires a live core to the client over real pipes, the same
// shape as a spawned child process.
func startService(t *testing.T, eng *scriptedEngine) (*Client, <-chan error) {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	diagR, diagW := io.Pipe()

	core := service.New(eng, service.Options{
		Primary:        outW,
		Diagnostic:     diagW,
		Logger:         zerolog.Nop(),
		EndStreamDelay: -1,
	})

	done := make(chan error, 1)
	go func() {
		core.AnnounceReady()
		err := core.Run(context.Background(), inR)
		_ = outW.Close()
		_ = diagW.Close()
		done <- err
	}()

	return New(inW, outR, diagR), done
}

func TestClientFullSession(t *testing.T) {
	eng := &scriptedEngine{replies: []string{"Hello there", "", "Fresh start"}}
	cl, done := startService(t, eng)

	ready, err := cl.WaitReady()
	require.NoError(t, err)
	assert.Equal(t, "ready", ready.Status)

	ev, err := cl.SystemPrompt("Be brief.")
	require.NoError(t, err)
	assert.Equal(t, "success", ev.Status)

	res, err := cl.Chat("hi", 64)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Response)
	assert.Equal(t, "Hello there", res.Streamed, "streamed frame matches the response envelope")
	require.Len(t, res.Events, 2)
	assert.Equal(t, "status", res.Events[0].Type)
	assert.Equal(t, []int{64}, eng.budgets)

	st, err := cl.Status()
	require.NoError(t, err)
	assert.Equal(t, "info", st.Status)
	assert.Contains(t, st.Message, "chat_history_count:2")

	// Zero-output chat: no frame on the primary channel, empty response.
	res, err = cl.Chat("say nothing", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Response)
	assert.Empty(t, res.Streamed)

	ev, err = cl.Reset()
	require.NoError(t, err)
	assert.Equal(t, "success", ev.Status)

	st, err = cl.Status()
	require.NoError(t, err)
	assert.Contains(t, st.Message, "chat_history_count:0")

	res, err = cl.Chat("again", 0)
	require.NoError(t, err)
	assert.Equal(t, "Fresh start", res.Streamed)

	require.NoError(t, cl.Exit())
	require.NoError(t, <-done)
}

func TestClientRejectedSystemPrompt(t *testing.T) {
	cl, done := startService(t, &scriptedEngine{})

	_, err := cl.WaitReady()
	require.NoError(t, err)

	_, err = cl.SystemPrompt("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system prompt content empty")

	require.NoError(t, cl.Exit())
	require.NoError(t, <-done)
}
