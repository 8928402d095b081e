package types

// Chat roles understood by the engine facade.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Counters exposes the engine's live session counters. All fields are
// best-effort: adapters that cannot observe a value leave it zero.
type Counters struct {
	// Number of prompt tokens processed in the last exchange.
	PromptLen int `json:"prompt_len"`
	// Number of tokens generated so far in the last exchange.
	GenSeqLen int `json:"gen_seq_len"`
	// Total tokens processed across prompt and generation.
	AllSeqLen int `json:"all_seq_len"`
	// Prefill and decode wall time in microseconds.
	PrefillUS int64 `json:"prefill_us"`
	DecodeUS  int64 `json:"decode_us"`
}

// StatusReport is a read-only snapshot of the running session, served by
// the debug HTTP listener and assembled by the service core.
type StatusReport struct {
	// "processing" while a chat request is in flight, otherwise "idle".
	State string `json:"state"`
	// Number of messages in the conversation history (user+assistant pairs).
	HistoryCount int `json:"history_count"`
	// Whether a system prompt is currently set.
	SystemPromptSet bool `json:"system_prompt_set"`
	// Engine counters at snapshot time.
	Counters Counters `json:"counters"`
}
