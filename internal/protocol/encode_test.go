package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func withFixedClock(t *testing.T, ms int64) {
	t.Helper()
	orig := nowMillis
	nowMillis = func() int64 { return ms }
	t.Cleanup(func() { nowMillis = orig })
}

func TestEscapeString(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"quote and backslash", `a"b\c`, `a\"b\\c`},
		{"short escapes", "a\nb\tc\rd\be\ff", `a\nb\tc\rd\be\ff`},
		{"control byte", "a\x01b", "a\\u0001b"},
		// Multi-byte UTF-8 is escaped byte by byte, not as a code point.
		{"non-ascii bytewise", "\u00e9", "\\u00C3\\u00A9"},
		{"del passes", "\x7f", "\x7f"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EscapeString(tc.in); got != tc.want {
				t.Fatalf("EscapeString(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEnvelopeReadyRoundTrip(t *testing.T) {
	withFixedClock(t, 1700000000000)

	line := Envelope("status", "ready", "", "", "")
	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\n%s", err, line)
	}
	if got["type"] != "status" || got["status"] != "ready" {
		t.Fatalf("unexpected fields: %v", got)
	}
	if got["timestamp"] != float64(1700000000000) {
		t.Fatalf("timestamp = %v", got["timestamp"])
	}
	for _, absent := range []string{"message", "response", "data"} {
		if _, ok := got[absent]; ok {
			t.Fatalf("empty field %q should be omitted: %s", absent, line)
		}
	}
}

func TestEnvelopeFieldOrder(t *testing.T) {
	withFixedClock(t, 42)

	line := Envelope("response", "success", "done", "text", `{"n":1}`)
	want := `{"type":"response","status":"success","message":"done","response":"text","data":{"n":1},"timestamp":42}`
	if line != want {
		t.Fatalf("envelope = %s\nwant       %s", line, want)
	}
}

func TestEnvelopeEscapesPayload(t *testing.T) {
	withFixedClock(t, 1)

	line := Envelope("response", "success", "", "He said \"hi\"\nBye\\", "")
	var got struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, line)
	}
	if got.Response != "He said \"hi\"\nBye\\" {
		t.Fatalf("response = %q", got.Response)
	}
}

func TestEnvelopeEmbedsDataRaw(t *testing.T) {
	withFixedClock(t, 1)

	line := Envelope("status", "info", "", "", `{"state":"READY","count":3}`)
	if !strings.Contains(line, `"data":{"state":"READY","count":3}`) {
		t.Fatalf("data not embedded raw: %s", line)
	}
	var got struct {
		Data struct {
			State string `json:"state"`
			Count int    `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Data.State != "READY" || got.Data.Count != 3 {
		t.Fatalf("data = %+v", got.Data)
	}
}

func TestLegacyEnvelope(t *testing.T) {
	line := LegacyEnvelope("5", "ack", "ok")
	if line != `{"id":"5","type":"ack","content":"ok"}` {
		t.Fatalf("legacy envelope = %s", line)
	}
}
