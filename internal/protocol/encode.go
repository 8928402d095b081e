package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// nowMillis is swapped out in tests for reproducible timestamps.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// EscapeString escapes a value for embedding in a diagnostic envelope.
// The short escapes cover quote, backslash, backspace, form feed, newline,
// carriage return, and tab. Every other byte below 0x20 or above 0x7F is
// emitted as a four-hex-digit \u00XX escape of the raw byte value. That
// means multi-byte UTF-8 sequences are escaped byte by byte rather than as
// code points; the external parent process expects exactly this framing,
// so the byte-wise behavior must be preserved.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c > 0x7F {
				fmt.Fprintf(&b, `\u%04X`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// Envelope builds one structured diagnostic message. Field order is fixed
// (type, status, message, response, data, timestamp) so that output is
// reproducible; optional fields are included only when non-empty. The data
// argument, when present, must be pre-validated JSON and is embedded raw.
func Envelope(messageType, status, message, responseText, data string) string {
	var b strings.Builder
	b.WriteString(`{"type":"`)
	b.WriteString(EscapeString(messageType))
	b.WriteByte('"')

	if status != "" {
		b.WriteString(`,"status":"`)
		b.WriteString(EscapeString(status))
		b.WriteByte('"')
	}
	if message != "" {
		b.WriteString(`,"message":"`)
		b.WriteString(EscapeString(message))
		b.WriteByte('"')
	}
	if responseText != "" {
		b.WriteString(`,"response":"`)
		b.WriteString(EscapeString(responseText))
		b.WriteByte('"')
	}
	if data != "" {
		b.WriteString(`,"data":`)
		b.WriteString(data)
	}
	b.WriteString(`,"timestamp":`)
	b.WriteString(strconv.FormatInt(nowMillis(), 10))
	b.WriteByte('}')
	return b.String()
}

// LegacyEnvelope builds the flat {id,type,content} acknowledgement used by
// older call sites. Fields are emitted literally, without escaping, exactly
// as the historical consumers expect. The chat path does not use it.
func LegacyEnvelope(id, messageType, content string) string {
	return `{"id":"` + id + `","type":"` + messageType + `","content":"` + content + `"}`
}
