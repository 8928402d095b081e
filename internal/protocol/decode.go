package protocol

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Request methods accepted on the input channel.
const (
	MethodChat         = "chat"
	MethodStatus       = "status"
	MethodSystemPrompt = "system_prompt"
	MethodReset        = "reset"
	MethodExit         = "exit"
)

// Request is one decoded input line. It lives for exactly one dispatch.
type Request struct {
	ID      string
	Method  string
	Content string
	Params  map[string]string
}

// ExtractValue scans one input line for the literal quoted key and returns
// the raw value that follows it. This is a best-effort scanner, not a
// validating parser: the first occurrence of the key wins, and keys inside
// nested objects or arrays are not distinguished from top-level ones.
// Quoted values end at the first quote not immediately preceded by a
// backslash; bare values end at a comma, closing brace, closing bracket,
// or space. Returns "" when the key is absent or malformed.
func ExtractValue(line, key string) string {
	keyPos := strings.Index(line, `"`+key+`"`)
	if keyPos < 0 {
		return ""
	}
	rel := strings.IndexByte(line[keyPos:], ':')
	if rel < 0 {
		return ""
	}
	start := keyPos + rel + 1
	for start < len(line) && (line[start] == ' ' || line[start] == '\t') {
		start++
	}
	if start < len(line) && line[start] == '"' {
		start++
		end := start
		for end < len(line) {
			rel := strings.IndexByte(line[end:], '"')
			if rel < 0 {
				end = -1
				break
			}
			end += rel
			if line[end-1] != '\\' {
				break
			}
			end++
		}
		if end >= start {
			return line[start:end]
		}
		// Unterminated string: fall through to the bare-value scan,
		// starting just past the opening quote.
	}
	end := start
	for end < len(line) && line[end] != ',' && line[end] != '}' && line[end] != ']' && line[end] != ' ' {
		end++
	}
	return line[start:end]
}

// ParseRequest decodes one input line into a Request. Unknown or missing
// type values are passed through verbatim so the dispatcher can report
// them; the decoder itself never fails.
func ParseRequest(line string) Request {
	req := Request{Params: map[string]string{}}
	req.Method = Unescape(ExtractValue(line, "type"))
	req.ID = Unescape(ExtractValue(line, "id"))

	switch req.Method {
	case MethodChat:
		req.Content = Unescape(ExtractValue(line, "prompt"))
		req.Params["max_new_tokens"] = ExtractValue(line, "max_new_tokens")
	case MethodSystemPrompt:
		req.Content = Unescape(ExtractValue(line, "content"))
	case MethodReset, MethodStatus:
		// No payload fields.
	}
	return req
}

// Unescape reverses the standard JSON string escapes in a scanned value.
// Unknown escape sequences are preserved literally rather than rejected.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u':
			if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					var buf [utf8.UTFMax]byte
					n := utf8.EncodeRune(buf[:], rune(v))
					b.Write(buf[:n])
					i += 4
					continue
				}
			}
			b.WriteByte('\\')
			b.WriteByte('u')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// ParseTokenBudget parses a generation-length override. The string must be
// an optional leading sign followed by one or more decimal digits, matched
// in full; anything else is rejected and the engine default applies.
func ParseTokenBudget(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	i := 0
	if s[i] == '+' || s[i] == '-' {
		i++
	}
	if i == len(s) {
		return 0, false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
