package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Base64 layout schemes
const (
	// SchemeRFC2045 wraps encoded output at 60 columns with CRLF line breaks
	SchemeRFC2045 = "rfc2045"
	// SchemeRFC4648 emits a single unwrapped line
	SchemeRFC4648 = "rfc4648"
)

// rfc2045LineLength matches the line length most AS2 implementations emit.
const rfc2045LineLength = 60

// Base64Encode encodes data using the named scheme. An empty scheme selects
// RFC 4648 so that callers that never configured a format keep getting
// unwrapped output.
func Base64Encode(data []byte, scheme string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(data)

	switch strings.ToLower(scheme) {
	case "", SchemeRFC4648:
		return encoded, nil
	case SchemeRFC2045:
		var b strings.Builder
		for len(encoded) > rfc2045LineLength {
			b.WriteString(encoded[:rfc2045LineLength])
			b.WriteString("\r\n")
			encoded = encoded[rfc2045LineLength:]
		}
		b.WriteString(encoded)
		b.WriteString("\r\n")
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported base64 scheme: %s", scheme)
	}
}

// CanonicalizeLineEndings replaces every LF that is not already preceded by
// a CR with CRLF.
func CanonicalizeLineEndings(data []byte) []byte {
	if bytes.IndexByte(data, '\n') < 0 {
		return data
	}

	out := make([]byte, 0, len(data)+bytes.Count(data, []byte{'\n'}))
	for i, c := range data {
		if c == '\n' && (i == 0 || data[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, c)
	}
	return out
}

// Quote returns an AS2 identifier in its header form. Names containing
// whitespace are wrapped in double quotes with interior quotes escaped.
// Already quoted names are returned unchanged.
func Quote(name string) string {
	if strings.HasPrefix(name, `"`) || !strings.ContainsAny(name, " \t") {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

// Unquote reverses Quote. Strings without surrounding double quotes are
// returned unchanged.
func Unquote(value string) string {
	if len(value) < 2 || !strings.HasPrefix(value, `"`) || !strings.HasSuffix(value, `"`) {
		return value
	}
	return strings.ReplaceAll(value[1:len(value)-1], `\"`, `"`)
}

// QuoteValue applies Quote to string values and returns any other value
// unchanged. It is meant for loosely typed sources such as decoded YAML.
func QuoteValue(v any) any {
	if s, ok := v.(string); ok {
		return Quote(s)
	}
	return v
}

// UnquoteValue applies Unquote to string values and returns any other value
// unchanged.
func UnquoteValue(v any) any {
	if s, ok := v.(string); ok {
		return Unquote(s)
	}
	return v
}

// GenerateMessageID returns a new message id for the given system name and
// domain in the form <name-YYYYMMDD-HHMMSS-uuid@domain>.
func GenerateMessageID(name, domain string) string {
	return fmt.Sprintf("<%s-%s-%s@%s>",
		name,
		time.Now().Format("20060102-150405"),
		uuid.NewString(),
		domain,
	)
}
