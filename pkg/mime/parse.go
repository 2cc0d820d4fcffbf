package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
)

var (
	// ErrNoBoundary is returned for multipart entities without a boundary parameter
	ErrNoBoundary = errors.New("multipart boundary not found")
	// ErrNoParts is returned for multipart entities without any body part
	ErrNoParts = errors.New("multipart entity has no parts")
)

// Parse reads a MIME entity. Multipart bodies are split recursively. Every
// part keeps its exact source bytes in Raw; leaf bodies are decoded
// according to their Content-Transfer-Encoding.
func Parse(data []byte) (*Part, error) {
	fields, bodyOffset := readHeader(data)

	part := &Part{
		Header: fields,
		Raw:    data,
	}
	rawBody := data[bodyOffset:]

	if strings.HasPrefix(part.MediaType(), "multipart/") {
		boundary := part.Param("boundary")
		if boundary == "" {
			return nil, ErrNoBoundary
		}
		part.Boundary = boundary
		part.Body = rawBody

		chunks := splitMultipart(rawBody, boundary)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("%w: boundary %q", ErrNoParts, boundary)
		}
		for i, chunk := range chunks {
			child, err := Parse(chunk)
			if err != nil {
				return nil, fmt.Errorf("parsing part %d: %w", i, err)
			}
			part.Parts = append(part.Parts, child)
		}
		return part, nil
	}

	part.Body = decodeBody(part, rawBody)
	return part, nil
}

// decodeBody undoes the transfer encoding of a leaf part. Bodies that cannot
// be decoded are returned as they appear on the wire.
func decodeBody(part *Part, raw []byte) []byte {
	if part.Get("Content-Transfer-Encoding") == "" {
		return raw
	}

	entity, err := message.New(part.messageHeader(), bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return raw
	}

	decoded, err := io.ReadAll(entity.Body)
	if err != nil {
		return raw
	}
	return decoded
}

// readHeader splits the header block off data. It returns the unfolded
// header fields in source order and the offset of the first body byte.
func readHeader(data []byte) ([]Field, int) {
	var fields []Field
	offset := 0

	for offset < len(data) {
		end := bytes.IndexByte(data[offset:], '\n')
		var line []byte
		next := len(data)
		if end >= 0 {
			line = data[offset : offset+end]
			next = offset + end + 1
		} else {
			line = data[offset:]
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			return fields, next
		}

		if (line[0] == ' ' || line[0] == '\t') && len(fields) > 0 {
			last := &fields[len(fields)-1]
			last.Value += " " + strings.TrimSpace(string(line))
		} else if name, value, ok := strings.Cut(string(line), ":"); ok {
			fields = append(fields, Field{
				Name:  strings.TrimSpace(name),
				Value: strings.TrimSpace(value),
			})
		}
		offset = next
	}

	return fields, len(data)
}

// splitMultipart returns the raw bytes of each body part. A delimiter must
// start a line and the line break preceding it belongs to the delimiter. A
// missing close delimiter is tolerated; trailing content is kept as a final
// part unless it is blank.
func splitMultipart(body []byte, boundary string) [][]byte {
	delimiter := []byte("--" + boundary)

	var parts [][]byte
	partStart := -1
	pos := 0

	for pos <= len(body) {
		idx := indexDelimiter(body, delimiter, pos)
		if idx < 0 {
			break
		}

		if partStart >= 0 {
			end := idx
			if end > 0 && body[end-1] == '\n' {
				end--
				if end > 0 && body[end-1] == '\r' {
					end--
				}
			}
			if end < partStart {
				end = partStart
			}
			parts = append(parts, body[partStart:end])
		}

		after := idx + len(delimiter)
		if bytes.HasPrefix(body[after:], []byte("--")) {
			return parts
		}

		lineEnd := bytes.IndexByte(body[after:], '\n')
		if lineEnd < 0 {
			return parts
		}
		partStart = after + lineEnd + 1
		pos = partStart
	}

	if partStart >= 0 && partStart < len(body) {
		if rest := body[partStart:]; len(bytes.TrimSpace(rest)) > 0 {
			parts = append(parts, rest)
		}
	}
	return parts
}

// indexDelimiter finds the next delimiter line at or after pos.
func indexDelimiter(body, delimiter []byte, pos int) int {
	for pos < len(body) {
		i := bytes.Index(body[pos:], delimiter)
		if i < 0 {
			return -1
		}
		idx := pos + i
		after := idx + len(delimiter)
		atLineStart := idx == 0 || body[idx-1] == '\n'
		if atLineStart && (after == len(body) || isDelimiterSuffix(body[after])) {
			return idx
		}
		pos = idx + 1
	}
	return -1
}

func isDelimiterSuffix(c byte) bool {
	switch c {
	case '-', '\r', '\n', ' ', '\t':
		return true
	}
	return false
}
