package mime

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/google/uuid"
)

const (
	// ContentTypeMultipartSigned is the MIME type for S/MIME detached signatures
	ContentTypeMultipartSigned = "multipart/signed"
	// ContentTypeMultipartReport is the MIME type for MDN reports
	ContentTypeMultipartReport = "multipart/report"
	// ContentTypePKCS7Signature is the MIME type of a detached signature part
	ContentTypePKCS7Signature = "application/pkcs7-signature"
	// ContentTypeXPKCS7Signature is the legacy signature MIME type
	ContentTypeXPKCS7Signature = "application/x-pkcs7-signature"
	// ContentTypePKCS7MIME is the MIME type of enveloped data
	ContentTypePKCS7MIME = "application/pkcs7-mime"
	// ContentTypeDispositionNotification is the MIME type of the MDN fields part
	ContentTypeDispositionNotification = "message/disposition-notification"
)

// Field is a single header field. Field order is significant when writing.
type Field struct {
	Name  string
	Value string
}

// Part is a MIME entity. Leaf parts carry Body, multipart entities carry
// Parts. Parsed parts also keep Raw, the exact bytes the part was read from.
type Part struct {
	Header   []Field
	Body     []byte
	Parts    []*Part
	Boundary string
	Raw      []byte
}

// NewPart creates a leaf part with the given header fields
func NewPart(body []byte, fields ...Field) *Part {
	return &Part{Header: fields, Body: body}
}

// NewMultipart creates a multipart entity. The boundary parameter is added
// to contentType when the part is written.
func NewMultipart(contentType string, parts ...*Part) *Part {
	return &Part{
		Header: []Field{{Name: "Content-Type", Value: contentType}},
		Parts:  parts,
	}
}

// Add appends a header field
func (p *Part) Add(name, value string) {
	p.Header = append(p.Header, Field{Name: name, Value: value})
}

// Get returns the value of the first header field with the given name
func (p *Part) Get(name string) string {
	for _, f := range p.Header {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// IsMultipart reports whether the part has nested parts
func (p *Part) IsMultipart() bool {
	return len(p.Parts) > 0
}

// ContentType returns the raw Content-Type header value
func (p *Part) ContentType() string {
	return p.Get("Content-Type")
}

// MediaType returns the lowercase media type without parameters
func (p *Part) MediaType() string {
	h := p.messageHeader()
	mediaType, _ := splitMediaType(&h)
	return mediaType
}

// Param returns a Content-Type parameter
func (p *Part) Param(name string) string {
	h := p.messageHeader()
	_, params := splitMediaType(&h)
	return params[strings.ToLower(name)]
}

// Filename returns the filename from Content-Disposition, falling back to
// the name parameter of Content-Type.
func (p *Part) Filename() string {
	h := p.messageHeader()
	if _, params, err := h.ContentDisposition(); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	_, params := splitMediaType(&h)
	return params["name"]
}

func (p *Part) messageHeader() message.Header {
	var h message.Header
	for _, f := range p.Header {
		h.Add(f.Name, f.Value)
	}
	return h
}

// Bytes serializes the part including its header. A multipart part without
// a boundary gets a generated one, which is stored on the part so repeated
// calls produce identical output.
func (p *Part) Bytes() []byte {
	var buf bytes.Buffer
	p.writeHeader(&buf)
	buf.WriteString("\r\n")
	p.writeBody(&buf)
	return buf.Bytes()
}

// BodyBytes serializes the part without its header
func (p *Part) BodyBytes() []byte {
	var buf bytes.Buffer
	p.writeBody(&buf)
	return buf.Bytes()
}

// WriteTo writes the serialized part to w
func (p *Part) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Bytes())
	return int64(n), err
}

func (p *Part) writeHeader(buf *bytes.Buffer) {
	if p.IsMultipart() && p.Boundary == "" {
		p.Boundary = NewBoundary()
	}

	wroteContentType := false
	for _, f := range p.Header {
		value := f.Value
		if strings.EqualFold(f.Name, "Content-Type") {
			wroteContentType = true
			if p.IsMultipart() && !strings.Contains(strings.ToLower(value), "boundary=") {
				value = fmt.Sprintf("%s; boundary=%q", value, p.Boundary)
			}
		}
		fmt.Fprintf(buf, "%s: %s\r\n", f.Name, value)
	}

	if p.IsMultipart() && !wroteContentType {
		fmt.Fprintf(buf, "Content-Type: multipart/mixed; boundary=%q\r\n", p.Boundary)
	}
}

func (p *Part) writeBody(buf *bytes.Buffer) {
	if !p.IsMultipart() {
		buf.Write(p.Body)
		return
	}

	if p.Boundary == "" {
		p.Boundary = NewBoundary()
	}
	for _, child := range p.Parts {
		buf.WriteString("--" + p.Boundary + "\r\n")
		buf.Write(child.Bytes())
		buf.WriteString("\r\n")
	}
	buf.WriteString("--" + p.Boundary + "--\r\n")
}

// NewBoundary generates a multipart boundary. Boundaries always contain "=_",
// which cannot occur in quoted-printable content.
func NewBoundary() string {
	return fmt.Sprintf("----=_Part_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

// splitMediaType parses the Content-Type of h. Values with malformed
// parameters still yield their media type so that sloppy senders can be
// served.
func splitMediaType(h *message.Header) (string, map[string]string) {
	value := h.Get("Content-Type")
	if value == "" {
		return "", map[string]string{}
	}
	mediaType, params, err := h.ContentType()
	if err != nil || mediaType == "" {
		mediaType = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
		return strings.ToLower(mediaType), map[string]string{}
	}
	if params == nil {
		params = map[string]string{}
	}
	return strings.ToLower(mediaType), params
}
