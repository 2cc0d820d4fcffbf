package mdn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/identity"
	"github.com/sirosfoundation/go-as2/pkg/mic"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

const (
	dispositionMode = "automatic-action/MDN-sent-automatically"

	processedText = "The AS2 message has been received successfully"
	failedText    = "There was an error with the AS2 transmission.\r\n\r\n"
)

// ErrSigning is returned when the receipt cannot be signed
var ErrSigning = errors.New("signing MDN failed")

// Disposition is the outcome reported to the sender
type Disposition struct {
	Failed bool
	Reason string
}

// Processed is the disposition of a successfully received message
func Processed() Disposition {
	return Disposition{}
}

// Failed is the disposition of a rejected message
func Failed(reason string) Disposition {
	return Disposition{Failed: true, Reason: reason}
}

// String returns the Disposition field value
func (d Disposition) String() string {
	if d.Failed {
		return dispositionMode + "; failed"
	}
	return dispositionMode + "; processed"
}

// MIC is a message integrity check echoed back to the sender
type MIC struct {
	Digest    string
	Algorithm string
}

// String returns the Received-Content-MIC field value
func (m MIC) String() string {
	return m.Digest + ", " + m.Algorithm
}

// Receipt is the content of an MDN
type Receipt struct {
	Disposition       Disposition
	OriginalMessageID string
	MIC               *MIC
	ReportingName     string
}

// Build assembles a receipt
func Build(disposition Disposition, originalMessageID string, m *MIC, reportingName string) *Receipt {
	return &Receipt{
		Disposition:       disposition,
		OriginalMessageID: originalMessageID,
		MIC:               m,
		ReportingName:     reportingName,
	}
}

// MICAlgorithm is the algorithm announced in the micalg parameter. Without
// a MIC it is a placeholder.
func (r *Receipt) MICAlgorithm() string {
	if r.MIC != nil && r.MIC.Algorithm != "" {
		return r.MIC.Algorithm
	}
	return mic.DefaultAlgorithm
}

// Fields returns the disposition notification fields in RFC 4130 order
func (r *Receipt) Fields() []mime.Field {
	fields := []mime.Field{
		{Name: "Reporting-UA", Value: r.ReportingName},
		{Name: "Original-Recipient", Value: "rfc822; " + r.ReportingName},
		{Name: "Final-Recipient", Value: "rfc822; " + r.ReportingName},
		{Name: "Original-Message-ID", Value: r.OriginalMessageID},
		{Name: "Disposition", Value: r.Disposition.String()},
	}
	if r.Disposition.Failed {
		fields = append(fields, mime.Field{Name: "Failure", Value: singleLine(r.Disposition.Reason)})
	}
	if r.MIC != nil {
		fields = append(fields, mime.Field{Name: "Received-Content-MIC", Value: r.MIC.String()})
	}
	return fields
}

// Text is the human readable explanation
func (r *Receipt) Text() string {
	if r.Disposition.Failed {
		return failedText + r.Disposition.Reason
	}
	return processedText
}

// Report returns the multipart/report entity carrying the receipt
func (r *Receipt) Report() *mime.Part {
	lines := make([]string, 0, 7)
	for _, f := range r.Fields() {
		lines = append(lines, f.Name+": "+f.Value)
	}

	return mime.NewMultipart("multipart/report; report-type=disposition-notification",
		mime.NewPart(codec.CanonicalizeLineEndings([]byte(r.Text())),
			mime.Field{Name: "Content-Type", Value: "text/plain"},
			mime.Field{Name: "Content-Transfer-Encoding", Value: "7bit"},
		),
		mime.NewPart([]byte(strings.Join(lines, "\r\n")),
			mime.Field{Name: "Content-Type", Value: mime.ContentTypeDispositionNotification},
			mime.Field{Name: "Content-Transfer-Encoding", Value: "7bit"},
		),
	)
}

// Message is a serialized MDN ready to be sent as an HTTP response
type Message struct {
	Header []mime.Field
	Body   []byte
}

// Serialize signs the receipt as signer and lays it out as a
// multipart/signed HTTP response addressed to destination.
func Serialize(r *Receipt, signer *identity.Server, destination string) (*Message, error) {
	if err := signer.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	report := r.Report()
	signature, err := security.SignaturePart(report.Bytes(), signer.Certificate, signer.PrivateKey, security.SigningAlgorithm(r.MICAlgorithm()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	signed := &mime.Part{
		Parts:    []*mime.Part{report, signature},
		Boundary: newBoundary(),
	}

	body := append([]byte("\r\n"), signed.BodyBytes()...)

	header := []mime.Field{
		{Name: "Content-Type", Value: fmt.Sprintf(`multipart/signed; protocol="%s"; micalg="%s"; boundary="%s"`,
			mime.ContentTypePKCS7Signature, r.MICAlgorithm(), signed.Boundary)},
		{Name: "MIME-Version", Value: "1.0"},
		{Name: "Message-ID", Value: codec.GenerateMessageID(signer.Name, signer.Domain)},
		{Name: "AS2-From", Value: codec.Quote(signer.Name)},
		{Name: "AS2-To", Value: codec.Quote(destination)},
		{Name: "AS2-Version", Value: "1.0"},
		{Name: "Connection", Value: "close"},
	}

	return &Message{Header: header, Body: body}, nil
}

// ContentType returns the Content-Type header of the message
func (m *Message) ContentType() string {
	for _, f := range m.Header {
		if strings.EqualFold(f.Name, "Content-Type") {
			return f.Value
		}
	}
	return ""
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// singleLine folds a multi-line reason into one header value
func singleLine(s string) string {
	return lineBreaks.Replace(s)
}

// newBoundary returns "----=_" followed by 32 uppercase hex digits
func newBoundary() string {
	return "----=_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
