package mdn

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

var (
	// ErrUnsigned is returned for unsigned receipts when a signature is required
	ErrUnsigned = errors.New("MDN is not signed")
	// ErrMalformed is returned when the receipt structure cannot be understood
	ErrMalformed = errors.New("malformed MDN")
)

// Report is a receipt received from a partner
type Report struct {
	Disposition       Disposition
	OriginalMessageID string
	MIC               *MIC
	ReportingName     string
	Fields            []mime.Field
	Text              string
	// Signature is nil for unsigned receipts
	Signature *security.Verification
}

// Parse reads an MDN from an HTTP response. When signer is not nil the
// receipt must be a multipart/signed entity whose signature verifies
// against signer; a verification failure is returned as a
// *security.VerificationError.
func Parse(contentType string, body []byte, signer *x509.Certificate) (*Report, error) {
	data := []byte("Content-Type: " + contentType + "\r\n")
	if !strings.HasPrefix(string(body), "\r\n") && !strings.HasPrefix(string(body), "\n") {
		data = append(data, "\r\n"...)
	}
	data = append(data, body...)

	entity, err := mime.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	report := &Report{}
	reportPart := entity

	if entity.MediaType() == mime.ContentTypeMultipartSigned {
		v := security.VerifySignature(data, signer)
		report.Signature = v
		if signer != nil && !v.Valid {
			return nil, v.Err
		}
		if v.Message == nil || len(v.Message.Parts) == 0 {
			return nil, fmt.Errorf("%w: empty signed entity", ErrMalformed)
		}
		reportPart = v.Message.Parts[0]
	} else if signer != nil {
		return nil, ErrUnsigned
	}

	if reportPart.MediaType() != mime.ContentTypeMultipartReport {
		return nil, fmt.Errorf("%w: unexpected content type %s", ErrMalformed, reportPart.MediaType())
	}

	var notification *mime.Part
	for _, p := range reportPart.Parts {
		switch p.MediaType() {
		case mime.ContentTypeDispositionNotification:
			notification = p
		case "text/plain":
			if report.Text == "" {
				report.Text = string(p.Body)
			}
		}
	}
	if notification == nil {
		return nil, fmt.Errorf("%w: no disposition notification part", ErrMalformed)
	}

	report.Fields = parseFields(string(notification.Body))
	for _, f := range report.Fields {
		switch strings.ToLower(f.Name) {
		case "reporting-ua":
			report.ReportingName = f.Value
		case "original-message-id":
			report.OriginalMessageID = f.Value
		case "disposition":
			report.Disposition.Failed = isFailure(f.Value)
		case "failure":
			report.Disposition.Reason = f.Value
		case "received-content-mic":
			if digest, alg, ok := strings.Cut(f.Value, ","); ok {
				report.MIC = &MIC{Digest: strings.TrimSpace(digest), Algorithm: strings.TrimSpace(alg)}
			}
		}
	}

	return report, nil
}

// Field returns the value of a notification field
func (r *Report) Field(name string) string {
	for _, f := range r.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func parseFields(body string) []mime.Field {
	var fields []mime.Field
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(fields) > 0 {
			fields[len(fields)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			fields = append(fields, mime.Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
		}
	}
	return fields
}

// isFailure inspects the disposition type after the mode, e.g.
// "automatic-action/MDN-sent-automatically; failed/Failure: unsupported MIC-algorithms"
func isFailure(disposition string) bool {
	_, dispositionType, ok := strings.Cut(disposition, ";")
	if !ok {
		return false
	}
	dispositionType = strings.ToLower(strings.TrimSpace(dispositionType))
	return !strings.HasPrefix(dispositionType, "processed") || strings.Contains(dispositionType, "/error") || strings.Contains(dispositionType, "/failure")
}
