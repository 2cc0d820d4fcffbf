package as2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdmime "mime"

	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/identity"
	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/mic"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/security"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

const (
	defaultSubject     = "AS2 EDI Transaction"
	contentTypePayload = "application/EDI-Consent"
)

// ClientConfig holds outbound client configuration
type ClientConfig struct {
	// Server is the sending identity
	Server *identity.Server
	// Partner is the receiver
	Partner *identity.Partner
	HTTPS   *transport.HTTPSConfig
	Logger  *slog.Logger
}

// Client sends files to a single trading partner. It is safe for
// concurrent use.
type Client struct {
	server    *identity.Server
	partner   *identity.Partner
	transport *transport.HTTPSClient
	logger    *slog.Logger
}

// OutboundMessage is a signed and encrypted AS2 request
type OutboundMessage struct {
	MessageID string
	Header    []mime.Field
	Body      []byte
	// MIC is the integrity check the receiver is expected to echo
	MIC *mdn.MIC
}

// SendResult is the outcome of SendFile
type SendResult struct {
	Message *OutboundMessage
	Report  *mdn.Report
	// MICMatched reports whether the receipt echoed the expected MIC
	MICMatched bool
}

// Success reports whether the partner processed the message and confirmed
// its integrity
func (r *SendResult) Success() bool {
	return r.Report != nil && !r.Report.Disposition.Failed && r.MICMatched
}

// NewClient creates a new AS2 client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if cfg.Partner == nil {
		return nil, errors.New("partner is required")
	}
	if cfg.Partner.Certificate == nil {
		return nil, fmt.Errorf("partner %s has no certificate", cfg.Partner.Name)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		server:    cfg.Server,
		partner:   cfg.Partner,
		transport: transport.NewHTTPSClient(cfg.HTTPS),
		logger:    logger,
	}, nil
}

// BuildMessage signs and encrypts content for the partner
func (c *Client) BuildMessage(filename string, content []byte) (*OutboundMessage, error) {
	encoded, err := codec.Base64Encode(content, c.partner.OutboundFormat)
	if err != nil {
		return nil, err
	}

	part := mime.NewPart([]byte(encoded),
		mime.Field{Name: "Content-Type", Value: contentTypePayload},
		mime.Field{Name: "Content-Transfer-Encoding", Value: "base64"},
		mime.Field{Name: "Content-Disposition", Value: attachmentDisposition(filename)},
	)

	alg := security.SigningAlgorithm(c.partner.MICAlgorithm)
	signed, err := security.SignMultipart(part, c.server.Certificate, c.server.PrivateKey, alg)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}

	digest, err := mic.Compute(part.Bytes(), alg)
	if err != nil {
		return nil, err
	}

	envelope, err := security.Encrypt(signed.Bytes(), c.partner.Certificate, c.partner.EncryptionAlgorithm)
	if err != nil {
		return nil, err
	}

	messageID := codec.GenerateMessageID(c.server.Name, c.server.Domain)
	header := []mime.Field{
		{Name: HeaderAS2Version, Value: "1.0"},
		{Name: HeaderAS2From, Value: codec.Quote(c.server.Name)},
		{Name: HeaderAS2To, Value: codec.Quote(c.partner.Name)},
		{Name: HeaderSubject, Value: defaultSubject},
		{Name: HeaderMessageID, Value: messageID},
		{Name: "MIME-Version", Value: "1.0"},
		{Name: "Content-Type", Value: "application/pkcs7-mime; smime-type=enveloped-data; name=smime.p7m"},
		{Name: "Content-Disposition", Value: "attachment; filename=smime.p7m"},
		{Name: "Content-Transfer-Encoding", Value: "binary"},
		{Name: HeaderDispositionNotificationTo, Value: c.server.URL},
		{Name: HeaderDispositionNotificationOptions, Value: "signed-receipt-protocol=required, pkcs7-signature; signed-receipt-micalg=required, " + alg},
		{Name: HeaderRecipientAddress, Value: c.partner.URL},
	}

	return &OutboundMessage{
		MessageID: messageID,
		Header:    header,
		Body:      envelope,
		MIC:       &mdn.MIC{Digest: digest, Algorithm: alg},
	}, nil
}

// SendFile sends content to the partner and verifies the synchronous
// receipt. A receipt reporting failure is not an error; inspect the result.
func (c *Client) SendFile(ctx context.Context, filename string, content []byte) (*SendResult, error) {
	msg, err := c.BuildMessage(filename, content)
	if err != nil {
		return nil, err
	}

	log := c.logger.With(
		slog.String("message_id", msg.MessageID),
		slog.String("partner", c.partner.Name),
	)

	resp, err := c.transport.Send(ctx, c.partner.URL, msg.Header, msg.Body)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	report, err := mdn.Parse(resp.Header.Get("Content-Type"), resp.Body, c.partner.Certificate)
	if err != nil {
		return nil, fmt.Errorf("reading MDN: %w", err)
	}

	result := &SendResult{
		Message:    msg,
		Report:     report,
		MICMatched: report.MIC != nil && report.MIC.Digest == msg.MIC.Digest && mic.Normalize(report.MIC.Algorithm) == mic.Normalize(msg.MIC.Algorithm),
	}

	switch {
	case report.Disposition.Failed:
		log.Warn("partner reported failure", slog.String("reason", report.Disposition.Reason))
	case !result.MICMatched:
		log.Warn("MIC mismatch in receipt")
	default:
		log.Info("message delivered", slog.String("filename", filename))
	}

	return result, nil
}

func attachmentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := stdmime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
