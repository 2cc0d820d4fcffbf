package as2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/identity"
	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/mic"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

// AS2 HTTP header names
const (
	HeaderAS2Version                     = "AS2-Version"
	HeaderAS2From                        = "AS2-From"
	HeaderAS2To                          = "AS2-To"
	HeaderMessageID                      = "Message-ID"
	HeaderSubject                        = "Subject"
	HeaderDispositionNotificationTo      = "Disposition-Notification-To"
	HeaderDispositionNotificationOptions = "Disposition-Notification-Options"
	HeaderRecipientAddress               = "Recipient-Address"
)

var (
	// ErrDestinationMismatch means AS2-To does not name this server
	ErrDestinationMismatch = errors.New("destination mismatch")
	// ErrPartnerMismatch means AS2-From does not name a known partner
	ErrPartnerMismatch = errors.New("partner mismatch")
	// ErrHandler wraps failures of the content handler
	ErrHandler = errors.New("content handler failed")
	// ErrNoPayload means the message carried no business document
	ErrNoPayload = errors.New("no payload in message")
	// ErrSignatureRejected is returned when a signature does not verify and
	// no signature failure handler is configured
	ErrSignatureRejected = errors.New("could not verify signature")
)

// ContentHandler receives the business document of an accepted message.
// A returned error is reported to the sender in a failed MDN.
type ContentHandler func(ctx context.Context, filename string, content []byte) error

// SignatureFailureHandler is called instead of rejecting a message whose
// signature does not verify. Processing continues afterwards.
type SignatureFailureHandler func(ctx context.Context, failure *SignatureFailure)

// SignatureFailure describes a message whose signature did not verify
type SignatureFailure struct {
	Envelope *InboundEnvelope
	// RawContent is the decrypted multipart/signed entity
	RawContent []byte
	Err        *security.VerificationError
}

// InboundEnvelope is a received AS2 request
type InboundEnvelope struct {
	Header http.Header
	Body   []byte
}

// Failure is a recoverable processing failure reported in the MDN
type Failure struct {
	Kind   error
	Reason string
}

func (f *Failure) Error() string {
	return f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

// Response is the synchronous MDN answering a request
type Response struct {
	StatusCode int
	Header     []mime.Field
	Body       []byte
	Receipt    *mdn.Receipt
	// Failure is nil when the message was processed
	Failure *Failure
	// SignatureValid is false when verification failed or was not reached
	SignatureValid bool
}

// Config holds handler configuration
type Config struct {
	// Server is the receiving identity
	Server *identity.Server
	// Partner fixes the accepted sender. When nil, Registry is consulted.
	Partner  *identity.Partner
	Registry identity.Registry
	// ContentHandler receives payloads. When nil, payloads are acknowledged
	// without being dispatched.
	ContentHandler ContentHandler
	// OnSignatureFailure selects the signature failure strategy. When nil,
	// messages with invalid signatures are rejected.
	OnSignatureFailure SignatureFailureHandler
	// MaxBodySize limits request bodies read by ServeHTTP. Zero means no limit.
	MaxBodySize int64
	Logger      *slog.Logger
}

// Handler processes inbound AS2 messages. It is safe for concurrent use.
type Handler struct {
	server             *identity.Server
	partner            *identity.Partner
	registry           identity.Registry
	contentHandler     ContentHandler
	onSignatureFailure SignatureFailureHandler
	maxBodySize        int64
	logger             *slog.Logger
}

// NewHandler creates a new AS2 handler
func NewHandler(cfg *Config) (*Handler, error) {
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if cfg.Partner == nil && cfg.Registry == nil {
		return nil, errors.New("either a partner or a partner registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server:             cfg.Server,
		partner:            cfg.Partner,
		registry:           cfg.Registry,
		contentHandler:     cfg.ContentHandler,
		onSignatureFailure: cfg.OnSignatureFailure,
		maxBodySize:        cfg.MaxBodySize,
		logger:             logger,
	}, nil
}

type envelopeKey struct{}

// EnvelopeFromContext returns the request being processed. It is available
// to content and signature failure handlers.
func EnvelopeFromContext(ctx context.Context) (*InboundEnvelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(*InboundEnvelope)
	return env, ok
}

// Process runs a request through validation, decryption, signature
// verification and dispatch and returns the signed MDN. Validation and
// content handler failures produce a failed MDN; the returned error is
// reserved for decryption failures, rejected signatures and MDN signing
// failures.
func (h *Handler) Process(ctx context.Context, env *InboundEnvelope) (*Response, error) {
	return h.process(ctx, env, nil)
}

// process validates the headers, then calls readBody (when set) to fill
// env.Body before decrypting, so header failures are answered with an MDN
// without consuming the request payload.
func (h *Handler) process(ctx context.Context, env *InboundEnvelope, readBody func() error) (*Response, error) {
	from := env.Header.Get(HeaderAS2From)
	to := env.Header.Get(HeaderAS2To)
	messageID := env.Header.Get(HeaderMessageID)

	log := h.logger.With(
		slog.String("message_id", messageID),
		slog.String("as2_from", from),
		slog.String("as2_to", to),
	)
	ctx = context.WithValue(ctx, envelopeKey{}, env)

	if codec.Unquote(to) != h.server.Name {
		return h.fail(env, log, nil, &Failure{Kind: ErrDestinationMismatch, Reason: "Invalid destination name " + to})
	}

	partner, err := h.resolvePartner(ctx, codec.Unquote(from))
	if err != nil && !errors.Is(err, identity.ErrPartnerNotFound) {
		return nil, fmt.Errorf("resolving partner: %w", err)
	}
	if partner == nil || partner.Name != codec.Unquote(from) {
		return h.fail(env, log, nil, &Failure{Kind: ErrPartnerMismatch, Reason: "Invalid partner name " + from})
	}

	if readBody != nil {
		if err := readBody(); err != nil {
			log.Error("reading body failed", slog.String("error", err.Error()))
			return nil, err
		}
	}

	plaintext, err := security.Decrypt(env.Body, h.server.Certificate, h.server.PrivateKey)
	if err != nil {
		log.Error("decryption failed", slog.String("error", err.Error()))
		return nil, err
	}

	v := security.VerifySignature(plaintext, partner.Certificate)
	if !v.Valid {
		if h.onSignatureFailure == nil {
			log.Error("signature verification failed", slog.String("error", v.Err.Error()))
			return nil, fmt.Errorf("%w: %w", ErrSignatureRejected, v.Err)
		}
		log.Warn("signature verification failed, continuing",
			slog.String("error", v.Err.Error()),
			slog.String("kind", v.Err.Kind.String()))
		h.onSignatureFailure(ctx, &SignatureFailure{
			Envelope:   env,
			RawContent: plaintext,
			Err:        v.Err,
		})
	}

	if h.contentHandler != nil {
		attachment := selectAttachment(v.Message)
		if attachment == nil {
			return h.fail(env, log, v, &Failure{Kind: ErrNoPayload, Reason: ErrNoPayload.Error()})
		}

		filename := attachment.Filename()
		if err := h.dispatch(ctx, filename, attachment.Body); err != nil {
			return h.fail(env, log, v, &Failure{Kind: ErrHandler, Reason: err.Error()})
		}
		log.Info("payload dispatched",
			slog.String("filename", filename),
			slog.Int("size", len(attachment.Body)))
	}

	micValue := h.computeMIC(env, v, log)
	receipt := mdn.Build(mdn.Processed(), messageID, micValue, h.server.Name)

	resp, err := h.respond(receipt, from)
	if err != nil {
		return nil, err
	}
	resp.SignatureValid = v.Valid
	log.Info("message processed", slog.Bool("signature_valid", v.Valid))
	return resp, nil
}

func (h *Handler) resolvePartner(ctx context.Context, name string) (*identity.Partner, error) {
	if h.partner != nil {
		return h.partner, nil
	}
	return h.registry.Lookup(ctx, name)
}

// dispatch runs the content handler, turning panics into errors
func (h *Handler) dispatch(ctx context.Context, filename string, content []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandler, r)
		}
	}()
	return h.contentHandler(ctx, filename, content)
}

// computeMIC digests the signed content with the algorithm the signature
// asserts. The Disposition-Notification-Options header is only consulted
// when the signature does not name one.
func (h *Handler) computeMIC(env *InboundEnvelope, v *security.Verification, log *slog.Logger) *mdn.MIC {
	if v.SignedContent == nil {
		return nil
	}

	alg := v.DigestAlgorithm
	if alg == "" {
		alg = mic.NegotiateAlgorithm(env.Header.Get(HeaderDispositionNotificationOptions))
	}
	if alg == "" {
		alg = mic.DefaultAlgorithm
	}

	digest, err := mic.Compute(v.SignedContent, alg)
	if err != nil {
		log.Warn("computing MIC", slog.String("error", err.Error()))
		return nil
	}
	return &mdn.MIC{Digest: digest, Algorithm: alg}
}

// fail answers with a failed MDN. v is nil when the failure happened before
// signature verification.
func (h *Handler) fail(env *InboundEnvelope, log *slog.Logger, v *security.Verification, failure *Failure) (*Response, error) {
	log.Error("message rejected", slog.String("reason", failure.Reason))

	receipt := mdn.Build(mdn.Failed(failure.Reason), env.Header.Get(HeaderMessageID), nil, h.server.Name)
	resp, err := h.respond(receipt, env.Header.Get(HeaderAS2From))
	if err != nil {
		return nil, err
	}
	resp.Failure = failure
	resp.SignatureValid = v != nil && v.Valid
	return resp, nil
}

func (h *Handler) respond(receipt *mdn.Receipt, destination string) (*Response, error) {
	msg, err := mdn.Serialize(receipt, h.server, destination)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: http.StatusOK,
		Header:     msg.Header,
		Body:       msg.Body,
		Receipt:    receipt,
	}, nil
}

func selectAttachment(msg *mime.Part) *mime.Part {
	if msg == nil {
		return nil
	}
	if !msg.IsMultipart() {
		return mime.ChooseAttachment([]*mime.Part{msg})
	}
	return mime.ChooseAttachment(msg.Parts)
}

// ServeHTTP implements http.Handler. Requests that cannot produce an MDN
// are answered with 500.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := h.ProcessRequest(r)
	if err != nil {
		h.logger.Error("processing AS2 request", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	WriteResponse(w, resp)
}

// ProcessRequest processes r. The destination and partner headers are
// validated before the body is read, so a mismatch is answered with a
// failed MDN even when the body exceeds MaxBodySize. A body that cannot be
// read, or is too large, is a fatal error.
func (h *Handler) ProcessRequest(r *http.Request) (*Response, error) {
	env := &InboundEnvelope{Header: r.Header}
	return h.process(r.Context(), env, func() error {
		body := r.Body
		if h.maxBodySize > 0 {
			body = http.MaxBytesReader(nil, r.Body, h.maxBodySize)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading request body: %w", err)
		}
		env.Body = data
		return nil
	})
}

// WriteResponse writes an MDN response. Header names are written exactly as
// given.
func WriteResponse(w http.ResponseWriter, resp *Response) {
	header := w.Header()
	for _, f := range resp.Header {
		header[f.Name] = append(header[f.Name], f.Value)
	}
	header["Content-Length"] = []string{strconv.Itoa(len(resp.Body))}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
