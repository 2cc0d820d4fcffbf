package as2

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-as2/internal/testcert"
	"github.com/sirosfoundation/go-as2/pkg/identity"
	"github.com/sirosfoundation/go-as2/pkg/mdn"
	"github.com/sirosfoundation/go-as2/pkg/mic"
	"github.com/sirosfoundation/go-as2/pkg/mime"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

type fixture struct {
	alice        *identity.Server
	bob          *identity.Server
	alicePartner *identity.Partner
	bobPartner   *identity.Partner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	aliceKP := testcert.New(t, "ALICE")
	bobKP := testcert.New(t, "BOB")

	return &fixture{
		alice: &identity.Server{
			Name:        "ALICE",
			Domain:      "alice.example.com",
			URL:         "https://alice.example.com/as2",
			Certificate: aliceKP.Certificate,
			PrivateKey:  aliceKP.PrivateKey,
		},
		bob: &identity.Server{
			Name:        "BOB",
			Domain:      "bob.example.com",
			URL:         "https://bob.example.com/as2",
			Certificate: bobKP.Certificate,
			PrivateKey:  bobKP.PrivateKey,
		},
		alicePartner: &identity.Partner{
			Name:        "ALICE",
			URL:         "https://alice.example.com/as2",
			Certificate: aliceKP.Certificate,
		},
		bobPartner: &identity.Partner{
			Name:         "BOB",
			URL:          "https://bob.example.com/as2",
			Certificate:  bobKP.Certificate,
			MICAlgorithm: "sha256",
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) handler(t *testing.T, cfg Config) *Handler {
	t.Helper()
	if cfg.Server == nil {
		cfg.Server = f.bob
	}
	if cfg.Partner == nil && cfg.Registry == nil {
		cfg.Partner = f.alicePartner
	}
	cfg.Logger = quietLogger()

	h, err := NewHandler(&cfg)
	require.NoError(t, err)
	return h
}

// envelope builds a request from sender to BOB the way the client sends it
func (f *fixture) envelope(t *testing.T, sender *identity.Server, filename string, content []byte) (*InboundEnvelope, *OutboundMessage) {
	t.Helper()

	c, err := NewClient(&ClientConfig{Server: sender, Partner: f.bobPartner, Logger: quietLogger()})
	require.NoError(t, err)

	msg, err := c.BuildMessage(filename, content)
	require.NoError(t, err)

	return &InboundEnvelope{Header: toHTTPHeader(msg.Header), Body: msg.Body}, msg
}

// rawEnvelope encrypts an arbitrary plaintext for BOB
func (f *fixture) rawEnvelope(t *testing.T, plaintext []byte, extra ...mime.Field) *InboundEnvelope {
	t.Helper()

	body, err := security.Encrypt(plaintext, f.bob.Certificate, security.DefaultCipher)
	require.NoError(t, err)

	header := http.Header{}
	header.Set(HeaderAS2From, "ALICE")
	header.Set(HeaderAS2To, "BOB")
	header.Set(HeaderMessageID, "<raw-1@alice.example.com>")
	for _, field := range extra {
		header.Set(field.Name, field.Value)
	}
	return &InboundEnvelope{Header: header, Body: body}
}

func toHTTPHeader(fields []mime.Field) http.Header {
	h := http.Header{}
	for _, field := range fields {
		h.Add(field.Name, field.Value)
	}
	return h
}

func readReceipt(t *testing.T, resp *Response, signer *identity.Server) *mdn.Report {
	t.Helper()

	var contentType string
	for _, field := range resp.Header {
		if field.Name == "Content-Type" {
			contentType = field.Value
		}
	}
	report, err := mdn.Parse(contentType, resp.Body, signer.Certificate)
	require.NoError(t, err)
	return report
}

// expectedMIC recomputes the MIC over the content part the client signs
func expectedMIC(t *testing.T, filename string, content []byte, alg string) string {
	t.Helper()

	part := mime.NewPart([]byte(base64.StdEncoding.EncodeToString(content)),
		mime.Field{Name: "Content-Type", Value: "application/EDI-Consent"},
		mime.Field{Name: "Content-Transfer-Encoding", Value: "base64"},
		mime.Field{Name: "Content-Disposition", Value: "attachment; filename=" + filename},
	)
	digest, err := mic.Compute(part.Bytes(), alg)
	require.NoError(t, err)
	return digest
}

func garbageSigned(content *mime.Part) []byte {
	return mime.NewMultipart(`multipart/signed; protocol="application/pkcs7-signature"`,
		content,
		mime.NewPart([]byte("not a signature"), mime.Field{Name: "Content-Type", Value: mime.ContentTypePKCS7Signature}),
	).Bytes()
}

func TestEndToEnd_AliceToBob(t *testing.T) {
	f := newFixture(t)
	content := []byte("hello world\nISA*00*~\n")

	var gotFilename string
	var gotContent []byte
	h := f.handler(t, Config{
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			gotFilename = filename
			gotContent = data
			return nil
		},
	})

	server := httptest.NewServer(h)
	defer server.Close()

	partner := *f.bobPartner
	partner.URL = server.URL
	c, err := NewClient(&ClientConfig{Server: f.alice, Partner: &partner, Logger: quietLogger()})
	require.NoError(t, err)

	result, err := c.SendFile(context.Background(), "data.txt", content)
	require.NoError(t, err)

	assert.Equal(t, "data.txt", gotFilename)
	assert.Equal(t, content, gotContent)

	require.NotNil(t, result.Report)
	assert.False(t, result.Report.Disposition.Failed)
	assert.Equal(t, "automatic-action/MDN-sent-automatically; processed", result.Report.Field("Disposition"))
	assert.Equal(t, result.Message.MessageID, result.Report.OriginalMessageID)
	assert.True(t, result.MICMatched)
	assert.True(t, result.Success())

	require.NotNil(t, result.Report.MIC)
	assert.Equal(t, expectedMIC(t, "data.txt", content, "sha256"), result.Report.MIC.Digest)
	assert.Equal(t, "sha256", result.Report.MIC.Algorithm)
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{})

	env, msg := f.envelope(t, f.alice, "data.txt", []byte("payload"))
	resp, err := h.Process(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, resp.Failure)
	assert.True(t, resp.SignatureValid)
	assert.Equal(t, msg.MIC, resp.Receipt.MIC)

	names := make([]string, 0, len(resp.Header))
	for _, field := range resp.Header {
		names = append(names, field.Name)
	}
	assert.Equal(t, []string{"Content-Type", "MIME-Version", "Message-ID", "AS2-From", "AS2-To", "AS2-Version", "Connection"}, names)
	assert.Equal(t, "BOB", resp.Header[3].Value)
	assert.Equal(t, "ALICE", resp.Header[4].Value)
	assert.True(t, strings.HasPrefix(string(resp.Body), "\r\n--"))

	report := readReceipt(t, resp, f.bob)
	assert.Equal(t, msg.MessageID, report.OriginalMessageID)
}

func TestProcess_DestinationMismatch(t *testing.T) {
	f := newFixture(t)
	called := false
	h := f.handler(t, Config{
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			called = true
			return nil
		},
	})

	env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))
	env.Header.Set(HeaderAS2To, "CAROL")

	resp, err := h.Process(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.Failure)
	assert.ErrorIs(t, resp.Failure, ErrDestinationMismatch)
	assert.False(t, resp.SignatureValid)
	assert.False(t, called)

	report := readReceipt(t, resp, f.bob)
	assert.Equal(t, "automatic-action/MDN-sent-automatically; failed", report.Field("Disposition"))
	assert.Equal(t, "Invalid destination name CAROL", report.Field("Failure"))
	assert.Nil(t, report.MIC)
	assert.Contains(t, resp.Header[0].Value, `micalg="sha1"`)
}

func TestProcess_QuotedDestination(t *testing.T) {
	f := newFixture(t)
	server := *f.bob
	server.Name = "BOB AS2"
	h := f.handler(t, Config{Server: &server})

	env := &InboundEnvelope{Header: http.Header{}}
	env.Header.Set(HeaderAS2To, `"BOB AS2"`)
	env.Header.Set(HeaderAS2From, "NOBODY")

	resp, err := h.Process(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, resp.Failure)
	assert.ErrorIs(t, resp.Failure, ErrPartnerMismatch)
}

func TestProcess_PartnerMismatch(t *testing.T) {
	f := newFixture(t)

	t.Run("fixed partner", func(t *testing.T) {
		h := f.handler(t, Config{})
		env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))
		env.Header.Set(HeaderAS2From, "MALLORY")

		resp, err := h.Process(context.Background(), env)
		require.NoError(t, err)
		require.NotNil(t, resp.Failure)
		assert.ErrorIs(t, resp.Failure, ErrPartnerMismatch)
		assert.Equal(t, "Invalid partner name MALLORY", resp.Failure.Reason)
		assert.Equal(t, "MALLORY", resp.Header[4].Value)
	})

	t.Run("registry", func(t *testing.T) {
		h := f.handler(t, Config{Registry: identity.NewStaticRegistry(f.alicePartner)})
		env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))
		env.Header.Set(HeaderAS2From, "MALLORY")

		resp, err := h.Process(context.Background(), env)
		require.NoError(t, err)
		require.NotNil(t, resp.Failure)
		assert.Equal(t, "Invalid partner name MALLORY", resp.Receipt.Disposition.Reason)
	})

	t.Run("registry success", func(t *testing.T) {
		h := f.handler(t, Config{Registry: identity.NewStaticRegistry(f.alicePartner)})
		env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))

		resp, err := h.Process(context.Background(), env)
		require.NoError(t, err)
		assert.Nil(t, resp.Failure)
	})
}

type failingRegistry struct{}

func (failingRegistry) Lookup(ctx context.Context, name string) (*identity.Partner, error) {
	return nil, errors.New("registry unavailable")
}

func TestProcess_RegistryErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{Registry: failingRegistry{}})

	env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))
	_, err := h.Process(context.Background(), env)
	assert.ErrorContains(t, err, "registry unavailable")
}

func TestProcess_DecryptionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{})

	env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))
	env.Body = []byte("definitely not an envelope")

	resp, err := h.Process(context.Background(), env)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, security.ErrDecryption)
}

func TestProcess_SignatureRejected(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{})

	impostorKP := testcert.New(t, "IMPOSTOR")
	impostor := &identity.Server{Name: "ALICE", Domain: "evil.example.com", Certificate: impostorKP.Certificate, PrivateKey: impostorKP.PrivateKey}

	env, _ := f.envelope(t, impostor, "data.txt", []byte("payload"))
	_, err := h.Process(context.Background(), env)

	assert.ErrorIs(t, err, ErrSignatureRejected)
	var verr *security.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, security.KindCertificateNotFound, verr.Kind)
}

func TestProcess_SignatureFailureHandler(t *testing.T) {
	f := newFixture(t)

	var failure *SignatureFailure
	var dispatched []byte
	h := f.handler(t, Config{
		OnSignatureFailure: func(ctx context.Context, sf *SignatureFailure) {
			failure = sf
		},
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			dispatched = data
			return nil
		},
	})

	impostorKP := testcert.New(t, "IMPOSTOR")
	impostor := &identity.Server{Name: "ALICE", Domain: "evil.example.com", Certificate: impostorKP.Certificate, PrivateKey: impostorKP.PrivateKey}

	env, msg := f.envelope(t, impostor, "data.txt", []byte("payload"))
	resp, err := h.Process(context.Background(), env)
	require.NoError(t, err)

	require.NotNil(t, failure)
	assert.Same(t, env, failure.Envelope)
	assert.Equal(t, "signer certificate not found", failure.Err.Error())
	assert.Contains(t, string(failure.RawContent), "multipart/signed")

	assert.Equal(t, []byte("payload"), dispatched)
	assert.Nil(t, resp.Failure)
	assert.False(t, resp.SignatureValid)
	assert.Equal(t, msg.MIC, resp.Receipt.MIC)
}

func TestProcess_TamperedPayloadWithHandler(t *testing.T) {
	f := newFixture(t)

	var failure *SignatureFailure
	var dispatched []byte
	h := f.handler(t, Config{
		OnSignatureFailure: func(ctx context.Context, sf *SignatureFailure) { failure = sf },
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			dispatched = data
			return nil
		},
	})

	part := mime.NewPart([]byte(base64.StdEncoding.EncodeToString([]byte("legit"))),
		mime.Field{Name: "Content-Type", Value: "application/edi-x12"},
		mime.Field{Name: "Content-Transfer-Encoding", Value: "base64"},
	)
	signed, err := security.SignMultipart(part, f.alice.Certificate, f.alice.PrivateKey, "sha256")
	require.NoError(t, err)

	tampered := strings.Replace(string(signed.Bytes()),
		base64.StdEncoding.EncodeToString([]byte("legit")),
		base64.StdEncoding.EncodeToString([]byte("hacked")), 1)

	resp, err := h.Process(context.Background(), f.rawEnvelope(t, []byte(tampered)))
	require.NoError(t, err)

	require.NotNil(t, failure)
	assert.Equal(t, security.KindDigestMismatch, failure.Err.Kind)
	assert.Equal(t, "digest failure", failure.Err.Message)
	assert.Equal(t, []byte("hacked"), dispatched)
	assert.Nil(t, resp.Failure)
}

func TestProcess_MICFallsBackToNegotiatedAlgorithm(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{
		OnSignatureFailure: func(ctx context.Context, sf *SignatureFailure) {},
	})

	content := mime.NewPart([]byte("hello"), mime.Field{Name: "Content-Type", Value: "text/plain"})
	env := f.rawEnvelope(t, garbageSigned(content), mime.Field{
		Name:  HeaderDispositionNotificationOptions,
		Value: "signed-receipt-protocol=optional, pkcs7-signature; signed-receipt-micalg=optional, SHA512",
	})

	resp, err := h.Process(context.Background(), env)
	require.NoError(t, err)

	require.NotNil(t, resp.Receipt.MIC)
	assert.Equal(t, "SHA512", resp.Receipt.MIC.Algorithm)

	digest, err := mic.Compute(content.Bytes(), "sha512")
	require.NoError(t, err)
	assert.Equal(t, digest, resp.Receipt.MIC.Digest)
	assert.Contains(t, resp.Header[0].Value, `micalg="SHA512"`)
}

func TestProcess_MICDefaultsToSHA1(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{
		OnSignatureFailure: func(ctx context.Context, sf *SignatureFailure) {},
	})

	content := mime.NewPart([]byte("hello"), mime.Field{Name: "Content-Type", Value: "text/plain"})
	resp, err := h.Process(context.Background(), f.rawEnvelope(t, garbageSigned(content)))
	require.NoError(t, err)

	require.NotNil(t, resp.Receipt.MIC)
	assert.Equal(t, "sha1", resp.Receipt.MIC.Algorithm)
}

func TestProcess_UnsignedMessageHasNoMIC(t *testing.T) {
	f := newFixture(t)
	var dispatched []byte
	h := f.handler(t, Config{
		OnSignatureFailure: func(ctx context.Context, sf *SignatureFailure) {},
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			dispatched = data
			return nil
		},
	})

	plain := mime.NewPart([]byte("unsigned"), mime.Field{Name: "Content-Type", Value: "application/edi-x12"})
	resp, err := h.Process(context.Background(), f.rawEnvelope(t, plain.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, []byte("unsigned"), dispatched)
	assert.Nil(t, resp.Receipt.MIC)
	assert.Nil(t, resp.Failure)
}

func TestProcess_NoPayload(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{
		OnSignatureFailure: func(ctx context.Context, sf *SignatureFailure) {},
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			t.Error("content handler must not be called")
			return nil
		},
	})

	sigOnly := mime.NewPart([]byte("x"), mime.Field{Name: "Content-Type", Value: "application/x-pkcs7-signature"})
	resp, err := h.Process(context.Background(), f.rawEnvelope(t, garbageSigned(sigOnly)))
	require.NoError(t, err)

	require.NotNil(t, resp.Failure)
	assert.ErrorIs(t, resp.Failure, ErrNoPayload)
	assert.True(t, resp.Receipt.Disposition.Failed)
	assert.Nil(t, resp.Receipt.MIC)
}

func TestProcess_ContentHandlerFailure(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		handler ContentHandler
		reason  string
	}{
		{
			name: "error",
			handler: func(ctx context.Context, filename string, data []byte) error {
				return errors.New("disk full")
			},
			reason: "disk full",
		},
		{
			name: "panic",
			handler: func(ctx context.Context, filename string, data []byte) error {
				panic("kaboom")
			},
			reason: "kaboom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := f.handler(t, Config{ContentHandler: tt.handler})
			env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))

			resp, err := h.Process(context.Background(), env)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			require.NotNil(t, resp.Failure)
			assert.ErrorIs(t, resp.Failure, ErrHandler)
			assert.True(t, resp.SignatureValid)
			assert.Contains(t, resp.Failure.Reason, tt.reason)

			report := readReceipt(t, resp, f.bob)
			assert.True(t, report.Disposition.Failed)
			assert.Contains(t, report.Field("Failure"), tt.reason)
			assert.Contains(t, report.Text, "There was an error with the AS2 transmission.")
			assert.Nil(t, report.MIC)
		})
	}
}

func TestProcess_EnvelopeFromContext(t *testing.T) {
	f := newFixture(t)

	var messageID string
	h := f.handler(t, Config{
		ContentHandler: func(ctx context.Context, filename string, data []byte) error {
			env, ok := EnvelopeFromContext(ctx)
			require.True(t, ok)
			messageID = env.Header.Get(HeaderMessageID)
			return nil
		},
	})

	env, msg := f.envelope(t, f.alice, "data.txt", []byte("payload"))
	_, err := h.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, messageID)

	_, ok := EnvelopeFromContext(context.Background())
	assert.False(t, ok)
}

func TestServeHTTP(t *testing.T) {
	f := newFixture(t)
	h := f.handler(t, Config{})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/as2", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("fatal error maps to 500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/as2", strings.NewReader("garbage"))
		req.Header.Set(HeaderAS2From, "ALICE")
		req.Header.Set(HeaderAS2To, "BOB")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("failed MDN keeps 200 and header case", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/as2", strings.NewReader("ignored"))
		req.Header.Set(HeaderAS2From, "ALICE")
		req.Header.Set(HeaderAS2To, "CAROL")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"BOB"}, rec.Header()["AS2-From"])
		assert.Equal(t, []string{"1.0"}, rec.Header()["MIME-Version"])
		assert.Equal(t, "close", rec.Header().Get("Connection"))
	})

	t.Run("body size limit", func(t *testing.T) {
		limited := f.handler(t, Config{MaxBodySize: 4})
		env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))

		req := httptest.NewRequest(http.MethodPost, "/as2", strings.NewReader(string(env.Body)))
		req.Header = env.Header

		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("header checks precede body limit", func(t *testing.T) {
		limited := f.handler(t, Config{MaxBodySize: 4})
		env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))

		req := httptest.NewRequest(http.MethodPost, "/as2", strings.NewReader(string(env.Body)))
		req.Header = env.Header.Clone()
		req.Header.Set(HeaderAS2To, "CAROL")

		resp, err := limited.ProcessRequest(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, resp.Failure)
		assert.ErrorIs(t, resp.Failure, ErrDestinationMismatch)
		assert.Equal(t, "Invalid destination name CAROL", resp.Failure.Reason)
	})

	t.Run("body is read after header checks", func(t *testing.T) {
		h := f.handler(t, Config{})
		env, _ := f.envelope(t, f.alice, "data.txt", []byte("payload"))

		req := httptest.NewRequest(http.MethodPost, "/as2", strings.NewReader(string(env.Body)))
		req.Header = env.Header

		resp, err := h.ProcessRequest(req)
		require.NoError(t, err)
		assert.Nil(t, resp.Failure)
		assert.True(t, resp.SignatureValid)
	})
}

func TestNewHandler_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewHandler(&Config{Server: &identity.Server{Name: "BOB"}, Partner: f.alicePartner})
	assert.ErrorIs(t, err, identity.ErrInvalidIdentity)

	_, err = NewHandler(&Config{Server: f.bob})
	assert.Error(t, err)
}
