package security

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"

	"go.mozilla.org/pkcs7"

	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// VerificationKind classifies signature verification failures
type VerificationKind int

const (
	// KindCertificateNotFound means the signature was not made with the expected certificate
	KindCertificateNotFound VerificationKind = iota + 1
	// KindDigestMismatch means the content was altered after signing
	KindDigestMismatch
	// KindMalformed means the signed structure could not be parsed
	KindMalformed
	// KindBadSignature means the signature value itself does not verify
	KindBadSignature
)

func (k VerificationKind) String() string {
	switch k {
	case KindCertificateNotFound:
		return "certificate-not-found"
	case KindDigestMismatch:
		return "digest-mismatch"
	case KindMalformed:
		return "malformed"
	case KindBadSignature:
		return "bad-signature"
	default:
		return "unknown"
	}
}

// VerificationError describes why a signature did not verify
type VerificationError struct {
	Kind    VerificationKind
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	return e.Message
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Verification is the outcome of VerifySignature. Message and
// SignedContent are populated whenever the structure could be parsed, so
// callers can still reach the payload of a message whose signature failed.
type Verification struct {
	Valid           bool
	Err             *VerificationError
	DigestAlgorithm string
	SignedContent   []byte
	Message         *mime.Part
}

var oidDigestAlgorithmMD5 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5}

// VerifySignature checks the detached signature of a multipart/signed
// entity against the single certificate signer. No chain building is done.
func VerifySignature(plaintext []byte, signer *x509.Certificate) *Verification {
	v := &Verification{}

	msg, err := mime.Parse(plaintext)
	if err != nil {
		v.Err = malformed(fmt.Sprintf("parsing signed message: %v", err), err)
		return v
	}
	v.Message = msg

	if msg.MediaType() != mime.ContentTypeMultipartSigned || len(msg.Parts) < 2 {
		v.Err = malformed(fmt.Sprintf("expected multipart/signed with two parts, got %s", msg.MediaType()), nil)
		return v
	}

	content, signature := msg.Parts[0], msg.Parts[1]
	v.SignedContent = codec.CanonicalizeLineEndings(content.Raw)

	if !mime.IsSignature(signature) {
		v.Err = malformed(fmt.Sprintf("unexpected signature part type %s", signature.MediaType()), nil)
		return v
	}

	p7, err := pkcs7.Parse(signature.Body)
	if err != nil {
		v.Err = malformed(fmt.Sprintf("parsing signature: %v", err), err)
		return v
	}
	if len(p7.Signers) > 0 {
		v.DigestAlgorithm = DigestAlgorithmName(p7.Signers[0].DigestAlgorithm.Algorithm)
	}

	if signer == nil {
		v.Err = &VerificationError{Kind: KindCertificateNotFound, Message: "signer certificate not found"}
		return v
	}

	p7.Content = v.SignedContent
	p7.Certificates = []*x509.Certificate{signer}
	if err := p7.Verify(); err != nil {
		v.Err = classifyVerifyError(err)
		return v
	}

	v.Valid = true
	return v
}

func classifyVerifyError(err error) *VerificationError {
	var mismatch *pkcs7.MessageDigestMismatchError
	switch {
	case errors.As(err, &mismatch):
		return &VerificationError{Kind: KindDigestMismatch, Message: "digest failure", Err: err}
	case strings.Contains(err.Error(), "No certificate for signer"):
		return &VerificationError{Kind: KindCertificateNotFound, Message: "signer certificate not found", Err: err}
	default:
		return &VerificationError{Kind: KindBadSignature, Message: "signature failure", Err: err}
	}
}

func malformed(message string, err error) *VerificationError {
	return &VerificationError{Kind: KindMalformed, Message: message, Err: err}
}

// DigestAlgorithmName maps a CMS digest algorithm OID to its MIC name.
// Unknown OIDs yield an empty string.
func DigestAlgorithmName(oid asn1.ObjectIdentifier) string {
	switch {
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA1):
		return "sha1"
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA256):
		return "sha256"
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA384):
		return "sha384"
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA512):
		return "sha512"
	case oid.Equal(oidDigestAlgorithmMD5):
		return "md5"
	default:
		return ""
	}
}
