package security

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"strings"

	"go.mozilla.org/pkcs7"

	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/mic"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// SignDetached produces a detached CMS signature over content
func SignDetached(content []byte, cert *x509.Certificate, key crypto.PrivateKey, algorithm string) ([]byte, error) {
	oid, err := digestOID(algorithm)
	if err != nil {
		return nil, err
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("creating signed data: %w", err)
	}
	sd.SetDigestAlgorithm(oid)

	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("adding signer: %w", err)
	}
	sd.Detach()

	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("finishing signature: %w", err)
	}
	return der, nil
}

// SignaturePart signs content and returns the application/pkcs7-signature
// part of a multipart/signed entity. The signature is base64 encoded with
// CRLF line breaks and no trailing line break, so the closing delimiter
// follows it directly.
func SignaturePart(content []byte, cert *x509.Certificate, key crypto.PrivateKey, algorithm string) (*mime.Part, error) {
	der, err := SignDetached(content, cert, key, algorithm)
	if err != nil {
		return nil, err
	}

	encoded, err := codec.Base64Encode(der, codec.SchemeRFC2045)
	if err != nil {
		return nil, err
	}

	return mime.NewPart([]byte(strings.TrimSuffix(encoded, "\r\n")),
		mime.Field{Name: "Content-Type", Value: `application/pkcs7-signature; name="smime.p7s"`},
		mime.Field{Name: "Content-Transfer-Encoding", Value: "base64"},
		mime.Field{Name: "Content-Disposition", Value: `attachment; filename="smime.p7s"`},
	), nil
}

// SignMultipart wraps part in a multipart/signed entity with a detached
// signature over its canonical serialization.
func SignMultipart(part *mime.Part, cert *x509.Certificate, key crypto.PrivateKey, algorithm string) (*mime.Part, error) {
	content := codec.CanonicalizeLineEndings(part.Bytes())

	signature, err := SignaturePart(content, cert, key, algorithm)
	if err != nil {
		return nil, err
	}

	contentType := fmt.Sprintf(`multipart/signed; protocol="%s"; micalg="%s"`, mime.ContentTypePKCS7Signature, mic.Normalize(algorithm))
	return mime.NewMultipart(contentType, part, signature), nil
}

// SigningAlgorithm returns the digest to sign with when the MIC was
// computed with algorithm. CMS signing supports the SHA family only, so
// anything else falls back to sha256.
func SigningAlgorithm(algorithm string) string {
	switch alg := mic.Normalize(algorithm); alg {
	case "sha1", "sha256", "sha384", "sha512":
		return alg
	default:
		return "sha256"
	}
}

func digestOID(algorithm string) (asn1.ObjectIdentifier, error) {
	switch mic.Normalize(algorithm) {
	case "sha1":
		return pkcs7.OIDDigestAlgorithmSHA1, nil
	case "", "sha256":
		return pkcs7.OIDDigestAlgorithmSHA256, nil
	case "sha384":
		return pkcs7.OIDDigestAlgorithmSHA384, nil
	case "sha512":
		return pkcs7.OIDDigestAlgorithmSHA512, nil
	default:
		return nil, fmt.Errorf("unsupported signing digest: %s", algorithm)
	}
}
