// Package mic computes AS2 message integrity checks.
package mic

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/sirosfoundation/go-as2/pkg/codec"
)

// DefaultAlgorithm is reported when no digest was computed
const DefaultAlgorithm = "sha1"

// negotiationAttribute is the Disposition-Notification-Options section that
// lists the digest algorithms a sender accepts.
const negotiationAttribute = "signed-receipt-micalg"

var digests = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Supported reports whether alg names a digest this package can compute.
// Both "sha256" and the RFC 5751 spelling "sha-256" are accepted.
func Supported(alg string) bool {
	_, ok := digests[Normalize(alg)]
	return ok
}

// Normalize returns the lowercase canonical form of a digest name.
func Normalize(alg string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(alg)), "-", "")
}

// NegotiateAlgorithm picks the MIC algorithm from a
// Disposition-Notification-Options header value, e.g.
//
//	signed-receipt-protocol=optional, pkcs7-signature; signed-receipt-micalg=optional, sha256
//
// The first supported token after the optional/required marker wins and is
// returned exactly as the sender spelled it. An empty string means no
// supported algorithm was offered.
func NegotiateAlgorithm(header string) string {
	if header == "" {
		return ""
	}

	for _, section := range strings.Split(header, ";") {
		section = strings.TrimSpace(section)
		if !strings.HasPrefix(strings.ToLower(section), negotiationAttribute) {
			continue
		}

		tokens := strings.Split(section, ",")
		for _, token := range tokens[1:] {
			token = strings.TrimSpace(token)
			if _, ok := digests[strings.ToLower(token)]; ok {
				return token
			}
		}
		return ""
	}
	return ""
}

// Compute returns the base64 digest of content after converting its line
// endings to CRLF.
func Compute(content []byte, alg string) (string, error) {
	newHash, ok := digests[Normalize(alg)]
	if !ok {
		return "", fmt.Errorf("unsupported MIC algorithm: %s", alg)
	}

	h := newHash()
	h.Write(codec.CanonicalizeLineEndings(content))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Hash maps a digest name to its crypto.Hash.
func Hash(alg string) (crypto.Hash, error) {
	switch Normalize(alg) {
	case "md5":
		return crypto.MD5, nil
	case "sha1":
		return crypto.SHA1, nil
	case "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported MIC algorithm: %s", alg)
	}
}
