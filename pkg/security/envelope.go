package security

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mozilla.org/pkcs7"
)

// Content encryption algorithms for outbound messages
const (
	CipherAES128CBC = "aes128-cbc"
	CipherAES256CBC = "aes256-cbc"
	CipherAES128GCM = "aes128-gcm"
	CipherAES256GCM = "aes256-gcm"
)

// DefaultCipher is used when a partner does not name one
const DefaultCipher = CipherAES128CBC

var (
	// ErrDecryption is returned when an enveloped message cannot be opened
	ErrDecryption = errors.New("decryption failed")
	// ErrUnsupportedCipher is returned for unknown content encryption algorithms
	ErrUnsupportedCipher = errors.New("unsupported content encryption algorithm")
)

// pkcs7 reads the content cipher from a package variable
var encryptMu sync.Mutex

// Decrypt opens a CMS enveloped-data structure addressed to cert. The
// envelope may be DER, PEM or base64-encoded DER.
func Decrypt(raw []byte, cert *x509.Certificate, key crypto.PrivateKey) ([]byte, error) {
	der, err := envelopeDER(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing envelope: %v", ErrDecryption, err)
	}

	plaintext, err := p7.Decrypt(cert, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

// Encrypt wraps content in a CMS enveloped-data structure for recipient
func Encrypt(content []byte, recipient *x509.Certificate, cipher string) ([]byte, error) {
	alg, err := contentCipher(cipher)
	if err != nil {
		return nil, err
	}

	encryptMu.Lock()
	defer encryptMu.Unlock()

	previous := pkcs7.ContentEncryptionAlgorithm
	pkcs7.ContentEncryptionAlgorithm = alg
	defer func() { pkcs7.ContentEncryptionAlgorithm = previous }()

	der, err := pkcs7.Encrypt(content, []*x509.Certificate{recipient})
	if err != nil {
		return nil, fmt.Errorf("encrypting content: %w", err)
	}
	return der, nil
}

// ValidateCipher returns ErrUnsupportedCipher for names Encrypt rejects
func ValidateCipher(name string) error {
	_, err := contentCipher(name)
	return err
}

func contentCipher(name string) (int, error) {
	switch strings.ToLower(name) {
	case "", CipherAES128CBC:
		return pkcs7.EncryptionAlgorithmAES128CBC, nil
	case CipherAES256CBC:
		return pkcs7.EncryptionAlgorithmAES256CBC, nil
	case CipherAES128GCM:
		return pkcs7.EncryptionAlgorithmAES128GCM, nil
	case CipherAES256GCM:
		return pkcs7.EncryptionAlgorithmAES256GCM, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCipher, name)
	}
}

// envelopeDER normalizes the supported envelope encodings to DER
func envelopeDER(raw []byte) ([]byte, error) {
	// DER always starts with a SEQUENCE tag
	if len(raw) > 0 && raw[0] == 0x30 {
		return raw, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty envelope")
	}

	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, _ := pem.Decode(trimmed)
		if block == nil {
			return nil, errors.New("invalid PEM envelope")
		}
		return block.Bytes, nil
	}

	der, err := base64.StdEncoding.DecodeString(string(bytes.Join(bytes.Fields(trimmed), nil)))
	if err != nil {
		return nil, fmt.Errorf("envelope is neither DER, PEM nor base64: %v", err)
	}
	return der, nil
}
