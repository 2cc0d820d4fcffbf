// Package keystore loads AS2 identities from PEM files on disk.
//
// The local station needs an RSA key pair: the CMS library decrypts
// enveloped data only with in-memory RSA keys. Partners need only a
// certificate.
package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirosfoundation/go-as2/internal/config"
	"github.com/sirosfoundation/go-as2/pkg/identity"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("private key not found")
	ErrKeyMismatch = errors.New("private key does not match certificate")
	ErrUnsupported = errors.New("unsupported key type")
)

// KeyInfo describes a loaded certificate
type KeyInfo struct {
	// Algorithm is the key algorithm (e.g., "RSA", "EC")
	Algorithm string

	// KeySize is the key size in bits
	KeySize int

	NotBefore time.Time
	NotAfter  time.Time

	CertificateSubject string
}

// Describe returns metadata about cert for logging
func Describe(cert *x509.Certificate) KeyInfo {
	return KeyInfo{
		Algorithm:          keyAlgorithmName(cert.PublicKey),
		KeySize:            keySize(cert.PublicKey),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		CertificateSubject: cert.Subject.String(),
	}
}

// LoadIdentity loads the local station's certificate and key
func LoadIdentity(cfg *config.IdentityConfig) (*identity.Server, error) {
	cert, err := loadCertificate(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, cfg.KeyFile)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s key, RSA required", ErrUnsupported, keyAlgorithmName(key.Public()))
	}
	if !rsaKey.PublicKey.Equal(cert.PublicKey) {
		return nil, ErrKeyMismatch
	}

	server := &identity.Server{
		Name:        cfg.Name,
		Domain:      cfg.Domain,
		URL:         cfg.URL,
		Certificate: cert,
		PrivateKey:  rsaKey,
	}
	if err := server.Validate(); err != nil {
		return nil, err
	}
	return server, nil
}

// LoadPartner loads a partner and its certificate
func LoadPartner(cfg *config.PartnerConfig) (*identity.Partner, error) {
	cert, err := loadCertificate(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate for partner %s: %w", cfg.Name, err)
	}

	return &identity.Partner{
		Name:                cfg.Name,
		URL:                 cfg.URL,
		Certificate:         cert,
		OutboundFormat:      cfg.OutboundFormat,
		MICAlgorithm:        cfg.MICAlgorithm,
		EncryptionAlgorithm: cfg.EncryptionAlgorithm,
	}, nil
}

// LoadRegistry loads all partners into a registry
func LoadRegistry(partners []config.PartnerConfig) (*identity.StaticRegistry, error) {
	registry := identity.NewStaticRegistry()
	for i := range partners {
		p, err := LoadPartner(&partners[i])
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}
	return registry, nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key is not a signer")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, block.Type)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	return x509.ParseCertificate(block.Bytes)
}

func keyAlgorithmName(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	case *rsa.PublicKey:
		return "RSA"
	default:
		return "Unknown"
	}
}

func keySize(pub crypto.PublicKey) int {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case *rsa.PublicKey:
		return k.N.BitLen()
	default:
		return 0
	}
}
