// Package identity holds the AS2 server and trading partner identities.
package identity

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPartnerNotFound is returned when no partner is registered under a name
	ErrPartnerNotFound = errors.New("partner not found")
	// ErrInvalidIdentity is returned for identities missing required fields
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Server is the local AS2 station. It is loaded once and never mutated.
type Server struct {
	// Name is the AS2 identifier, compared against AS2-To
	Name string
	// Domain is used for generated message ids
	Domain string
	// URL is where partners send asynchronous receipts
	URL         string
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
}

// Validate checks that the identity can sign and decrypt
func (s *Server) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: server identity is nil", ErrInvalidIdentity)
	case s.Name == "":
		return fmt.Errorf("%w: server name is required", ErrInvalidIdentity)
	case s.Certificate == nil:
		return fmt.Errorf("%w: server %s has no certificate", ErrInvalidIdentity, s.Name)
	case s.PrivateKey == nil:
		return fmt.Errorf("%w: server %s has no private key", ErrInvalidIdentity, s.Name)
	}
	return nil
}

// Partner is a remote trading partner
type Partner struct {
	// Name is the AS2 identifier, compared against AS2-From
	Name        string
	URL         string
	Certificate *x509.Certificate
	// OutboundFormat is the base64 scheme of outbound content parts
	OutboundFormat string
	// MICAlgorithm is requested for receipts of outbound messages
	MICAlgorithm string
	// EncryptionAlgorithm is the content cipher of outbound messages
	EncryptionAlgorithm string
}

// Registry resolves partners by AS2 name
type Registry interface {
	// Lookup returns the partner registered under name. Unknown names
	// yield an error wrapping ErrPartnerNotFound.
	Lookup(ctx context.Context, name string) (*Partner, error)
}

// StaticRegistry is an in-memory Registry
type StaticRegistry struct {
	mu       sync.RWMutex
	partners map[string]*Partner
}

// NewStaticRegistry creates a registry holding partners
func NewStaticRegistry(partners ...*Partner) *StaticRegistry {
	r := &StaticRegistry{
		partners: make(map[string]*Partner),
	}
	for _, p := range partners {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a partner
func (r *StaticRegistry) Register(p *Partner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partners[p.Name] = p
}

// Lookup implements Registry
func (r *StaticRegistry) Lookup(ctx context.Context, name string) (*Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.partners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartnerNotFound, name)
	}
	return p, nil
}

// Names returns the registered partner names
func (r *StaticRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.partners))
	for name := range r.partners {
		names = append(names, name)
	}
	return names
}
