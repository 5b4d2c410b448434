// Package auth implements Authentication & the Rate Limiter (spec §4.9).
package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// Principal is what a credential resolves to: an identity plus the set
// of permissions it carries.
type Principal struct {
	Subject     string
	Permissions map[string]bool
}

// HasPermission reports whether the principal carries perm, or "*" for
// full access (used by trusted-local mode).
func (p Principal) HasPermission(perm string) bool {
	if p.Permissions["*"] {
		return true
	}
	return p.Permissions[perm]
}

// Mode selects how credentials are resolved.
type Mode string

const (
	// ModeLocalTrusted authenticates any loopback request with full
	// permissions without looking at its credentials; a non-loopback
	// request is still resolved by bearer token or API key.
	ModeLocalTrusted Mode = "local-trusted"
	// ModeExternalSecure requires a valid bearer token or API key.
	ModeExternalSecure Mode = "external-secure"
)

// CredentialStore resolves a bearer token or API key to a Principal.
// Implementations back this with whatever the deployment uses — a static
// map, a database, an external IdP — the authenticator only needs the
// lookup.
type CredentialStore interface {
	Resolve(ctx context.Context, credential string) (Principal, error)
}

// StaticCredentialStore is an in-memory CredentialStore keyed by the
// literal bearer token or API key string, suitable for local development
// and test fixtures.
type StaticCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]Principal
}

// NewStaticCredentialStore builds an empty store.
func NewStaticCredentialStore() *StaticCredentialStore {
	return &StaticCredentialStore{credentials: make(map[string]Principal)}
}

// Set registers or replaces the principal associated with credential.
func (s *StaticCredentialStore) Set(credential string, principal Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credential] = principal
}

// Resolve implements CredentialStore.
func (s *StaticCredentialStore) Resolve(ctx context.Context, credential string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.credentials[credential]
	if !ok {
		return Principal{}, gwerrors.New(gwerrors.Unauthorized, "unknown or expired credential")
	}
	return p, nil
}

// Authenticator resolves an incoming request to a Principal (spec §4.9).
type Authenticator struct {
	mode  Mode
	store CredentialStore
}

// New constructs an Authenticator. In ModeLocalTrusted, store may be nil.
func New(mode Mode, store CredentialStore) *Authenticator {
	return &Authenticator{mode: mode, store: store}
}

// Authenticate extracts a credential per spec §6's header conventions
// (Authorization: Bearer, X-Api-Key, X-Api-Token, ApiKey) or, in
// local-trusted mode, accepts any loopback remoteAddr outright.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	if a.mode == ModeLocalTrusted && isLoopback(r.RemoteAddr) {
		return Principal{Subject: "local-trusted", Permissions: map[string]bool{"*": true}}, nil
	}

	credential := extractCredential(r)
	if credential == "" {
		return Principal{}, gwerrors.New(gwerrors.Unauthorized, "no credential supplied")
	}
	if a.store == nil {
		return Principal{}, gwerrors.New(gwerrors.Unauthorized, "no credential store configured")
	}
	return a.store.Resolve(ctx, credential)
}

func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	for _, header := range []string{"X-Api-Key", "X-Api-Token", "ApiKey"} {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return ""
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
