package scorer

import (
	"strings"
	"sync/atomic"
)

// Credential is one API key together with its position in the pool
type Credential struct {
	Index int
	Key   string
}

// CredentialRotator hands out API keys round-robin.
// The key slice never changes after construction; only the cursor moves.
type CredentialRotator struct {
	keys []string
	next atomic.Uint64
}

// NewCredentialRotator builds a rotator over keys, in order
func NewCredentialRotator(keys []string) (*CredentialRotator, error) {
	if len(keys) == 0 {
		return nil, &ConfigurationError{Field: "APIKeys", Err: ErrNoCredentials}
	}
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return nil, newConfigError("APIKeys", "blank API key")
		}
	}

	owned := make([]string, len(keys))
	copy(owned, keys)
	return &CredentialRotator{keys: owned}, nil
}

// Acquire returns the credential under the cursor and advances it
func (r *CredentialRotator) Acquire() (Credential, error) {
	if r == nil || len(r.keys) == 0 {
		return Credential{}, &ConfigurationError{Field: "APIKeys", Err: ErrNoCredentials}
	}

	n := r.next.Add(1) - 1
	i := int(n % uint64(len(r.keys)))
	return Credential{Index: i, Key: r.keys[i]}, nil
}

// Len returns the pool size
func (r *CredentialRotator) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// All returns every credential in pool order without moving the cursor
func (r *CredentialRotator) All() []Credential {
	if r == nil {
		return nil
	}
	out := make([]Credential, len(r.keys))
	for i, k := range r.keys {
		out[i] = Credential{Index: i, Key: k}
	}
	return out
}
