// Package credential holds the API credential gate shared by the service.
//
// The gate answers one question, "is a usable credential configured?", and
// supplies the current key to outbound provider calls. It is reset when the
// provider reports that the credential no longer resolves, which forces a
// fresh selection before another long-running job can be submitted.
//
// A long-running job pins the key it was submitted with through WithKey, so
// selecting a new key never redirects the polls of a job already in flight.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Static errors for gate operations.
var (
	// ErrNoCredential is returned by Key when no credential is selected.
	ErrNoCredential = errors.New("credential: no API key selected")
	// ErrBlankCredential is returned by Select for an empty key.
	ErrBlankCredential = errors.New("credential: API key must not be blank")
)

// Gate is a concurrency-safe credential session.
type Gate struct {
	mu  sync.RWMutex
	key string
}

// NewGate creates a gate seeded with key. A blank key leaves the gate closed.
func NewGate(key string) *Gate {
	return &Gate{key: strings.TrimSpace(key)}
}

// Check reports whether a credential is currently selected.
func (g *Gate) Check() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.key != ""
}

// Select stores key as the active credential.
func (g *Gate) Select(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrBlankCredential
	}
	g.mu.Lock()
	g.key = key
	g.mu.Unlock()
	return nil
}

// Key returns the active credential.
func (g *Gate) Key() (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.key == "" {
		return "", ErrNoCredential
	}
	return g.key, nil
}

// Reset clears the active credential.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.key = ""
	g.mu.Unlock()
}

// ResetIf clears the active credential only while it is still rejected. It
// reports whether the gate was cleared; a key selected since the rejected
// one was pinned is kept.
func (g *Gate) ResetIf(rejected string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.key == "" || g.key != rejected {
		return false
	}
	g.key = ""
	return true
}

type keyCtx struct{}

// WithKey returns a context that pins key for every provider call made
// with it.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// KeyFrom returns the key pinned by WithKey.
func KeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyCtx{}).(string)
	return key, ok && key != ""
}
