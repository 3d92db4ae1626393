// Package keypool holds the rotating set of API credentials shared by
// all in-flight turns. Rotation keeps a key in the pool for later;
// eviction is permanent and reserved for keys the provider has rejected
// as invalid.
package keypool

import (
	"errors"
	"fmt"
	"sync"
)

var ErrExhausted = errors.New("keypool: no credentials left")

type Pool struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

func New(keys []string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keypool: at least one credential required")
	}
	p := &Pool{keys: make([]string, len(keys))}
	copy(p.keys, keys)
	return p, nil
}

// Current returns the active credential without advancing.
func (p *Pool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", ErrExhausted
	}
	return p.keys[p.idx], nil
}

// Rotate advances to the next credential round-robin. Pool membership
// is unchanged.
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return
	}
	p.idx = (p.idx + 1) % len(p.keys)
}

// Evict permanently removes a credential. Evicting the last key leaves
// the pool empty; Current then fails with ErrExhausted.
func (p *Pool) Evict(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, k := range p.keys {
		if k != key {
			continue
		}
		p.keys = append(p.keys[:i], p.keys[i+1:]...)
		if len(p.keys) == 0 {
			p.idx = 0
			return
		}
		if i < p.idx {
			p.idx--
		}
		p.idx %= len(p.keys)
		return
	}
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
