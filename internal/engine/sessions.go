package engine

import (
	"sync"

	"nzt-bot/internal/llm"
)

// sessionEntry pairs a live chat handle with the credential that
// created it. The pool may rotate while the handle is cached, so the
// handle's own key is the only one that can be blamed when it fails.
type sessionEntry struct {
	sess llm.ChatSession
	key  string
}

// sessionCache keeps live chat handles per user. Entries are disposable
// by design: dropping one only costs a rebuild from stored history on
// the next turn.
type sessionCache struct {
	mu sync.Mutex
	m  map[int64]sessionEntry
}

func newSessionCache() sessionCache {
	return sessionCache{m: make(map[int64]sessionEntry)}
}

func (c *sessionCache) Get(userID int64) (llm.ChatSession, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[userID]
	if !ok {
		return nil, ""
	}
	return e.sess, e.key
}

func (c *sessionCache) Put(userID int64, s llm.ChatSession, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[userID] = sessionEntry{sess: s, key: key}
}

func (c *sessionCache) Drop(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, userID)
}
