// Package engine keeps a multi-turn chat alive across an unreliable,
// rate-limited, stateful remote API. Each user turn walks a ladder of
// degradation states (live session → rebuilt session → stateless
// recovery → static apology), and every remote call inside a state is
// retried across the credential pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"nzt-bot/internal/keypool"
	"nzt-bot/internal/llm"
	"nzt-bot/internal/memory"
)

// Apology is the only user-visible failure surface. Everything else is
// recovered internally or logged.
const Apology = "⚠️ Sorry, the servers are very busy right now. Please try again in a minute."

// recoveryPrefix tells the prompt layer that context was lost, so the
// model can carry on without apologising for a server error.
const recoveryPrefix = "[RECOVERY_MODE] Context lost. User said: %q. Reply naturally to this input."

const attemptsPerKey = 2

type State int

const (
	StateLive State = iota
	StateRebuilt
	StateStateless
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateRebuilt:
		return "rebuilt"
	case StateStateless:
		return "stateless"
	default:
		return "terminal"
	}
}

var errNoSession = errors.New("engine: no cached session")

// ClientFactory builds a provider client bound to one credential.
type ClientFactory func(ctx context.Context, apiKey string) (llm.Client, error)

type Config struct {
	CallTimeout  time.Duration
	ShortBackoff time.Duration
	LongBackoff  time.Duration
	MaxHistory   int
	AbsenceGap   time.Duration
}

type Engine struct {
	pool    *keypool.Pool
	store   *memory.Store
	factory ClientFactory
	cfg     Config

	sessions sessionCache

	mu      sync.Mutex
	clients map[string]llm.Client
}

func New(pool *keypool.Pool, store *memory.Store, factory ClientFactory, cfg Config) *Engine {
	return &Engine{
		pool:     pool,
		store:    store,
		factory:  factory,
		cfg:      cfg,
		sessions: newSessionCache(),
		clients:  make(map[string]llm.Client),
	}
}

// Reply handles one user turn. It is total: every failure path resolves
// to a string, never an error. Only the original user text is ever
// persisted, regardless of what augmentation was sent to the model.
func (e *Engine) Reply(ctx context.Context, userID int64, text string) string {
	e.store.Ensure(userID)
	prev := e.store.Touch(userID)
	outbound := e.augmentForAbsence(userID, prev, text)

	var lastErr error
	for _, state := range []State{StateLive, StateRebuilt, StateStateless} {
		reply, err := e.attempt(ctx, state, userID, outbound)
		if err == nil {
			e.store.AppendExchange(userID, text, reply)
			e.captureTopic(userID, text)
			return reply
		}
		if !errors.Is(err, errNoSession) {
			log.Printf("engine: user=%d state=%s exhausted: %v", userID, state, err)
		}
		lastErr = err
	}
	// Terminal: nothing succeeded, nothing to record.
	log.Printf("engine: user=%d terminal, returning apology: %v", userID, lastErr)
	return Apology
}

// ResetUser clears the stored conversation and the cached session.
func (e *Engine) ResetUser(userID int64) {
	e.sessions.Drop(userID)
	e.store.Reset(userID)
}

// attempt runs the retry ladder for one degradation state. The ladder
// is bounded by pool size; exhaustion (or an empty pool) returns an
// error so the controller can escalate to the next state.
func (e *Engine) attempt(ctx context.Context, state State, userID int64, outbound string) (string, error) {
	// An already-empty pool means no state can possibly succeed; bail
	// out before any destructive side effect.
	if e.pool.Size() == 0 {
		return "", keypool.ErrExhausted
	}

	switch state {
	case StateLive:
		if sess, _ := e.sessions.Get(userID); sess == nil {
			return "", errNoSession
		}
	case StateStateless:
		// The stored history is presumed corrupt or desynced from the
		// provider. Destroying it is the price of forward progress.
		e.sessions.Drop(userID)
		e.store.Wipe(userID)
	}

	poolSize := e.pool.Size()
	maxAttempts := poolSize * attemptsPerKey
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var key string
		if state == StateLive {
			// The session was created by a specific credential, which
			// may no longer be the pool's current one. Any blame for a
			// Live failure belongs to that credential.
			_, key = e.sessions.Get(userID)
		} else {
			var err error
			key, err = e.pool.Current()
			if err != nil {
				if lastErr != nil {
					return "", fmt.Errorf("%w (last failure: %v)", err, lastErr)
				}
				return "", err
			}
		}

		reply, err := e.execute(ctx, state, userID, key, outbound)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		kind := llm.Classify(err)
		log.Printf("engine: user=%d state=%s attempt=%d key=…%s failed (%s): %v",
			userID, state, attempt, keyTail(key), kind, err)

		switch kind {
		case llm.FailureInvalidCredential:
			// Permanently dead key. Evicting instead of rotating keeps
			// it out of future round-robin cycles; retry immediately.
			if key != "" {
				e.pool.Evict(key)
				e.dropClient(key)
			}
			if state == StateLive {
				// The cached session cannot outlive its credential.
				e.sessions.Drop(userID)
				return "", fmt.Errorf("engine: live session credential evicted: %w", err)
			}
		default:
			e.pool.Rotate()
			if err := sleepCtx(ctx, e.backoffDelay(attempt, poolSize)); err != nil {
				return "", err
			}
		}
	}
	if state == StateLive {
		// Escalating past Live; the stale handle is rebuilt next state.
		e.sessions.Drop(userID)
	}
	return "", fmt.Errorf("engine: %s attempts exhausted: %w", state, lastErr)
}

func (e *Engine) execute(ctx context.Context, state State, userID int64, key, outbound string) (string, error) {
	if state == StateLive {
		// The cached session already carries its own client; the pool
		// key only matters once a new session has to be built.
		sess, _ := e.sessions.Get(userID)
		if sess == nil {
			return "", errNoSession
		}
		reply, _, err := e.race(ctx, func(c context.Context) (string, llm.ChatSession, error) {
			text, err := sess.Send(c, outbound)
			return text, nil, err
		})
		return reply, err
	}

	client, err := e.clientFor(ctx, key)
	if err != nil {
		return "", err
	}

	switch state {
	case StateRebuilt:
		history := toMessages(memory.Sanitize(e.store.History(userID), e.cfg.MaxHistory))
		reply, sess, err := e.race(ctx, func(c context.Context) (string, llm.ChatSession, error) {
			sess, err := client.StartChat(c, history)
			if err != nil {
				return "", nil, err
			}
			reply, err := sess.Send(c, outbound)
			if err != nil {
				return "", nil, err
			}
			return reply, sess, nil
		})
		if err != nil {
			return "", err
		}
		// Cache only after the race resolved in this call's favor. An
		// abandoned rebuild must never install a session behind the
		// back of a turn that has already escalated past it.
		e.sessions.Put(userID, sess, key)
		return reply, nil
	default: // StateStateless
		prompt := fmt.Sprintf(recoveryPrefix, outbound)
		reply, _, err := e.race(ctx, func(c context.Context) (string, llm.ChatSession, error) {
			text, err := client.Generate(c, prompt)
			return text, nil, err
		})
		return reply, err
	}
}

// race runs the call against the turn timeout. The loser is abandoned:
// the provider call may still be running in the background, it just no
// longer owns this turn and its result (session included) is dropped.
func (e *Engine) race(ctx context.Context, fn func(context.Context) (string, llm.ChatSession, error)) (string, llm.ChatSession, error) {
	type result struct {
		text string
		sess llm.ChatSession
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, sess, err := fn(ctx)
		ch <- result{text, sess, err}
	}()

	timer := time.NewTimer(e.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.text, r.sess, r.err
	case <-timer.C:
		return "", nil, llm.ErrTimeout
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// backoffDelay stays short while untried keys remain in the current
// rotation cycle, then stretches once the rotation has wrapped so a
// globally rate-limited provider is not hammered.
func (e *Engine) backoffDelay(attempt, poolSize int) time.Duration {
	if poolSize > 1 && attempt < poolSize-1 {
		return e.cfg.ShortBackoff
	}
	cycles := 1
	if poolSize > 0 {
		cycles = attempt/poolSize + 1
	}
	return e.cfg.LongBackoff * time.Duration(cycles)
}

func (e *Engine) clientFor(ctx context.Context, key string) (llm.Client, error) {
	e.mu.Lock()
	if c, ok := e.clients[key]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	c, err := e.factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("create client for key …%s: %w", keyTail(key), err)
	}
	e.mu.Lock()
	e.clients[key] = c
	e.mu.Unlock()
	return c, nil
}

func (e *Engine) dropClient(key string) {
	e.mu.Lock()
	delete(e.clients, key)
	e.mu.Unlock()
}

// augmentForAbsence wraps the outbound text with a returning-user note
// when the gap since the previous message is large. Purely an input
// transformation; the stored turn is always the raw text.
func (e *Engine) augmentForAbsence(userID int64, prev time.Time, text string) string {
	if e.cfg.AbsenceGap <= 0 || prev.IsZero() {
		return text
	}
	gap := time.Since(prev)
	if gap < e.cfg.AbsenceGap || len(e.store.History(userID)) < 2 {
		return text
	}
	topic := e.store.Topic(userID)
	if topic == "" {
		return fmt.Sprintf("[RETURNING_USER after %s] %s", gap.Round(time.Hour), text)
	}
	return fmt.Sprintf("[RETURNING_USER after %s, earlier topic: %s] %s", gap.Round(time.Hour), topic, text)
}

// captureTopic stores an advisory label from the first substantive
// user message. SetTopic is write-once, so later turns are no-ops.
func (e *Engine) captureTopic(userID int64, text string) {
	t := strings.TrimSpace(text)
	if len(t) < 3 || strings.HasPrefix(t, "SYSTEM_CMD") {
		return
	}
	const maxTopic = 64
	runes := []rune(t)
	if len(runes) > maxTopic {
		t = string(runes[:maxTopic])
	}
	e.store.SetTopic(userID, t)
}

func toMessages(turns []memory.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: t.Role, Text: t.Text})
	}
	return out
}

func keyTail(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[len(key)-4:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
