package captcha

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type seqIDGen struct {
	n atomic.Int64
}

func (g *seqIDGen) NewID() (string, error) {
	return fmt.Sprintf("id-%04d", g.n.Add(1)), nil
}

// capturingRenderer records the plaintext code it was asked to draw so
// tests can redeem with the right answer.
type capturingRenderer struct {
	mu       sync.Mutex
	lastCode string
	err      error
}

func (r *capturingRenderer) Render(code string) (string, error) {
	r.mu.Lock()
	r.lastCode = code
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return "data:image/png;base64,stub", nil
}

func (r *capturingRenderer) LastCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCode
}

func newTestGate(renderer *capturingRenderer, clk *fakeClock) *Gate {
	return NewGate(Config{
		CodeLength:   4,
		ChallengeTTL: 2 * time.Minute,
		SessionTTL:   10 * time.Minute,
		MaxAttempts:  3,
	}, renderer, clk, &seqIDGen{}, nil)
}

func TestIssueAndRedeem(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	clk := newFakeClock()
	gate := newTestGate(renderer, clk)

	ch, err := gate.Issue()
	require.NoError(t, err)
	require.NotEmpty(t, ch.ID)
	require.NotEmpty(t, ch.Image)
	require.Empty(t, ch.FallbackText)
	require.Len(t, renderer.LastCode(), 4)

	token, err := gate.Redeem(ch.ID, renderer.LastCode())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, gate.ConsumeSession(token))
}

// TestChallengeOneTimeUse verifies a redeemed challenge cannot be redeemed
// again, even with the correct code.
func TestChallengeOneTimeUse(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	gate := newTestGate(renderer, newFakeClock())

	ch, err := gate.Issue()
	require.NoError(t, err)
	code := renderer.LastCode()

	_, err = gate.Redeem(ch.ID, code)
	require.NoError(t, err)

	_, err = gate.Redeem(ch.ID, code)
	require.ErrorIs(t, err, ErrChallengeExpired)
}

// TestSessionSingleUse pins the one-submission-per-verification rule: the
// first consumption succeeds, the second fails.
func TestSessionSingleUse(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	gate := newTestGate(renderer, newFakeClock())

	ch, err := gate.Issue()
	require.NoError(t, err)
	token, err := gate.Redeem(ch.ID, renderer.LastCode())
	require.NoError(t, err)

	require.True(t, gate.ConsumeSession(token))
	require.False(t, gate.ConsumeSession(token))
}

func TestConsumeSessionRejectsBadTokens(t *testing.T) {
	t.Parallel()

	gate := newTestGate(&capturingRenderer{}, newFakeClock())
	require.False(t, gate.ConsumeSession(""))
	require.False(t, gate.ConsumeSession("never-issued"))
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	clk := newFakeClock()
	gate := newTestGate(renderer, clk)

	ch, err := gate.Issue()
	require.NoError(t, err)
	token, err := gate.Redeem(ch.ID, renderer.LastCode())
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	require.False(t, gate.ConsumeSession(token))
}

// TestAttemptBudget walks through wrong guesses: the third wrong answer
// exhausts the challenge and even the correct code is then rejected.
func TestAttemptBudget(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	gate := newTestGate(renderer, newFakeClock())

	ch, err := gate.Issue()
	require.NoError(t, err)
	code := renderer.LastCode()
	wrong := "9999"
	if wrong == code {
		wrong = "0000"
	}

	_, err = gate.Redeem(ch.ID, wrong)
	require.ErrorIs(t, err, ErrIncorrectCode)
	_, err = gate.Redeem(ch.ID, wrong)
	require.ErrorIs(t, err, ErrIncorrectCode)
	_, err = gate.Redeem(ch.ID, wrong)
	require.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = gate.Redeem(ch.ID, code)
	require.ErrorIs(t, err, ErrChallengeExpired)
}

func TestChallengeExpiry(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	clk := newFakeClock()
	gate := newTestGate(renderer, clk)

	ch, err := gate.Issue()
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)
	_, err = gate.Redeem(ch.ID, renderer.LastCode())
	require.ErrorIs(t, err, ErrChallengeExpired)
}

func TestRedeemTrimsWhitespace(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	gate := newTestGate(renderer, newFakeClock())

	ch, err := gate.Issue()
	require.NoError(t, err)

	token, err := gate.Redeem(ch.ID, "  "+renderer.LastCode()+" ")
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

// TestRenderFallback asserts a renderer failure degrades to the obfuscated
// text challenge instead of failing issuance.
func TestRenderFallback(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{err: errors.New("font missing")}
	gate := newTestGate(renderer, newFakeClock())

	ch, err := gate.Issue()
	require.NoError(t, err)
	require.Empty(t, ch.Image)
	require.NotEmpty(t, ch.FallbackText)

	code := strings.ReplaceAll(ch.FallbackText, " ", "")
	token, err := gate.Redeem(ch.ID, code)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestSweepEvictsExpiredState(t *testing.T) {
	t.Parallel()

	renderer := &capturingRenderer{}
	clk := newFakeClock()
	gate := newTestGate(renderer, clk)

	ch, err := gate.Issue()
	require.NoError(t, err)
	token, err := gate.Redeem(ch.ID, renderer.LastCode())
	require.NoError(t, err)

	stale, err := gate.Issue()
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	gate.Sweep()

	_, err = gate.Redeem(stale.ID, "whatever")
	require.ErrorIs(t, err, ErrChallengeExpired)
	require.False(t, gate.ConsumeSession(token))
}
