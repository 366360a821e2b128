// Package captcha implements the human-verification gate: short-lived
// challenges redeemed exactly once into single-use session tokens.
package captcha

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/fetch"
)

// Verification errors. All of them map to 4xx responses with a reason
// string; absent and expired challenges are deliberately indistinguishable
// to avoid enumeration.
var (
	ErrChallengeExpired = errors.New("challenge expired or invalid")
	ErrTooManyAttempts  = errors.New("too many attempts, request a new challenge")
	ErrIncorrectCode    = errors.New("incorrect code")
	ErrRenderFailed     = errors.New("challenge image rendering failed")
)

// Config controls Gate behavior.
type Config struct {
	CodeLength   int
	ChallengeTTL time.Duration
	SessionTTL   time.Duration
	MaxAttempts  int
	// HMACKey keys the code digests. Empty means a random per-process key,
	// which is fine because challenges never outlive the process.
	HMACKey string
}

// Challenge is what the caller shows to a human. Exactly one of Image and
// FallbackText is set: when the renderer fails the code is delivered as
// obfuscated text rather than proceeding with no challenge at all.
type Challenge struct {
	ID           string
	Image        string
	FallbackText string
	ExpiresAt    time.Time
}

type storedChallenge struct {
	digest    []byte
	expiresAt time.Time
	attempts  int
}

// Gate issues challenges and mints/consumes session tokens. The challenge
// table and the session table each sit behind their own mutex; redemption
// and sweeping share the challenge mutex so a sweep never evicts an entry
// mid-redemption.
type Gate struct {
	cfg      Config
	key      []byte
	renderer fetch.Renderer
	clock    fetch.Clock
	idGen    fetch.IDGenerator
	logger   *zap.Logger

	chMu       sync.Mutex
	challenges map[string]*storedChallenge

	sessMu   sync.Mutex
	sessions map[string]time.Time
}

// NewGate constructs a Gate.
func NewGate(cfg Config, renderer fetch.Renderer, clock fetch.Clock, idGen fetch.IDGenerator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 4
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 2 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	key := []byte(cfg.HMACKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// crypto/rand failing is unrecoverable for this process.
			panic(fmt.Sprintf("captcha: read random key: %v", err))
		}
	}
	return &Gate{
		cfg:        cfg,
		key:        key,
		renderer:   renderer,
		clock:      clock,
		idGen:      idGen,
		logger:     logger,
		challenges: make(map[string]*storedChallenge),
		sessions:   make(map[string]time.Time),
	}
}

// Issue generates a fresh challenge. Only a keyed digest of the code is
// stored; the plaintext exists solely inside the rendered image or the
// text fallback.
func (g *Gate) Issue() (Challenge, error) {
	code, err := randomCode(g.cfg.CodeLength)
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge code: %w", err)
	}
	id, err := g.idGen.NewID()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate challenge id: %w", err)
	}

	expiresAt := g.clock.Now().Add(g.cfg.ChallengeTTL)
	ch := Challenge{ID: id, ExpiresAt: expiresAt}
	if image, rerr := g.renderer.Render(code); rerr != nil {
		g.logger.Warn("challenge render failed, using text fallback", zap.Error(rerr))
		ch.FallbackText = obfuscateCode(code)
	} else {
		ch.Image = image
	}

	g.chMu.Lock()
	g.challenges[id] = &storedChallenge{
		digest:    g.digest(code),
		expiresAt: expiresAt,
	}
	g.chMu.Unlock()
	return ch, nil
}

// Redeem exchanges a correct code for a session token. The challenge is
// one-time use: it is deleted on a correct code and on attempt exhaustion.
func (g *Gate) Redeem(challengeID, code string) (string, error) {
	now := g.clock.Now()

	g.chMu.Lock()
	ch, ok := g.challenges[challengeID]
	if !ok || now.After(ch.expiresAt) {
		delete(g.challenges, challengeID)
		g.chMu.Unlock()
		return "", ErrChallengeExpired
	}
	if ch.attempts >= g.cfg.MaxAttempts {
		delete(g.challenges, challengeID)
		g.chMu.Unlock()
		return "", ErrTooManyAttempts
	}
	if !hmac.Equal(ch.digest, g.digest(strings.TrimSpace(code))) {
		ch.attempts++
		if ch.attempts >= g.cfg.MaxAttempts {
			delete(g.challenges, challengeID)
			g.chMu.Unlock()
			return "", ErrTooManyAttempts
		}
		g.chMu.Unlock()
		return "", ErrIncorrectCode
	}
	delete(g.challenges, challengeID)
	g.chMu.Unlock()

	token, err := g.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	g.sessMu.Lock()
	g.sessions[token] = now.Add(g.cfg.SessionTTL)
	g.sessMu.Unlock()
	return token, nil
}

// ConsumeSession atomically checks and deletes the token. Any consumption
// attempt burns the token, valid or not: one successful verification
// authorizes exactly one submission.
func (g *Gate) ConsumeSession(token string) bool {
	if token == "" {
		return false
	}
	g.sessMu.Lock()
	expiresAt, ok := g.sessions[token]
	delete(g.sessions, token)
	g.sessMu.Unlock()
	return ok && g.clock.Now().Before(expiresAt)
}

// Sweep evicts expired challenges and sessions. Safe to call concurrently
// with issuance and redemption.
func (g *Gate) Sweep() {
	now := g.clock.Now()
	g.chMu.Lock()
	for id, ch := range g.challenges {
		if now.After(ch.expiresAt) {
			delete(g.challenges, id)
		}
	}
	g.chMu.Unlock()
	g.sessMu.Lock()
	for token, expiresAt := range g.sessions {
		if now.After(expiresAt) {
			delete(g.sessions, token)
		}
	}
	g.sessMu.Unlock()
}

func (g *Gate) digest(code string) []byte {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

func randomCode(length int) (string, error) {
	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("read random digit: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

// obfuscateCode spaces out the digits so the text fallback is at least
// mildly resistant to naive scraping.
func obfuscateCode(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}
