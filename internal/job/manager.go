package job

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/fetch"
	"github.com/mediafetch/fetchd/internal/progress"
)

// Config controls Manager behavior.
type Config struct {
	// PoolSize caps simultaneous active fetches. Excess submissions are
	// rejected, not queued: each active job is a large streaming transfer
	// and unbounded queueing would make disk pressure unpredictable.
	PoolSize int
	// WorkDirRoot is where per-job scratch directories are created; empty
	// means the system temp dir.
	WorkDirRoot string
	// MinOutputBytes is the integrity floor for a finished artifact.
	MinOutputBytes int64
	// Retry governs the attempt budget and backoff of the worker routine.
	Retry fetch.RetryPolicy
	// ProbeTimeout bounds the metadata probe path.
	ProbeTimeout time.Duration
	// CookiesPath, UserAgent, AudioBitrate, and RateLimitMBps are passed
	// through to the extractor per attempt.
	CookiesPath   string
	UserAgent     string
	AudioBitrate  string
	RateLimitMBps float64
	// Hasher digests completed artifacts; nil skips checksums.
	Hasher fetch.Hasher
}

// Manager owns the job table and the bounded worker pool. Submissions,
// lookups, and sweeps all go through it; nothing else holds references to
// live Records except the worker routine bound to each one.
type Manager struct {
	cfg       Config
	extractor fetch.Extractor
	clock     fetch.Clock
	idGen     fetch.IDGenerator
	emitter   progress.Emitter
	logger    *zap.Logger

	mu       sync.RWMutex
	jobs     map[string]*Record
	cleanups map[string]*time.Timer

	slots     chan struct{}
	wg        sync.WaitGroup
	acceptMu  sync.Mutex
	accepting bool
}

// NewManager constructs a Manager.
func NewManager(
	cfg Config,
	extractor fetch.Extractor,
	clock fetch.Clock,
	idGen fetch.IDGenerator,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.MinOutputBytes <= 0 {
		cfg.MinOutputBytes = 1024
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = fetch.DefaultRetryPolicy()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		extractor: extractor,
		clock:     clock,
		idGen:     idGen,
		emitter:   emitter,
		logger:    logger,
		jobs:      make(map[string]*Record),
		cleanups:  make(map[string]*time.Timer),
		slots:     make(chan struct{}, cfg.PoolSize),
		accepting: true,
	}
}

// Submit validates the request, allocates a Record, and dispatches a worker.
// It returns immediately with the job ID; progress is observed via Lookup.
// A saturated pool yields fetch.ErrServerBusy without creating a Record.
func (m *Manager) Submit(url, formatSelector string, kind fetch.FileKind) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%w: empty url", fetch.ErrInvalidFormat)
	}
	if kind != fetch.KindMP3 && !fetch.ValidFormatSelector(formatSelector) {
		return "", fetch.ErrInvalidFormat
	}
	m.acceptMu.Lock()
	accepting := m.accepting
	m.acceptMu.Unlock()
	if !accepting {
		return "", fetch.ErrServerBusy
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return "", fetch.ErrServerBusy
	}

	id, err := m.idGen.NewID()
	if err != nil {
		<-m.slots
		return "", fmt.Errorf("generate job id: %w", err)
	}
	rec := newRecord(id, m.clock.Now())
	m.mu.Lock()
	m.jobs[id] = rec
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(rec, url, formatSelector, kind)
	return id, nil
}

// Lookup returns an immutable snapshot of the job, never a live reference.
func (m *Manager) Lookup(jobID string) (Snapshot, error) {
	m.mu.RLock()
	rec, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, fetch.ErrNotFound
	}
	return rec.Snapshot(), nil
}

// Active returns the number of occupied pool slots.
func (m *Manager) Active() int {
	return len(m.slots)
}

// PoolSize returns the configured pool bound.
func (m *Manager) PoolSize() int {
	return m.cfg.PoolSize
}

// PostProcessorAvailable reports whether the optional post-processing
// engine is usable; surfaced to clients so the UI can hide formats that
// need it.
func (m *Manager) PostProcessorAvailable() bool {
	return m.extractor.PostProcessorAvailable()
}

// Probe fetches metadata for a URL without downloading, racing the
// extractor call against the configured deadline. On expiry the
// still-running probe is abandoned, not killed, and its eventual result is
// discarded.
func (m *Manager) Probe(ctx context.Context, url string) (fetch.Metadata, error) {
	type probeResult struct {
		meta fetch.Metadata
		err  error
	}
	// Buffered so the abandoned goroutine does not leak on timeout.
	resultCh := make(chan probeResult, 1)
	go func() {
		meta, err := m.extractor.Probe(ctx, url)
		resultCh <- probeResult{meta: meta, err: err}
	}()

	timer := time.NewTimer(m.cfg.ProbeTimeout)
	defer timer.Stop()
	select {
	case res := <-resultCh:
		if res.err != nil {
			return fetch.Metadata{}, fmt.Errorf("probe metadata: %w", res.err)
		}
		return res.meta, nil
	case <-timer.C:
		return fetch.Metadata{}, fetch.ErrProbeTimeout
	case <-ctx.Done():
		return fetch.Metadata{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	}
}

// ScheduleCleanup arranges removal of a job and its working directory after
// the delay. Used by the artifact delivery path once the file has been
// served; racing the retention sweeper is fine because removal is
// idempotent.
func (m *Manager) ScheduleCleanup(jobID string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return
	}
	if prev, ok := m.cleanups[jobID]; ok {
		prev.Stop()
	}
	m.cleanups[jobID] = time.AfterFunc(delay, func() {
		m.Remove(jobID)
	})
}

// Remove drops the job record and deletes its working directory. Removing
// an already-removed job or directory is a no-op.
func (m *Manager) Remove(jobID string) {
	m.mu.Lock()
	rec, ok := m.jobs[jobID]
	if ok {
		delete(m.jobs, jobID)
	}
	if timer, tok := m.cleanups[jobID]; tok {
		timer.Stop()
		delete(m.cleanups, jobID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	snap := rec.Snapshot()
	if snap.WorkDir != "" {
		if err := os.RemoveAll(snap.WorkDir); err != nil {
			m.logger.Warn("remove work dir", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// Sweep evicts jobs that are finalized and older than grace, or older than
// maxAge regardless of state (a guard against a worker that never
// finalizes). It returns the number of evicted jobs.
func (m *Manager) Sweep(grace, maxAge time.Duration) int {
	now := m.clock.Now()
	m.mu.RLock()
	var expired []string
	for id, rec := range m.jobs {
		snap := rec.Snapshot()
		age := now.Sub(snap.CreatedAt)
		if (snap.Finalized && age > grace) || age > maxAge {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range expired {
		m.Remove(id)
	}
	return len(expired)
}

// Shutdown stops accepting new work and waits for in-flight workers to
// finish naturally. Active extractor calls are synchronous and opaque, so
// no forced kill is attempted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.acceptMu.Lock()
	m.accepting = false
	m.acceptMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job manager shutdown wait: %w", ctx.Err())
	}
}
