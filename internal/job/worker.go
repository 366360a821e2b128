package job

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/fetch"
	"github.com/mediafetch/fetchd/internal/progress"
)

// run is the per-job worker routine. It holds a pool slot for its whole
// lifetime and is the only writer of the record besides the extractor
// callback it installs.
func (m *Manager) run(rec *Record, url, formatSelector string, kind fetch.FileKind) {
	defer m.wg.Done()
	defer func() { <-m.slots }()

	snap := rec.Snapshot()
	jobID := snap.JobID
	started := m.clock.Now()
	logger := m.logger.With(zap.String("job_id", jobID))

	workDir, err := os.MkdirTemp(m.cfg.WorkDirRoot, "fetch_")
	if err != nil {
		logger.Error("create work dir", zap.Error(err))
		rec.Fail("Could not allocate working directory")
		m.emit(jobID, progress.StageJobError, string(fetch.KindUnknown), 0, 0, m.clock.Now().Sub(started), "workdir")
		return
	}

	ffmpegAvailable := m.extractor.PostProcessorAvailable()
	rec.StartAttempt(workDir, ffmpegAvailable)
	m.emit(jobID, progress.StageJobStart, "", 0, 0, 0, "")

	hook := func(u fetch.ProgressUpdate) {
		rec.ApplyProgress(u)
		s := rec.Snapshot()
		m.emit(jobID, progress.StageJobProgress, "", s.DownloadedBytes, s.Percent, 0, "")
	}

	for attempt := 1; ; attempt++ {
		req := m.buildRequest(url, workDir, formatSelector, kind, ffmpegAvailable)
		info, err := m.extractor.Download(context.Background(), req, hook)
		if err == nil {
			m.finalize(rec, logger, jobID, info, started)
			return
		}

		derr := fetch.Classify(err)
		if m.cfg.Retry.ShouldRetry(derr, attempt) {
			delay := m.cfg.Retry.Backoff(attempt)
			logger.Warn("download attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("kind", string(derr.Kind)),
				zap.Duration("backoff", delay),
				zap.Error(derr.Unwrap()),
			)
			m.emit(jobID, progress.StageJobRetry, string(derr.Kind), 0, 0, 0, "")
			time.Sleep(delay)
			// Partial artifacts from this attempt stay in workDir; the
			// extractor's idempotent naming lets the final scan still
			// locate them.
			rec.StartAttempt(workDir, ffmpegAvailable)
			continue
		}

		if derr.Kind.Retryable() {
			derr = fetch.ExhaustedError(derr)
		}
		logger.Error("download failed",
			zap.Int("attempt", attempt),
			zap.String("kind", string(derr.Kind)),
			zap.Error(derr.Unwrap()),
		)
		rec.Fail(derr.Message)
		m.cleanupWorkDir(logger, workDir)
		m.emit(jobID, progress.StageJobError, string(derr.Kind), 0, 0, m.clock.Now().Sub(started), "")
		return
	}
}

// finalize resolves and validates the output file, then latches the record
// into its terminal state.
func (m *Manager) finalize(rec *Record, logger *zap.Logger, jobID string, info fetch.DownloadInfo, started time.Time) {
	if info.Title != "" {
		rec.SetTitle(info.Title)
	}
	snap := rec.Snapshot()

	final, err := resolveFinalFile(snap.WorkDir, snap.ReportedFile, info.Filename, snap.Title)
	if err != nil {
		logger.Error("final file resolution failed", zap.Error(err))
		rec.Fail(fetch.ErrOutputNotFound.Error())
		m.cleanupWorkDir(logger, snap.WorkDir)
		m.emit(jobID, progress.StageJobError, string(fetch.KindUnknown), 0, 0, m.clock.Now().Sub(started), "output not found")
		return
	}

	fi, err := os.Stat(final)
	if err != nil || fi.Size() < m.cfg.MinOutputBytes {
		logger.Error("output integrity check failed", zap.String("path", final), zap.Error(err))
		rec.Fail(fetch.ErrCorruptOutput.Error())
		m.cleanupWorkDir(logger, snap.WorkDir)
		m.emit(jobID, progress.StageJobError, string(fetch.KindUnknown), 0, 0, m.clock.Now().Sub(started), "corrupt output")
		return
	}

	var checksum string
	if m.cfg.Hasher != nil {
		var herr error
		if checksum, herr = m.cfg.Hasher.HashFile(final); herr != nil {
			logger.Warn("artifact checksum failed", zap.Error(herr))
		}
	}

	rec.Complete(final, fi.Size(), checksum)
	logger.Info("download completed",
		zap.String("path", final),
		zap.Int64("bytes", fi.Size()),
		zap.String("sha256", checksum),
	)
	m.emit(jobID, progress.StageJobDone, "", fi.Size(), 100, m.clock.Now().Sub(started), "")
}

func (m *Manager) buildRequest(url, workDir, formatSelector string, kind fetch.FileKind, ffmpegAvailable bool) fetch.DownloadRequest {
	req := fetch.DownloadRequest{
		URL:            url,
		WorkDir:        workDir,
		FormatSelector: formatSelector,
		FileKind:       kind,
		CookiesPath:    m.cfg.CookiesPath,
		UserAgent:      m.cfg.UserAgent,
		AudioBitrate:   m.cfg.AudioBitrate,
		RateLimitMBps:  m.cfg.RateLimitMBps,
	}
	if kind == fetch.KindMP3 {
		if ffmpegAvailable {
			req.FormatSelector = "bestaudio/best"
			req.ExtractAudio = true
		} else {
			// No post-processing engine: take the best native audio
			// stream rather than failing.
			req.FormatSelector = "bestaudio"
		}
	}
	return req
}

// cleanupWorkDir is the worker-on-error deletion; a later sweep of the same
// path is a no-op.
func (m *Manager) cleanupWorkDir(logger *zap.Logger, workDir string) {
	if workDir == "" {
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		logger.Warn("remove work dir after failure", zap.Error(err))
	}
}

func (m *Manager) emit(jobID string, stage progress.Stage, kind string, bytes int64, percent float64, dur time.Duration, note string) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(progress.Event{
		JobID:   progress.IDToBytes(jobID),
		TS:      m.clock.Now(),
		Stage:   stage,
		Kind:    kind,
		Bytes:   bytes,
		Percent: percent,
		Dur:     dur,
		Note:    note,
	})
}
