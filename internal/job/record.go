// Package job implements the job manager: a bounded pool of fetch workers
// over a table of per-job progress records.
package job

import (
	"sync"
	"time"

	"github.com/mediafetch/fetchd/internal/fetch"
)

// State is a job lifecycle state.
type State string

// Job states. Completed and Error are terminal.
const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// progressCeiling is the highest percent a callback may report. 100.0 is
// set only after the worker routine has verified the output file.
const progressCeiling = 99.9

// Record is the mutable state of one fetch job. All field access goes
// through its mutex; multi-field updates are applied in one critical
// section so pollers never observe a torn combination of state, percent,
// and result path. Once finalized, callback-driven mutation is ignored.
type Record struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	state           State
	percent         float64
	downloadedBytes int64
	totalBytes      int64
	speed           float64
	etaSeconds      int64
	resultPath      string
	checksum        string
	errorDetail     string
	workDir         string
	title           string
	reportedFile    string
	ffmpegAvailable bool
	finalized       bool
}

// Snapshot is an immutable copy of a Record's fields.
type Snapshot struct {
	JobID           string
	State           State
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64
	ETASeconds      int64
	ResultPath      string
	Checksum        string
	ErrorDetail     string
	WorkDir         string
	Title           string
	ReportedFile    string
	FfmpegAvailable bool
	CreatedAt       time.Time
	Finalized       bool
}

func newRecord(id string, now time.Time) *Record {
	return &Record{
		id:        id,
		createdAt: now,
		state:     StateQueued,
	}
}

// Snapshot returns a consistent copy of the record.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		JobID:           r.id,
		State:           r.state,
		Percent:         r.percent,
		DownloadedBytes: r.downloadedBytes,
		TotalBytes:      r.totalBytes,
		Speed:           r.speed,
		ETASeconds:      r.etaSeconds,
		ResultPath:      r.resultPath,
		Checksum:        r.checksum,
		ErrorDetail:     r.errorDetail,
		WorkDir:         r.workDir,
		Title:           r.title,
		ReportedFile:    r.reportedFile,
		FfmpegAvailable: r.ffmpegAvailable,
		CreatedAt:       r.createdAt,
		Finalized:       r.finalized,
	}
}

// StartAttempt transitions the record into downloading with a fresh working
// directory. It is also called on retry attempts, where the directory and
// counters carry over from the previous attempt.
func (r *Record) StartAttempt(workDir string, ffmpegAvailable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.state = StateDownloading
	r.workDir = workDir
	r.ffmpegAvailable = ffmpegAvailable
}

// ApplyProgress folds one callback event into the record in a single lock
// acquisition. Events arriving after finalization are ignored; this is the
// defense against a late callback from an abandoned attempt corrupting a
// result a later attempt already finalized.
func (r *Record) ApplyProgress(u fetch.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	switch u.Phase {
	case fetch.PhaseDownloading:
		r.state = StateDownloading
		pct := u.Percent
		if !u.HasPercent && u.TotalBytes > 0 {
			pct = float64(u.DownloadedBytes) / float64(u.TotalBytes) * 100
		}
		if pct > progressCeiling {
			pct = progressCeiling
		}
		// Percent is monotonically non-decreasing while downloading.
		if pct > r.percent {
			r.percent = pct
		}
		if u.DownloadedBytes > 0 {
			r.downloadedBytes = u.DownloadedBytes
		}
		if u.TotalBytes > 0 {
			r.totalBytes = u.TotalBytes
		}
		r.speed = u.Speed
		r.etaSeconds = u.ETASeconds
	case fetch.PhaseFinished:
		// Not 100.0: true completion is declared only after the worker
		// verifies the output file on disk.
		r.percent = progressCeiling
		if r.totalBytes > 0 {
			r.downloadedBytes = r.totalBytes
		}
		r.speed = 0
		r.etaSeconds = 0
		if u.Filename != "" {
			r.reportedFile = u.Filename
		}
	case fetch.PhaseError:
		r.state = StateError
		if u.ErrorMessage != "" {
			r.errorDetail = u.ErrorMessage
		}
	}
}

// SetTitle records the best-effort media title used to disambiguate the
// final file.
func (r *Record) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized || title == "" {
		return
	}
	r.title = title
}

// Complete finalizes the record as successfully completed. The checksum may
// be empty when no hasher is configured.
func (r *Record) Complete(resultPath string, size int64, checksum string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.state = StateCompleted
	r.percent = 100.0
	r.resultPath = resultPath
	r.checksum = checksum
	r.downloadedBytes = size
	r.totalBytes = size
	r.speed = 0
	r.etaSeconds = 0
	r.errorDetail = ""
	r.finalized = true
}

// Fail finalizes the record in the error state.
func (r *Record) Fail(detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.state = StateError
	r.errorDetail = detail
	r.speed = 0
	r.etaSeconds = 0
	r.finalized = true
}

// Finalized reports whether the record reached a terminal state.
func (r *Record) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}
