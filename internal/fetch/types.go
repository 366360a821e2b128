// Package fetch defines the domain types and collaborator interfaces for
// the media fetch pipeline.
package fetch

import "time"

// FileKind is the container the client asked for.
type FileKind string

// Supported file kinds.
const (
	KindMP4 FileKind = "mp4"
	KindMP3 FileKind = "mp3"
)

// Phase labels a progress callback event from the extractor.
type Phase string

// Callback phases reported by the extractor.
const (
	PhaseDownloading Phase = "downloading"
	PhaseFinished    Phase = "finished"
	PhaseError       Phase = "error"
)

// ProgressUpdate is one status event from the extractor's callback stream.
type ProgressUpdate struct {
	Phase           Phase
	Percent         float64
	HasPercent      bool
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64
	ETASeconds      int64
	Filename        string
	ErrorMessage    string
}

// FormatDescriptor describes one downloadable format reported by a probe.
type FormatDescriptor struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"`
	Filesize   int64  `json:"filesize"`
	VCodec     string `json:"vcodec"`
	ACodec     string `json:"acodec"`
}

// Metadata is the result of probing a URL without downloading.
type Metadata struct {
	Title        string
	Duration     time.Duration
	ThumbnailURL string
	Uploader     string
	ViewCount    int64
	Formats      []FormatDescriptor
}

// DownloadRequest carries everything the extractor needs for one attempt.
type DownloadRequest struct {
	URL            string
	WorkDir        string
	FormatSelector string
	FileKind       FileKind
	// ExtractAudio asks for audio extraction post-processing; only honored
	// when the post-processing engine is available.
	ExtractAudio bool
	AudioBitrate string
	CookiesPath  string
	UserAgent    string
	// RateLimitMBps caps transfer speed; zero means unlimited.
	RateLimitMBps float64
}

// DownloadInfo is what the extractor reports after a completed call.
type DownloadInfo struct {
	Title    string
	Filename string
}
