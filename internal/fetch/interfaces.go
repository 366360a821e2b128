package fetch

import (
	"context"
	"time"
)

// ProgressFunc receives repeated status events during a download.
type ProgressFunc func(ProgressUpdate)

// Extractor drives the external extraction/download engine. Download is
// synchronous and may block for the full transfer; Probe fetches metadata
// without downloading.
type Extractor interface {
	Probe(ctx context.Context, url string) (Metadata, error)
	Download(ctx context.Context, req DownloadRequest, hook ProgressFunc) (DownloadInfo, error)
	PostProcessorAvailable() bool
}

// Renderer turns a short code into an embeddable image.
type Renderer interface {
	Render(code string) (string, error)
}

// Hasher digests completed artifacts for integrity reporting.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and token IDs.
type IDGenerator interface {
	NewID() (string, error)
}
