// Package ytdlp drives the yt-dlp binary as the extraction collaborator.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/fetch"
)

// Options configures the Client.
type Options struct {
	// Binary is the yt-dlp executable; default "yt-dlp".
	Binary string
	// CookiesFromBrowser is the fallback credential source when no cookies
	// file is configured; default "chrome".
	CookiesFromBrowser string
	// FragmentRetries is passed through for sub-fetch fragments.
	FragmentRetries int
}

// Client shells out to yt-dlp. It satisfies fetch.Extractor.
type Client struct {
	opts   Options
	logger *zap.Logger

	ppOnce  sync.Once
	ppAvail bool
}

// New constructs a Client.
func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.CookiesFromBrowser == "" {
		opts.CookiesFromBrowser = "chrome"
	}
	if opts.FragmentRetries <= 0 {
		opts.FragmentRetries = 10
	}
	return &Client{opts: opts, logger: logger}
}

// PostProcessorAvailable reports whether ffmpeg is on PATH. The probe runs
// once and is cached for the process lifetime.
func (c *Client) PostProcessorAvailable() bool {
	c.ppOnce.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		c.ppAvail = err == nil
	})
	return c.ppAvail
}

type probePayload struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Uploader  string  `json:"uploader"`
	ViewCount int64   `json:"view_count"`
	Formats   []struct {
		FormatID   string `json:"format_id"`
		Ext        string `json:"ext"`
		FormatNote string `json:"format_note"`
		Resolution string `json:"resolution"`
		Filesize   int64  `json:"filesize"`
		VCodec     string `json:"vcodec"`
		ACodec     string `json:"acodec"`
	} `json:"formats"`
}

// Probe fetches metadata for a URL without downloading.
func (c *Client) Probe(ctx context.Context, url string) (fetch.Metadata, error) {
	args := []string{"-J", "--no-warnings", "--no-playlist", "--skip-download"}
	args = c.appendCookieArgs(args, "")
	args = append(args, url)

	cmd := exec.CommandContext(ctx, c.opts.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fetch.Metadata{}, fmt.Errorf("probe %q: %s", url, firstErrorLine(stderr.String(), err))
	}

	var payload probePayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return fetch.Metadata{}, fmt.Errorf("decode probe output: %w", err)
	}

	meta := fetch.Metadata{
		Title:        payload.Title,
		Duration:     time.Duration(payload.Duration) * time.Second,
		ThumbnailURL: payload.Thumbnail,
		Uploader:     payload.Uploader,
		ViewCount:    payload.ViewCount,
	}
	for _, f := range payload.Formats {
		if f.FormatID == "" {
			continue
		}
		resolution := f.FormatNote
		if resolution == "" {
			resolution = f.Resolution
		}
		meta.Formats = append(meta.Formats, fetch.FormatDescriptor{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: resolution,
			Filesize:   f.Filesize,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
		})
	}
	return meta, nil
}

// Download runs a full fetch into req.WorkDir, streaming progress lines to
// the hook. The call blocks for the duration of the transfer.
func (c *Client) Download(ctx context.Context, req fetch.DownloadRequest, hook fetch.ProgressFunc) (fetch.DownloadInfo, error) {
	args := c.buildDownloadArgs(req)
	cmd := exec.CommandContext(ctx, c.opts.Binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fetch.DownloadInfo{}, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fetch.DownloadInfo{}, fmt.Errorf("start %s: %w", c.opts.Binary, err)
	}

	var info fetch.DownloadInfo
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if dest, ok := parseDestination(line); ok {
			info.Filename = dest
			if info.Title == "" {
				info.Title = titleFromPath(dest)
			}
		}
		if update, ok := parseProgressLine(line); ok {
			if update.Filename == "" {
				update.Filename = info.Filename
			}
			if hook != nil {
				hook(update)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		msg := firstErrorLine(stderr.String(), err)
		if hook != nil {
			hook(fetch.ProgressUpdate{Phase: fetch.PhaseError, ErrorMessage: msg})
		}
		return fetch.DownloadInfo{}, fmt.Errorf("download %q: %s", req.URL, msg)
	}

	if hook != nil {
		hook(fetch.ProgressUpdate{Phase: fetch.PhaseFinished, Filename: info.Filename})
	}
	return info, nil
}

func (c *Client) buildDownloadArgs(req fetch.DownloadRequest) []string {
	outTemplate := filepath.Join(req.WorkDir, "%(title)s.%(ext)s")
	args := []string{
		"--newline",
		"--no-warnings",
		"--no-playlist",
		"--continue",
		"--retries", "10",
		"--fragment-retries", fmt.Sprintf("%d", c.opts.FragmentRetries),
		"--skip-unavailable-fragments",
		"-o", outTemplate,
	}
	if req.ExtractAudio {
		args = append(args, "-f", req.FormatSelector, "-x", "--audio-format", string(req.FileKind))
		if req.AudioBitrate != "" {
			args = append(args, "--audio-quality", req.AudioBitrate+"K")
		}
	} else {
		args = append(args, "-f", req.FormatSelector)
	}
	if req.UserAgent != "" {
		args = append(args, "--user-agent", req.UserAgent)
	}
	if req.RateLimitMBps > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%.1fM", req.RateLimitMBps))
	}
	args = c.appendCookieArgs(args, req.CookiesPath)
	args = append(args, req.URL)
	return args
}

// appendCookieArgs prefers a configured cookies file and falls back to
// browser cookies. Best-effort anti-bot measure, not a security boundary.
func (c *Client) appendCookieArgs(args []string, cookiesPath string) []string {
	if cookiesPath != "" {
		if _, err := os.Stat(cookiesPath); err == nil {
			return append(args, "--cookies", cookiesPath)
		}
		c.logger.Warn("cookies file not readable, falling back to browser cookies",
			zap.String("path", cookiesPath))
	}
	return append(args, "--cookies-from-browser", c.opts.CookiesFromBrowser)
}

// firstErrorLine pulls the most useful line out of stderr; yt-dlp prefixes
// its own failures with "ERROR:".
func firstErrorLine(stderr string, fallback error) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if trimmed := strings.TrimSpace(stderr); trimmed != "" {
		return trimmed
	}
	return fallback.Error()
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
