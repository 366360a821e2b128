package ytdlp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediafetch/fetchd/internal/fetch"
)

func TestBuildDownloadArgsVideo(t *testing.T) {
	t.Parallel()

	c := New(Options{FragmentRetries: 7}, nil)
	args := c.buildDownloadArgs(fetch.DownloadRequest{
		URL:            "https://example.com/v",
		WorkDir:        "/tmp/work",
		FormatSelector: "bestvideo+bestaudio/best",
		FileKind:       fetch.KindMP4,
		UserAgent:      "test-agent",
	})

	require.Contains(t, args, "--newline")
	require.Contains(t, args, "--no-playlist")
	require.Contains(t, args, "--continue")
	require.Contains(t, args, "--skip-unavailable-fragments")

	idx := indexOf(args, "-o")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, filepath.Join("/tmp/work", "%(title)s.%(ext)s"), args[idx+1])

	idx = indexOf(args, "-f")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, "bestvideo+bestaudio/best", args[idx+1])

	idx = indexOf(args, "--fragment-retries")
	require.Equal(t, "7", args[idx+1])

	idx = indexOf(args, "--user-agent")
	require.Equal(t, "test-agent", args[idx+1])

	require.NotContains(t, args, "--limit-rate")
	require.NotContains(t, args, "-x")
	require.Equal(t, "https://example.com/v", args[len(args)-1], "URL is always last")
}

func TestBuildDownloadArgsAudioExtraction(t *testing.T) {
	t.Parallel()

	c := New(Options{}, nil)
	args := c.buildDownloadArgs(fetch.DownloadRequest{
		URL:            "https://example.com/v",
		WorkDir:        "/tmp/work",
		FormatSelector: "bestaudio/best",
		FileKind:       fetch.KindMP3,
		ExtractAudio:   true,
		AudioBitrate:   "192",
	})

	require.Contains(t, args, "-x")
	idx := indexOf(args, "--audio-format")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, "mp3", args[idx+1])
	idx = indexOf(args, "--audio-quality")
	require.Equal(t, "192K", args[idx+1])
}

func TestBuildDownloadArgsRateLimit(t *testing.T) {
	t.Parallel()

	c := New(Options{}, nil)
	args := c.buildDownloadArgs(fetch.DownloadRequest{
		URL:            "https://example.com/v",
		WorkDir:        "/tmp/work",
		FormatSelector: "best",
		RateLimitMBps:  2.5,
	})
	idx := indexOf(args, "--limit-rate")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, "2.5M", args[idx+1])
}

// TestCookieFallback covers the credential chain: a readable cookies file
// wins, anything else falls back to browser cookies.
func TestCookieFallback(t *testing.T) {
	t.Parallel()

	c := New(Options{CookiesFromBrowser: "firefox"}, nil)

	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File\n"), 0o600))

	args := c.appendCookieArgs(nil, cookies)
	require.Equal(t, []string{"--cookies", cookies}, args)

	args = c.appendCookieArgs(nil, filepath.Join(t.TempDir(), "missing.txt"))
	require.Equal(t, []string{"--cookies-from-browser", "firefox"}, args)

	args = c.appendCookieArgs(nil, "")
	require.Equal(t, []string{"--cookies-from-browser", "firefox"}, args)
}

func TestFirstErrorLine(t *testing.T) {
	t.Parallel()

	stderr := "WARNING: something minor\nERROR: Sign in to confirm you're not a bot\nmore noise"
	require.Equal(t, "Sign in to confirm you're not a bot", firstErrorLine(stderr, errors.New("exit status 1")))

	require.Equal(t, "raw stderr text", firstErrorLine("raw stderr text\n", errors.New("exit status 1")))
	require.Equal(t, "exit status 1", firstErrorLine("", errors.New("exit status 1")))
}

func TestTitleFromPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "My Clip", titleFromPath("/tmp/work/My Clip.mp4"))
	require.Equal(t, "archive.tar", titleFromPath("archive.tar.gz"))
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}
