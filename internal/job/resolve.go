package job

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mediafetch/fetchd/internal/fetch"
)

// Partial-file suffixes the extractor leaves behind mid-transfer.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

// resolveFinalFile locates the finished artifact using an ordered fallback
// chain: the path last reported by the callback, the path the extractor
// reconstructed from its naming template, then a scan of the working
// directory preferring a title-hint prefix match and breaking ties by
// largest size.
func resolveFinalFile(workDir, reported, reconstructed, titleHint string) (string, error) {
	for _, candidate := range []string{reported, reconstructed} {
		if candidate == "" {
			continue
		}
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	if found := scanWorkDir(workDir, titleHint); found != "" {
		return filepath.Abs(found)
	}
	return "", fetch.ErrOutputNotFound
}

func scanWorkDir(workDir, titleHint string) string {
	if workDir == "" {
		return ""
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return ""
	}

	type candidate struct {
		path string
		size int64
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() || isPartial(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{
			path: filepath.Join(workDir, entry.Name()),
			size: info.Size(),
		})
	}
	if len(files) == 0 {
		return ""
	}

	pick := func(items []candidate) string {
		best := items[0]
		for _, c := range items[1:] {
			if c.size > best.size {
				best = c
			}
		}
		return best.path
	}

	if hint := normalizeHint(titleHint); hint != "" {
		var matches []candidate
		for _, c := range files {
			if strings.HasPrefix(filepath.Base(c.path), hint) {
				matches = append(matches, c)
			}
		}
		if len(matches) > 0 {
			return pick(matches)
		}
	}
	return pick(files)
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// normalizeHint mirrors the extractor's own filename sanitization of the
// title, so prefix matching lines up with what it wrote to disk.
func normalizeHint(title string) string {
	return strings.TrimSpace(strings.ReplaceAll(title, "/", "_"))
}
