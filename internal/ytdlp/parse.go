package ytdlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mediafetch/fetchd/internal/fetch"
)

// yt-dlp progress lines with --newline look like:
//
//	[download]  42.5% of   10.00MiB at    1.25MiB/s ETA 00:42
//	[download] 100% of 10.00MiB in 00:08
var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reOf    = regexp.MustCompile(`\bof\s+~?\s*([0-9.]+)([KMGT]?i?B)`)
	reSpeed = regexp.MustCompile(`\bat\s+([0-9.]+)([KMGT]?i?B)/s`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+)`)

	reDestination = regexp.MustCompile(`^\[(?:download|ExtractAudio|Merger)\] (?:Destination: |Merging formats into ")(.+?)"?$`)
	reAlreadyDone = regexp.MustCompile(`^\[download\] (.+) has already been downloaded`)
)

// parseDestination extracts the output path from destination/merge lines.
func parseDestination(line string) (string, bool) {
	if m := reDestination.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if m := reAlreadyDone.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// parseProgressLine turns a [download] progress line into a ProgressUpdate.
func parseProgressLine(line string) (fetch.ProgressUpdate, bool) {
	if !strings.HasPrefix(line, "[download]") {
		return fetch.ProgressUpdate{}, false
	}
	m := rePct.FindStringSubmatch(line)
	if m == nil {
		return fetch.ProgressUpdate{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fetch.ProgressUpdate{}, false
	}

	update := fetch.ProgressUpdate{
		Phase:      fetch.PhaseDownloading,
		Percent:    pct,
		HasPercent: true,
	}
	if om := reOf.FindStringSubmatch(line); om != nil {
		update.TotalBytes = sizeToBytes(om[1], om[2])
		if update.TotalBytes > 0 {
			update.DownloadedBytes = int64(pct / 100 * float64(update.TotalBytes))
		}
	}
	if sm := reSpeed.FindStringSubmatch(line); sm != nil {
		update.Speed = float64(sizeToBytes(sm[1], sm[2]))
	}
	if em := reETA.FindStringSubmatch(line); em != nil {
		update.ETASeconds = clockToSeconds(em[1])
	}
	return update, true
}

func sizeToBytes(value, unit string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	multiplier := float64(1)
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSuffix(unit, "B"), "i")) {
	case "K":
		multiplier = 1 << 10
	case "M":
		multiplier = 1 << 20
	case "G":
		multiplier = 1 << 30
	case "T":
		multiplier = 1 << 40
	}
	return int64(f * multiplier)
}

// clockToSeconds parses MM:SS or HH:MM:SS.
func clockToSeconds(clock string) int64 {
	parts := strings.Split(clock, ":")
	var total int64
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}
