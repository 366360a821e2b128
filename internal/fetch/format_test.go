package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidFormatSelector(t *testing.T) {
	t.Parallel()

	valid := []string{
		"best",
		"worst",
		"bestvideo",
		"bestaudio",
		"worstaudio",
		"137",
		"137+140",
		"22",
		"bestvideo+bestaudio",
		"bestvideo+bestaudio/best",
		"bestaudio/best",
		"bestvideo[height<=1080]+bestaudio/best",
		"bestvideo[height<=720]",
	}
	for _, sel := range valid {
		require.True(t, ValidFormatSelector(sel), "selector %q should be accepted", sel)
	}

	invalid := []string{
		"",
		"best; rm -rf /",
		"bestvideo[height<=1080][fps>30]",
		"137+140+251",
		"bestaudio/best/worst",
		"$(whoami)",
		"bestvideo[height<=99999]",
		strings.Repeat("1", 65),
	}
	for _, sel := range invalid {
		require.False(t, ValidFormatSelector(sel), "selector %q should be rejected", sel)
	}
}
