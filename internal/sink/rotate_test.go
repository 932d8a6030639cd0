package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"market-data-coordinator/internal/model"

	"github.com/stretchr/testify/require"
)

func TestRotatingSinkRotatesAndKeepsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.log")

	s, err := NewRotatingJSONLSink(base, 50, 2)
	require.NoError(t, err)
	defer s.Close()

	bar := model.Bar{Symbol: "AAPL", Interval: "1m", Timestamp: time.Unix(0, 0), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(bar))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.LessOrEqual(t, len(entries), 2)
	for _, e := range entries {
		require.True(t, strings.HasPrefix(e.Name(), "out.log"))
	}
}
