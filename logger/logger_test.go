package logger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"popgraph/logger"
)

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	prev := logger.Logger
	t.Cleanup(func() { logger.Logger = prev })

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, logger.InitLogger(path, "info"))

	logger.Logger.Debug("hidden")
	logger.Logger.Info("visible", zap.String("node_id", "abc"))
	require.NoError(t, logger.Logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.Contains(t, out, `"msg":"visible"`)
	require.Contains(t, out, `"node_id":"abc"`)
	require.Contains(t, out, `"time":`)
	require.False(t, strings.Contains(out, "hidden"))
}

func TestInitLogger_RejectsUnknownLevel(t *testing.T) {
	prev := logger.Logger
	t.Cleanup(func() { logger.Logger = prev })

	require.Error(t, logger.InitLogger("", "loud"))
}
