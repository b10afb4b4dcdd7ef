package main

import (
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/monitoring"
)

// writeTextfile dumps metrics for the node-exporter textfile collector.
// Failures are logged, never fatal.
func writeTextfile(m *monitoring.Metrics, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		zap.L().Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}
