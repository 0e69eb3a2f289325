package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/YuminosukeSato/metaforest/pkg/errors"
)

func TestTestLoggerCapture(t *testing.T) {
	logger, buffer := NewTestLogger(LevelDebug)

	logger.Info("fit completed",
		OperationKey, "fit",
		StudiesKey, 12,
	)

	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatalf("GetLogEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["message"] != "fit completed" {
		t.Errorf("message = %v, want 'fit completed'", entries[0]["message"])
	}
	if !logger.ContainsField(OperationKey, "fit") {
		t.Error("expected meta.operation=fit in captured logs")
	}
	if !strings.Contains(buffer.String(), "data.studies") {
		t.Error("expected data.studies attribute in output")
	}
}

func TestTestLoggerLevelFiltering(t *testing.T) {
	logger, _ := NewTestLogger(LevelWarn)

	logger.Debug("noise")
	logger.Info("still noise")
	logger.Warn("heterogeneity above threshold")

	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatalf("GetLogEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after filtering, got %d", len(entries))
	}
	if !logger.ContainsMessage("heterogeneity above threshold") {
		t.Error("expected warn message to be captured")
	}
}

func TestTestLoggerWith(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)
	scoped := logger.With(ModelNameKey, "MultilevelModel")

	scoped.Info("started")

	if !logger.ContainsField(ModelNameKey, "MultilevelModel") {
		t.Error("expected pre-populated model.name field")
	}
	if !scoped.Enabled(context.Background(), LevelInfo) {
		t.Error("scoped logger should be enabled at info level")
	}
}

func TestErrFmtHandlerAddsStacktrace(t *testing.T) {
	var buf bytes.Buffer
	handler := WrapByErrFmtHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	err := errors.NewModelError("Fit", "invalid rho", nil)
	logger.Error("fit failed", ErrAttr(err))

	var entry map[string]interface{}
	if jsonErr := json.Unmarshal(buf.Bytes(), &entry); jsonErr != nil {
		t.Fatalf("log output is not valid JSON: %v", jsonErr)
	}
	if _, ok := entry[StacktraceAttrKey]; !ok {
		t.Errorf("expected %q attribute in output: %s", StacktraceAttrKey, buf.String())
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(100), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
