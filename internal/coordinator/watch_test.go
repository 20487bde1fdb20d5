package coordinator

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/mcp-coder/coordinator/internal/logging"
)

func serveLogs(t *testing.T, mgr *logging.Manager, target string) []logging.Entry {
	t.Helper()
	rec := httptest.NewRecorder()
	logsHandler(mgr)(rec, httptest.NewRequest("GET", target, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var entries []logging.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return entries
}

func TestLogsHandler(t *testing.T) {
	mgr := logging.NewManager("debug")
	mgr.Info("coordinator", "sweep complete")
	mgr.Error("dispatch", "submit failed")
	mgr.Info("dispatch", "labels swapped")

	entries := serveLogs(t, mgr, "/logs")
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Message != "labels swapped" {
		t.Errorf("newest entry = %q, want labels swapped", entries[0].Message)
	}

	entries = serveLogs(t, mgr, "/logs?level=error")
	if len(entries) != 1 || entries[0].Source != "dispatch" {
		t.Errorf("error filter returned %+v", entries)
	}

	entries = serveLogs(t, mgr, "/logs?source=dispatch&limit=1")
	if len(entries) != 1 || entries[0].Message != "labels swapped" {
		t.Errorf("source+limit filter returned %+v", entries)
	}
}
