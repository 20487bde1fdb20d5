package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/issuecache"
	"github.com/mcp-coder/coordinator/internal/labels"
	"github.com/mcp-coder/coordinator/internal/logging"
)

// WatchOptions tunes the watch loop.
type WatchOptions struct {
	Options
	Interval    time.Duration    // time between sweeps; default 5 minutes
	MetricsAddr string           // optional Prometheus exposition address
	Logs        *logging.Manager // serves /logs next to /metrics when set
}

// logsHandler serves the in-memory log buffer as JSON, newest first.
// Query params: limit, level, source.
func logsHandler(logs *logging.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		level := q.Get("level")
		if level != "" {
			level = logging.NormalizeLevel(level)
		}
		entries := logs.Recent(limit, level, q.Get("source"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	}
}

// Watch runs sweeps on an interval and immediately after the config file
// changes. Each sweep reloads the configuration, so edits take effect
// without a restart. Sweep errors are logged, not fatal; the loop only
// stops when the context is cancelled.
func Watch(ctx context.Context, configPath string, schema *labels.Registry, cache *issuecache.Cache, opts WatchOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	// The first Load with an empty path bootstraps the default config file,
	// so resolve it before pointing fsnotify at its directory.
	watchPath := configPath
	if watchPath == "" {
		resolved, err := config.DefaultPath()
		if err != nil {
			return err
		}
		watchPath = resolved
	}

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if opts.Logs != nil {
			mux.Handle("/logs", logsHandler(opts.Logs))
		}
		server := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			log.Printf("[Coordinator] metrics listening on %s", opts.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[Coordinator] metrics server error: %v", err)
			}
		}()
		defer server.Close()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace config files by
	// rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(watchPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(watchPath), err)
	}

	sweep := func() {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("[Coordinator] config reload failed: %v", err)
			return
		}
		loop := New(cfg, schema, cache, opts.Options)
		if _, err := loop.Run(ctx); err != nil {
			log.Printf("[Coordinator] sweep failed: %v", err)
		}
	}

	sweep()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	// Config saves arrive as bursts of writes; debounce before re-sweeping.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(watchPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				log.Printf("[Coordinator] config change detected: %s", event.Op)
				pending = time.After(500 * time.Millisecond)
			}
		case <-pending:
			pending = nil
			sweep()
			ticker.Reset(opts.Interval)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Coordinator] watcher error: %v", err)
		}
	}
}
