package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/statusapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Stream a session's audit and progress records over WebSocket",
	Args:  wrapArgs(cobra.ExactArgs(1)),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", ":8085", "listen address for the status HTTP server")
}

// runStatus serves spec.md §6's read-only status surface: a WebSocket
// stream of a session's audit.log and progress.jsonl records as they're
// appended, plus a Prometheus /metrics endpoint. It never touches the
// session's lock, since it only reads append-only files (spec.md §4.K:
// status queries are exempt from lock coordination).
func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID := args[0]

	boot, err := newBootstrap(ctx)
	if err != nil {
		return err
	}
	defer boot.Close()

	dir := boot.sessionDir(sessionID)
	if _, err := os.Stat(dir); err != nil {
		return apperrors.Wrap(apperrors.CodeSessionNotFound, "session "+sessionID, err)
	}

	tailer, err := newSessionTailer(dir, sessionID, boot.hub)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIoError, "start session tailer", err)
	}
	defer tailer.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/"+sessionID+"/events", boot.hub.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(boot.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: statusAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info().Str("session_id", sessionID).Str("addr", statusAddr).Msg("status: serving")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return apperrors.Wrap(apperrors.CodeIoError, "status server", err)
		}
		return nil
	}
}

// sessionTailer watches a session directory and republishes newly appended
// audit.log/progress.jsonl lines to a Hub, the same fsnotify shape as
// internal/priors.Watcher adapted from "reload a whole file" to "emit each
// new line since the last read offset". It does not debounce: every write
// event triggers a read.
type sessionTailer struct {
	watcher   *fsnotify.Watcher
	done      chan struct{}
	offsets   map[string]int64
	sessionID string
	hub       *statusapi.Hub
}

func newSessionTailer(dir, sessionID string, hub *statusapi.Hub) (*sessionTailer, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	t := &sessionTailer{
		watcher:   fw,
		done:      make(chan struct{}),
		offsets:   make(map[string]int64),
		sessionID: sessionID,
		hub:       hub,
	}
	// Emit whatever is already on disk before watching for new writes.
	t.tail(filepath.Join(dir, "audit.log"), "audit")
	t.tail(filepath.Join(dir, "progress.jsonl"), "progress")
	go t.run()
	return t, nil
}

func (t *sessionTailer) run() {
	for {
		select {
		case <-t.done:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Write == 0 {
				continue
			}
			switch filepath.Base(ev.Name) {
			case "audit.log":
				t.tail(ev.Name, "audit")
			case "progress.jsonl":
				t.tail(ev.Name, "progress")
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("session_id", t.sessionID).Msg("status: tailer error")
		}
	}
}

// tail reads every complete line written to path since the last call,
// publishing one event per line under kind.
func (t *sessionTailer) tail(path, kind string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(t.offsets[path], 0); err != nil {
		return
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var read int64
	for scanner.Scan() {
		line := scanner.Bytes()
		read += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		t.hub.Publish(statusapi.Event{
			Kind:      kind,
			SessionID: t.sessionID,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
	t.offsets[path] += read
}

// Stop releases the fsnotify handle.
func (t *sessionTailer) Stop() error {
	close(t.done)
	return t.watcher.Close()
}
