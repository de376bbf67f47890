package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sentineld/sentineld/internal/errkind"
	"github.com/sentineld/sentineld/internal/executor"
	"github.com/sentineld/sentineld/internal/scanjob"
)

var (
	errNoPaths     = errors.New("paths must not be empty")
	errJobNotFound = errors.New("scan job not found")
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusForError maps an errkind.Kind to the HTTP status the control
// surface's ack/error contract should report.
func statusForError(err error) int {
	switch {
	case errkind.Is(err, errkind.NotFound):
		return http.StatusNotFound
	case errkind.Is(err, errkind.PolicyReject):
		return http.StatusConflict
	case errkind.Is(err, errkind.IoError), errkind.Is(err, errkind.PersistenceError):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type scanPathRequest struct {
	Paths    []string `json:"paths"`
	ScanType string   `json:"scan_type"`
}

// handleScanPath implements scan_path: {paths[], scan_type, options} -> job_id.
func (s *Server) handleScanPath(w http.ResponseWriter, r *http.Request) {
	var req scanPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Paths) == 0 {
		s.respondError(w, http.StatusBadRequest, errNoPaths)
		return
	}

	scanType := scanjob.ScanTypeCustom
	switch req.ScanType {
	case string(scanjob.ScanTypeQuick):
		scanType = scanjob.ScanTypeQuick
	case string(scanjob.ScanTypeFull):
		scanType = scanjob.ScanTypeFull
	}

	job := s.jobs.Start(req.Paths, scanType)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// handleStopScan implements stop_scan: {job_id?} -> ack.
func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.jobs.Stop(id); err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleScanProgress implements get_scan_progress: {job_id} -> Progress.
func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.jobs.Get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, errJobNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, job.Progress())
}

// handleEnableRealtime implements enable_realtime -> ack.
func (s *Server) handleEnableRealtime(w http.ResponseWriter, r *http.Request) {
	if s.realtime.Running() {
		s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if err := s.realtime.Start(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDisableRealtime implements disable_realtime -> ack.
func (s *Server) handleDisableRealtime(w http.ResponseWriter, r *http.Request) {
	s.realtime.Stop()
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleListQuarantine implements list_quarantine -> [QuarantineEntry summary].
func (s *Server) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	entries, err := s.quarantineStore.List()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

type restoreRequest struct {
	RestorePath string `json:"restore_path"`
}

// handleRestoreQuarantine implements restore_quarantine: {id, restore_path?} -> ack/error.
func (s *Server) handleRestoreQuarantine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req restoreRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	destPath := req.RestorePath
	if destPath == "" {
		entry, err := s.quarantineStore.Get(id)
		if err != nil {
			s.respondError(w, statusForError(err), err)
			return
		}
		destPath = entry.OriginalPath
	}

	if err := s.quarantineStore.Restore(id, destPath); err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDeleteQuarantine implements delete_quarantine: {id} -> ack/error.
func (s *Server) handleDeleteQuarantine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.quarantineStore.Delete(id); err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleListPendingThreats implements list_pending_threats -> [PendingDecision summary].
func (s *Server) handleListPendingThreats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.exec.Registry().List())
}

type resolveThreatRequest struct {
	Action          string `json:"action"`
	AddToExclusions bool   `json:"add_to_exclusions"`
}

// handleResolveThreat implements resolve_threat: {event_id, action, add_to_exclusions?} -> ack/error.
func (s *Server) handleResolveThreat(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	var req resolveThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	action := executor.Action(req.Action)
	if err := s.exec.Resolve(eventID, action, req.AddToExclusions); err != nil {
		s.respondError(w, statusForError(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleHealth reports liveness plus a "service" identity string. The
// identity lets instance.HealthCheck (used by the single-instance
// port-conflict probe) distinguish "sentineld answered"
// from "something answered" — an unrelated process coincidentally bound
// to the same control port could otherwise be mistaken for a running
// daemon and have its PID force-killed by a conflict resolution.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":          "sentineld",
		"realtime_running": s.realtime.Running(),
		"ws_clients":       s.hub.ClientCount(),
	})
}

// handleShutdown lets an instance.Manager-aware caller (another sentineld
// process losing the instance lock, or sentinelctl) ask this daemon to
// stop gracefully rather than being force-killed.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	select {
	case s.shutdownRequested <- struct{}{}:
	default:
	}
}
