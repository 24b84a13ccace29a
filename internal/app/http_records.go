package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schemedesk/api/internal/export"
	"schemedesk/api/internal/rbac"
	"schemedesk/api/internal/record"
	"schemedesk/api/internal/viewcache"
)

const eventsKeepAlive = 25 * time.Second

// handleRecords serves /api/records and everything below it. parts is the
// path after "/api/records".
func (s *HTTPServer) handleRecords(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		status := record.Status("")
		if raw := strings.TrimSpace(query.Get("status")); raw != "" && !strings.EqualFold(raw, "all") {
			status = record.ParseStatus(raw)
		}
		items := s.service.ListRecords(query.Get("q"), status)
		writeJSON(w, http.StatusOK, map[string]any{"records": items, "total": len(items)})

	case len(parts) == 0 && r.Method == http.MethodPost:
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		var body record.Record
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SaveRecord(r.Context(), session, body, ""); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})

	case len(parts) == 1 && parts[0] == "events" && r.Method == http.MethodGet:
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		s.streamChanges(w, r)

	case len(parts) == 1 && r.Method == http.MethodGet:
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		item, err := s.service.GetRecord(parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": item, "state": s.service.cache.State(parts[0]).String()})

	case len(parts) == 1 && r.Method == http.MethodPut:
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		var body record.Record
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SaveRecord(r.Context(), session, body, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		payload := map[string]any{"ok": true}
		if item, ok := s.service.cache.Get(parts[0]); ok {
			payload["record"] = item
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		if err := s.service.DeleteRecord(r.Context(), session, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		if !s.allow(w, r, session, rbac.ActionWrite) {
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateStatus(r.Context(), session, parts[0], record.Status(strings.TrimSpace(body.Status))); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "analyze" && r.Method == http.MethodPost:
		if !s.allow(w, r, session, rbac.ActionAnalyze) {
			return
		}
		analysis, err := s.service.AnalyzeRecord(r.Context(), session, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analysis": analysis})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// streamChanges sends one server-sent event per collection swap. Bursts are
// coalesced: a slow client sees the latest generation, not every one.
func (s *HTTPServer) streamChanges(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	changes := make(chan viewcache.Change, 1)
	stop := s.service.cache.Watch(func(change viewcache.Change) {
		select {
		case changes <- change:
		default:
			select {
			case <-changes:
			default:
			}
			select {
			case changes <- change:
			default:
			}
		}
	})
	defer stop()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	writeEvent(w, "ready", viewcache.Change{Generation: s.service.cache.Generation()})
	flusher.Flush()

	keepAlive := time.NewTicker(eventsKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case change := <-changes:
			writeEvent(w, "change", change)
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, change viewcache.Change) {
	data, _ := json.Marshal(map[string]any{"generation": change.Generation, "refetch": change.Refetch})
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		if !s.allow(w, r, session, rbac.ActionRead) {
			return
		}
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		items, err := s.service.ListReports(r.Context(), limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": items})

	case http.MethodPost:
		if !s.allow(w, r, session, rbac.ActionAnalyze) {
			return
		}
		report, err := s.service.GenerateReport(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleReportExport(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.allow(w, r, session, rbac.ActionRead) {
		return
	}
	var body struct {
		Format string `json:"format"`
		Title  string `json:"title"`
		Text   string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	format, err := export.ParseFormat(body.Format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.service.ExportReport(r.Context(), session, format, body.Title, body.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	header := w.Header()
	header.Set("Content-Type", result.MimeType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
