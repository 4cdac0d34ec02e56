package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"grimm.is/foldwatch/internal/audit"
	"grimm.is/foldwatch/internal/dispatch"
	"grimm.is/foldwatch/internal/document"
	"grimm.is/foldwatch/internal/router"
)

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.broker.Statuses())
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	st, err := s.broker.Status(r.PathValue("id"))
	if errors.Is(err, dispatch.ErrUnknownTarget) {
		WriteError(w, http.StatusNotFound, "unknown target", r.PathValue("id"))
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// readOp resolves the {op} segment of a GET route. queue has its own route
// because it needs a slot.
func readOp(name string) (router.Op, bool) {
	op, err := router.ParseOp(name)
	if err != nil || op.IsWrite() || op == router.OpQueue {
		return "", false
	}
	return op, true
}

// writeOp resolves the {op} segment of a POST route. push-config has its
// own route because it needs a body.
func writeOp(name string) (router.Op, bool) {
	op, err := router.ParseOp(name)
	if err != nil || !op.IsWrite() || op == router.OpPushConfig {
		return "", false
	}
	return op, true
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	op, ok := readOp(r.PathValue("op"))
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown operation", r.PathValue("op"))
		return
	}
	WriteResult(w, s.broker.Dispatch(callerContext(r), r.PathValue("id"), router.Request{Op: op}))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil || slot < 0 {
		WriteError(w, http.StatusBadRequest, "invalid slot", r.PathValue("slot"))
		return
	}
	req := router.Request{Op: router.OpQueue, Slot: slot}
	WriteResult(w, s.broker.Dispatch(callerContext(r), r.PathValue("id"), req))
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	op, ok := writeOp(r.PathValue("op"))
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown operation", r.PathValue("op"))
		return
	}
	WriteResult(w, s.broker.Dispatch(callerContext(r), r.PathValue("id"), router.Request{Op: op}))
}

func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.readDocument(w, r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid config body", err.Error())
		return
	}
	req := router.Request{Op: router.OpPushConfig, Config: cfg}
	WriteResult(w, s.broker.Dispatch(callerContext(r), r.PathValue("id"), req))
}

// readDocument decodes the request body as a JSON object.
func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (document.Value, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return document.Value{}, err
	}
	v, err := document.Decode(body)
	if err != nil {
		return document.Value{}, err
	}
	if v.Kind() != document.KindMap {
		return document.Value{}, fmt.Errorf("expected a JSON object, got %s", v.Kind())
	}
	return v, nil
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	op, ok := readOp(r.PathValue("op"))
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown operation", r.PathValue("op"))
		return
	}
	WriteJSON(w, http.StatusOK, s.broker.DispatchAll(callerContext(r), router.Request{Op: op}))
}

func (s *Server) handleWriteAll(w http.ResponseWriter, r *http.Request) {
	op, ok := writeOp(r.PathValue("op"))
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown operation", r.PathValue("op"))
		return
	}
	WriteJSON(w, http.StatusOK, s.broker.DispatchAll(callerContext(r), router.Request{Op: op}))
}

// queryLimit reads ?limit=, defaulting to 100.
func queryLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 100, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid limit", r.URL.Query().Get("limit"))
		return
	}

	if source := r.URL.Query().Get("source"); source != "" {
		WriteJSON(w, http.StatusOK, s.logs.GetBySource(source, limit))
		return
	}
	WriteJSON(w, http.StatusOK, s.logs.GetLast(limit))
}

// handleAudit lists recorded write commands, newest first. Filters:
// target, action, since (RFC 3339) and limit.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryLimit(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid limit", q.Get("limit"))
		return
	}
	f := audit.Filter{Target: q.Get("target"), Action: q.Get("action"), Limit: limit}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid since", err.Error())
			return
		}
		f.Since = since
	}

	entries, err := s.audit.Query(r.Context(), f)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.tasks.GetStatus())
}
