package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// EngineHandler serves the /api/v1 engine routes.
type EngineHandler struct {
	rt Runtime
}

func NewEngineHandler(rt Runtime) *EngineHandler {
	return &EngineHandler{rt: rt}
}

// Stats handles GET /api/v1/stats.
func (h *EngineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.rt.Status())
}

// BlockList is the payload of GET /api/v1/blocks.
type BlockList struct {
	// Total counts the blocks matching the filter before paging.
	Total  int                    `json:"total"`
	Offset int                    `json:"offset"`
	Blocks []wearlevel.FlashBlock `json:"blocks"`
}

// ListBlocks handles GET /api/v1/blocks.
//
// Query parameters: state (free|allocated|static|moved|bad), offset, limit.
func (h *EngineHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter *wearlevel.State
	if s := q.Get("state"); s != "" {
		st, err := wearlevel.ParseState(s)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		filter = &st
	}
	offset, ok := intParam(w, q.Get("offset"), "offset")
	if !ok {
		return
	}
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}

	matched := make([]wearlevel.FlashBlock, 0)
	for _, b := range h.rt.Engine().Blocks() {
		if filter == nil || b.State == *filter {
			matched = append(matched, b)
		}
	}

	list := BlockList{Total: len(matched), Offset: offset, Blocks: []wearlevel.FlashBlock{}}
	if offset < len(matched) {
		end := len(matched)
		if limit > 0 && limit < end-offset {
			end = offset + limit
		}
		list.Blocks = matched[offset:end]
	}
	WriteJSONOK(w, list)
}

// GetBlock handles GET /api/v1/blocks/{id}.
func (h *EngineHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockIDParam(w, r)
	if !ok {
		return
	}
	b, err := h.rt.Engine().Block(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSONOK(w, b)
}

// BadBlocks handles GET /api/v1/bad-blocks.
func (h *EngineHandler) BadBlocks(w http.ResponseWriter, r *http.Request) {
	recs := h.rt.Engine().ExportBadBlocks()
	if recs == nil {
		recs = []wearlevel.BadBlockRecord{}
	}
	WriteJSONOK(w, recs)
}

// MarkBadRequest is the optional body of POST /api/v1/blocks/{id}/bad.
type MarkBadRequest struct {
	Reason string `json:"reason"`
}

// MarkBadResponse reports the block's record after the call. Marked is
// false when the block was already bad.
type MarkBadResponse struct {
	Marked bool                     `json:"marked"`
	Record wearlevel.BadBlockRecord `json:"record"`
}

// MarkBad handles POST /api/v1/blocks/{id}/bad.
func (h *EngineHandler) MarkBad(w http.ResponseWriter, r *http.Request) {
	id, ok := blockIDParam(w, r)
	if !ok {
		return
	}

	var req MarkBadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "Invalid request body")
		return
	}

	engine := h.rt.Engine()
	marked, err := engine.MarkBad(id, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var resp MarkBadResponse
	resp.Marked = marked
	for _, rec := range engine.ExportBadBlocks() {
		if rec.BlockID == id {
			resp.Record = rec
			break
		}
	}
	if marked {
		logger.InfoCtx(r.Context(), "Block marked bad via API",
			logger.BlockID(id), logger.Reason(resp.Record.Reason))
	}
	WriteJSONOK(w, resp)
}

// Maintain handles POST /api/v1/maintenance. It runs one cycle
// synchronously and returns its report.
func (h *EngineHandler) Maintain(w http.ResponseWriter, r *http.Request) {
	run, err := h.rt.Maintain(r.Context())
	if errors.Is(err, wearlevel.ErrMaintenanceRunning) {
		Conflict(w, "A maintenance cycle is already running")
		return
	}
	if run == nil {
		InternalServerError(w, err.Error())
		return
	}
	// Canceled cycles still report what they committed.
	WriteJSONOK(w, run)
}

// SnapshotResponse is the payload of POST /api/v1/snapshot.
type SnapshotResponse struct {
	TakenAt time.Time `json:"taken_at"`
	Store   string    `json:"store"`
}

// Snapshot handles POST /api/v1/snapshot.
func (h *EngineHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.Persist(r.Context()); err != nil {
		logger.WarnCtx(r.Context(), "Snapshot via API failed", logger.Err(err))
		InternalServerError(w, err.Error())
		return
	}
	st := h.rt.Status()
	WriteJSONOK(w, SnapshotResponse{TakenAt: st.LastPersist, Store: st.StoreType})
}

func blockIDParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		BadRequest(w, "Invalid block id: "+raw)
		return 0, false
	}
	return uint32(id), true
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		BadRequest(w, "Invalid "+name+": "+raw)
		return 0, false
	}
	return n, true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wearlevel.ErrInvalidBlockID):
		NotFound(w, err.Error())
	case errors.Is(err, wearlevel.ErrInvalidStateTransition):
		Conflict(w, err.Error())
	default:
		InternalServerError(w, err.Error())
	}
}
