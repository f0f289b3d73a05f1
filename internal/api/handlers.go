package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fluxaudio/corehost/internal/dispatch"
	"github.com/fluxaudio/corehost/internal/frontend"
)

var (
	errMutationFailed = errors.New("mutation rejected: chain or processor not found, or name already in use")
	errTimedOut       = errors.New("mutation timed out waiting for a late schedule slot")
	errCancelled      = errors.New("mutation cancelled: dispatcher is shutting down")
)

type handlers struct {
	engine   EngineView
	frontend *frontend.ControlFrontend
	logger   *slog.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"blocks_processed": stats.BlocksProcessed,
		"missed_deadlines": stats.MissedDeadlines,
	})
}

func (h *handlers) listChains(w http.ResponseWriter, r *http.Request) {
	page, msg := parsePagination(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	all := h.engine.Chains()
	start := page.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  all[start:end],
		Total:  len(all),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (h *handlers) listProcessors(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, c := range h.engine.Chains() {
		if c.Name == name {
			writeJSON(w, http.StatusOK, map[string]any{
				"processor_ids":   c.ProcessorIDs,
				"processor_names": c.ProcessorNames,
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "chain not found")
}

type createChainRequest struct {
	Name           string `json:"name"`
	InputChannels  int    `json:"input_channels"`
	OutputChannels int    `json:"output_channels"`
}

func (h *handlers) createChain(w http.ResponseWriter, r *http.Request) {
	var req createChainRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Name == "" || req.InputChannels <= 0 || req.OutputChannels <= 0 {
		writeError(w, http.StatusBadRequest, "name, input_channels and output_channels are required")
		return
	}

	done := make(chan error, 1)
	ok := h.frontend.AddChain(req.Name, req.InputChannels, req.OutputChannels, func(arg any, ev *dispatch.Event, status dispatch.CompletionStatus) {
		ch := arg.(chan error)
		if status != dispatch.CompletionOK {
			ch <- errStatus(status)
			return
		}
		ch <- nil
	}, done)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}

	if err := <-done; err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name})
}

func (h *handlers) deleteChain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	done := make(chan error, 1)
	ok := h.frontend.DeleteChain(name, func(arg any, ev *dispatch.Event, status dispatch.CompletionStatus) {
		ch := arg.(chan error)
		if status != dispatch.CompletionOK {
			ch <- errStatus(status)
			return
		}
		ch <- nil
	}, done)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}

	if err := <-done; err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name})
}

type createProcessorRequest struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Label string `json:"label"`
	Slot  int    `json:"slot"`
}

func (h *handlers) createProcessor(w http.ResponseWriter, r *http.Request) {
	chainName := chi.URLParam(r, "name")

	var req createProcessorRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Kind == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "kind and name are required")
		return
	}

	done := make(chan error, 1)
	ok := h.frontend.AddProcessor(chainName, req.Kind, req.Name, req.Label, req.Slot, func(arg any, ev *dispatch.Event, status dispatch.CompletionStatus) {
		ch := arg.(chan error)
		if status != dispatch.CompletionOK {
			ch <- errStatus(status)
			return
		}
		ch <- nil
	}, done)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}

	if err := <-done; err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chain": chainName, "name": req.Name})
}

func (h *handlers) deleteProcessor(w http.ResponseWriter, r *http.Request) {
	chainName := chi.URLParam(r, "name")
	processorName := chi.URLParam(r, "processor")

	done := make(chan error, 1)
	ok := h.frontend.DeleteProcessor(chainName, processorName, func(arg any, ev *dispatch.Event, status dispatch.CompletionStatus) {
		ch := arg.(chan error)
		if status != dispatch.CompletionOK {
			ch <- errStatus(status)
			return
		}
		ch <- nil
	}, done)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}

	if err := <-done; err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": chainName, "name": processorName})
}

func errStatus(status dispatch.CompletionStatus) error {
	switch status {
	case dispatch.CompletionTimedOut:
		return errTimedOut
	case dispatch.CompletionCancelled:
		return errCancelled
	default:
		return errMutationFailed
	}
}
