package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/service"
)

// HTTPHandler handles HTTP endpoints for multisig queries.
type HTTPHandler struct {
	svc service.Service
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc service.Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Register mounts the query endpoints on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /groups/{address}", h.HandleGetGroup)
	mux.HandleFunc("GET /groups/{address}/pending", h.HandleGetPending)
	mux.HandleFunc("GET /proposals/{address}", h.HandleGetProposal)
	mux.HandleFunc("GET /balances/{address}", h.HandleGetBalance)
	mux.HandleFunc("GET /derive/group/{seed}", h.HandleDeriveGroup)
	mux.HandleFunc("GET /derive/proposal/{seed}", h.HandleDeriveProposal)
	mux.HandleFunc("GET /derive/authority/{group}", h.HandleDeriveAuthority)
	mux.HandleFunc("GET /audit/checkpoint", h.HandleGetCheckpoint)
	mux.HandleFunc("GET /audit/entries/{index}", h.HandleGetAuditEntry)
	mux.HandleFunc("GET /audit/proof/{index}", h.HandleGetProof)
}

// BalanceResponse is the response for GET /balances/{address}.
type BalanceResponse struct {
	Address address.Address `json:"address"`
	Balance uint64          `json:"balance"`
}

// DeriveResponse is the response for the /derive endpoints.
type DeriveResponse struct {
	Program address.Address `json:"program"`
	Address address.Address `json:"address"`
}

// CheckpointResponse is the response for GET /audit/checkpoint.
type CheckpointResponse struct {
	Origin string `json:"origin"`
	Size   uint64 `json:"size"`
	Root   []byte `json:"root"`
	Note   string `json:"note"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, multisig.ErrUninitialized), errors.Is(err, storage.ErrNotFound):
		http.Error(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, service.ErrAuditDisabled):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, multisig.ErrMalformedRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case multisig.CodeOf(err) != "":
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		slog.Error("failed to load "+what, "error", err)
		http.Error(w, "failed to load "+what, http.StatusInternalServerError)
	}
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (address.Address, bool) {
	addr := address.Address(r.PathValue(name))
	if err := addr.Validate(); err != nil {
		http.Error(w, name+": "+err.Error(), http.StatusBadRequest)
		return "", false
	}
	return addr, true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

// HandleGetGroup handles GET /groups/{address}.
func (h *HTTPHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	g, err := h.svc.Group(r.Context(), addr)
	if err != nil {
		writeError(w, "group", err)
		return
	}
	writeJSON(w, g)
}

// HandleGetPending handles GET /groups/{address}/pending.
func (h *HTTPHandler) HandleGetPending(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	views, err := h.svc.PendingProposals(r.Context(), addr)
	if err != nil {
		writeError(w, "group", err)
		return
	}
	writeJSON(w, views)
}

// HandleGetProposal handles GET /proposals/{address}.
func (h *HTTPHandler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	p, err := h.svc.Proposal(r.Context(), addr)
	if err != nil {
		writeError(w, "proposal", err)
		return
	}
	writeJSON(w, p)
}

// HandleGetBalance handles GET /balances/{address}.
func (h *HTTPHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	bal, err := h.svc.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, "balance", err)
		return
	}
	writeJSON(w, BalanceResponse{Address: addr, Balance: bal})
}

// HandleDeriveGroup handles GET /derive/group/{seed}.
func (h *HTTPHandler) HandleDeriveGroup(w http.ResponseWriter, r *http.Request) {
	seed := r.PathValue("seed")
	if err := address.ValidateSeed(seed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	program := h.svc.Program()
	writeJSON(w, DeriveResponse{Program: program, Address: address.GroupAddress(program, seed)})
}

// HandleDeriveProposal handles GET /derive/proposal/{seed}.
func (h *HTTPHandler) HandleDeriveProposal(w http.ResponseWriter, r *http.Request) {
	seed := r.PathValue("seed")
	if err := address.ValidateSeed(seed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	program := h.svc.Program()
	writeJSON(w, DeriveResponse{Program: program, Address: address.ProposalAddress(program, seed)})
}

// HandleDeriveAuthority handles GET /derive/authority/{group}.
func (h *HTTPHandler) HandleDeriveAuthority(w http.ResponseWriter, r *http.Request) {
	group, ok := pathAddress(w, r, "group")
	if !ok {
		return
	}
	program := h.svc.Program()
	writeJSON(w, DeriveResponse{Program: program, Address: address.DelegatedAuthority(program, group)})
}

// HandleGetCheckpoint handles GET /audit/checkpoint. With Accept: text/plain
// the signed note is returned as is.
func (h *HTTPHandler) HandleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.svc.Checkpoint(r.Context())
	if err != nil {
		writeError(w, "checkpoint", err)
		return
	}
	if r.Header.Get("Accept") == "text/plain" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(cp.Note)
		return
	}
	writeJSON(w, CheckpointResponse{Origin: cp.Origin, Size: cp.Size, Root: cp.Root, Note: string(cp.Note)})
}

// HandleGetAuditEntry handles GET /audit/entries/{index}.
func (h *HTTPHandler) HandleGetAuditEntry(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	ev, err := h.svc.AuditEntry(r.Context(), index)
	if err != nil {
		writeError(w, "audit entry", err)
		return
	}
	writeJSON(w, ev)
}

// HandleGetProof handles GET /audit/proof/{index}.
func (h *HTTPHandler) HandleGetProof(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Prove(r.Context(), index)
	if err != nil {
		writeError(w, "proof", err)
		return
	}
	writeJSON(w, p)
}
