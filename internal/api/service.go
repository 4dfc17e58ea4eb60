// Package api exposes the treasury engine over HTTP and pushes treasury
// snapshots to WebSocket clients.
//
// Every route under /api/v1 is scoped to the user named by the X-User-ID
// header, which an upstream auth proxy sets.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/treasury-engine/internal/custody"
	"github.com/atmx/treasury-engine/internal/engine"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/report"
)

// Service serves the engine's operations.
type Service struct {
	engine   *engine.Engine
	currency string
}

// NewService creates a new HTTP service over the engine.
func NewService(e *engine.Engine) *Service {
	return &Service{engine: e, currency: e.Policy().Currency}
}

// Routes registers every handler on r. hub may be nil when WebSocket
// pushes are not needed.
func (s *Service) Routes(r chi.Router, hub *WSHub) {
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/structures", s.ListStructures)
		r.Post("/structures", s.SaveDraft)
		r.Post("/structures/activate", s.ActivateNew)
		r.Get("/structures/{structureID}", s.GetStructure)
		r.Put("/structures/{structureID}", s.SaveDraft)
		r.Delete("/structures/{structureID}", s.DeleteStructure)
		r.Post("/structures/{structureID}/activate", s.ActivateStored)
		r.Post("/structures/{structureID}/close", s.CloseStructure)
		r.Post("/structures/{structureID}/roll", s.RollStructure)
		r.Post("/structures/{structureID}/roll-cost", s.PostRollCost)

		r.Get("/treasury", s.GetTreasury)
		r.Get("/treasury/statement.xlsx", s.ExportStatement)

		r.Get("/cashflow", s.ListCashFlow)
		r.Post("/cashflow", s.PostCashFlow)
		r.Get("/cashflow/orphans", s.ListOrphans)
		r.Delete("/cashflow/orphans/{entryID}", s.DeleteOrphan)

		r.Get("/custody", s.ListCustody)
		r.Patch("/custody/{symbol}", s.UpdateCustody)

		r.Get("/rolls", s.ListRolls)
	})
}

// --- Request types ---

// ActivateRequest is the JSON body for activation. Structure is only read
// by POST /structures/activate.
type ActivateRequest struct {
	Structure *model.Structure `json:"structure,omitempty"`
	Force     bool             `json:"force"`
}

// CloseRequest is the JSON body for POST /structures/{id}/close.
type CloseRequest struct {
	Profit      decimal.Decimal `json:"profit"`
	Description string          `json:"description"`
}

// RollRequest is the JSON body for POST /structures/{id}/roll.
type RollRequest struct {
	OriginalLegs model.Legs `json:"original_legs"`
	NewLegs      model.Legs `json:"new_legs"`
}

// RollCostRequest is the JSON body for POST /structures/{id}/roll-cost.
type RollCostRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// --- Structures ---

// ListStructures handles GET /api/v1/structures?status=ACTIVE
func (s *Service) ListStructures(w http.ResponseWriter, r *http.Request) {
	status := model.StructureStatus(r.URL.Query().Get("status"))
	list, err := s.engine.ListStructures(r.Context(), UserID(r.Context()), status)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []model.Structure{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetStructure handles GET /api/v1/structures/{structureID}
func (s *Service) GetStructure(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetStructure(r.Context(), UserID(r.Context()), chi.URLParam(r, "structureID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SaveDraft handles POST /api/v1/structures and PUT /api/v1/structures/{structureID}
func (s *Service) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var st model.Structure
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	status := http.StatusCreated
	if id := chi.URLParam(r, "structureID"); id != "" {
		st.ID = id
		status = http.StatusOK
	} else {
		st.ID = ""
	}

	saved, err := s.engine.SaveDraft(r.Context(), UserID(r.Context()), &st)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, saved)
}

// ActivateNew handles POST /api/v1/structures/activate for a structure that
// was never saved as a draft.
func (s *Service) ActivateNew(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Structure == nil {
		writeError(w, "structure is required", http.StatusBadRequest)
		return
	}
	req.Structure.ID = ""
	s.activate(w, r, req.Structure, req.Force)
}

// ActivateStored handles POST /api/v1/structures/{structureID}/activate.
// The body is optional; {"force": true} confirms the warnings.
func (s *Service) ActivateStored(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	st, err := s.engine.GetStructure(r.Context(), UserID(r.Context()), chi.URLParam(r, "structureID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.activate(w, r, st, req.Force)
}

func (s *Service) activate(w http.ResponseWriter, r *http.Request, st *model.Structure, force bool) {
	out, err := s.engine.ActivateStructure(r.Context(), UserID(r.Context()), st, engine.ActivateOptions{Force: force})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if out.RequiresConfirmation {
		// Nothing was written; the client shows the warnings and retries
		// with force.
		writeJSON(w, http.StatusConflict, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CloseStructure handles POST /api/v1/structures/{structureID}/close
func (s *Service) CloseStructure(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.engine.CloseStructure(r.Context(), UserID(r.Context()), chi.URLParam(r, "structureID"),
		engine.CloseOptions{Profit: req.Profit, Description: req.Description})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RollStructure handles POST /api/v1/structures/{structureID}/roll
func (s *Service) RollStructure(w http.ResponseWriter, r *http.Request) {
	var req RollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.engine.RollStructure(r.Context(), UserID(r.Context()), model.RollPosition{
		StructureID:  chi.URLParam(r, "structureID"),
		OriginalLegs: req.OriginalLegs,
		NewLegs:      req.NewLegs,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PostRollCost handles POST /api/v1/structures/{structureID}/roll-cost
func (s *Service) PostRollCost(w http.ResponseWriter, r *http.Request) {
	var req RollCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.engine.PostRollCost(r.Context(), UserID(r.Context()), chi.URLParam(r, "structureID"), req.Amount, req.Description)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// DeleteStructure handles DELETE /api/v1/structures/{structureID}
func (s *Service) DeleteStructure(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.DeleteStructure(r.Context(), UserID(r.Context()), chi.URLParam(r, "structureID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Treasury ---

// GetTreasury handles GET /api/v1/treasury
func (s *Service) GetTreasury(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ComputeTreasurySnapshot(r.Context(), UserID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ExportStatement handles GET /api/v1/treasury/statement.xlsx
func (s *Service) ExportStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserID(ctx)

	snap, err := s.engine.ComputeTreasurySnapshot(ctx, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	entries, err := s.engine.ListCashFlow(ctx, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	assets, err := s.engine.ListCustody(ctx, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	structures, err := s.engine.ListStructures(ctx, userID, "")
	if err != nil {
		writeEngineError(w, err)
		return
	}

	data, err := report.Generate(report.Statement{
		UserID:     userID,
		Currency:   s.currency,
		Snapshot:   snap,
		Entries:    entries,
		Custody:    assets,
		Structures: structures,
	})
	if err != nil {
		slog.Error("statement export failed", "user", userID, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	name := "statement-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write(data)
}

// --- Cash flow ---

// ListCashFlow handles GET /api/v1/cashflow
func (s *Service) ListCashFlow(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListCashFlow(r.Context(), UserID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.CashFlowEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PostCashFlow handles POST /api/v1/cashflow
func (s *Service) PostCashFlow(w http.ResponseWriter, r *http.Request) {
	var req engine.CashFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.engine.PostCashFlow(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ListOrphans handles GET /api/v1/cashflow/orphans
func (s *Service) ListOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.engine.FindOrphanedEntries(r.Context(), UserID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if orphans == nil {
		orphans = []model.CashFlowEntry{}
	}
	writeJSON(w, http.StatusOK, orphans)
}

// DeleteOrphan handles DELETE /api/v1/cashflow/orphans/{entryID}
func (s *Service) DeleteOrphan(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.DeleteOrphanedEntry(r.Context(), UserID(r.Context()), chi.URLParam(r, "entryID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Custody ---

// ListCustody handles GET /api/v1/custody
func (s *Service) ListCustody(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.ListCustody(r.Context(), UserID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if assets == nil {
		assets = []model.CustodyAsset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// UpdateCustody handles PATCH /api/v1/custody/{symbol}
func (s *Service) UpdateCustody(w http.ResponseWriter, r *http.Request) {
	var req custody.AssetUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	asset, snap, err := s.engine.UpdateCustodyAsset(r.Context(), UserID(r.Context()), chi.URLParam(r, "symbol"), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset, "snapshot": snap})
}

// --- Rolls ---

// ListRolls handles GET /api/v1/rolls
func (s *Service) ListRolls(w http.ResponseWriter, r *http.Request) {
	rolls, err := s.engine.ListRolls(r.Context(), UserID(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if rolls == nil {
		rolls = []model.RollPosition{}
	}
	writeJSON(w, http.StatusOK, rolls)
}

// --- Responses ---

// writeEngineError maps engine errors to HTTP statuses. Persistence and
// unexpected failures are reported opaquely; the engine has logged them.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrNotDrafting),
		errors.Is(err, engine.ErrNotActive),
		errors.Is(err, engine.ErrNotOrphaned),
		errors.Is(err, engine.ErrStaleEntries):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeOptional decodes the body into v; an empty body leaves v unchanged.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
