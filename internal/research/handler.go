package research

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayush/factcheck-agent/internal/models"
	"github.com/ayush/factcheck-agent/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Pipeline runs research for one request.
type Pipeline interface {
	Run(ctx context.Context, req models.ResearchRequest) (*models.ResearchResponse, error)
}

// ResultReader is the read side of the result store.
type ResultReader interface {
	GetResult(ctx context.Context, id string) (*models.ResearchResult, error)
	SearchResults(ctx context.Context, q models.SearchQuery) (*models.SearchPage, error)
}

// ProfileCatalog reads and edits speaker profiles.
type ProfileCatalog interface {
	GetProfile(ctx context.Context, id string) (*models.SpeakerProfile, error)
	FindProfiles(ctx context.Context, fragment string, limit int) ([]models.SpeakerProfile, error)
	ProfileStats(ctx context.Context, id string) (*models.ProfileStats, error)
	UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.SpeakerProfile, error)
}

// TraceReader loads archived pipeline traces.
type TraceReader interface {
	GetTrace(ctx context.Context, researchID string) (*models.ResearchTrace, error)
}

// Capabilities is reported by the health endpoint.
type Capabilities struct {
	Model          string `json:"model"`
	SearchProvider string `json:"search_provider"`
	MaxToolCalls   int    `json:"max_tool_calls"`
	ContextBudget  int    `json:"context_budget"`
	TriFactor      bool   `json:"tri_factor"`
	Traces         bool   `json:"traces"`
	Evidence       bool   `json:"evidence"`
}

// HandlerDeps are the collaborators of a Handler. Traces and Evidence may
// be nil when archiving is disabled.
type HandlerDeps struct {
	Pipeline     Pipeline
	Results      ResultReader
	Profiles     ProfileCatalog
	Traces       TraceReader
	Evidence     FileStore
	Validate     *validator.Validate
	Capabilities Capabilities
	Log          *zap.Logger
}

// Handler holds research HTTP handlers.
type Handler struct {
	HandlerDeps
}

func NewHandler(deps HandlerDeps) *Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Validate == nil {
		deps.Validate = NewValidator()
	}
	return &Handler{HandlerDeps: deps}
}

// Create validates the request and runs the research pipeline.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.ResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	NormalizeRequest(&req)
	if err := ValidateRequest(h.Validate, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := h.Pipeline.Run(r.Context(), req)
	if err != nil {
		h.Log.Error("research failed", zap.Error(err))
		if errors.Is(err, ErrPersistence) {
			http.Error(w, `{"error":"failed to save research"}`, http.StatusInternalServerError)
			return
		}
		http.Error(w, `{"error":"research failed"}`, http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if resp.IsDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// Get returns a single stored result.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := researchID(w, r)
	if !ok {
		return
	}
	res, err := h.Results.GetResult(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "get result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search lists stored results matching the query filters.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	page, err := h.Results.SearchResults(r.Context(), q)
	if err != nil {
		h.Log.Error("search results", zap.Error(err))
		http.Error(w, `{"error":"database error"}`, http.StatusInternalServerError)
		return
	}
	results := page.Results
	if results == nil {
		results = []models.ResearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":          results,
		"count":            len(results),
		"total":            page.Total,
		"tri_factor_count": page.TriFactorCount,
		"limit":            q.Limit,
		"offset":           q.Offset,
		"filters_applied":  q,
	})
}

func parseSearchQuery(r *http.Request) (models.SearchQuery, error) {
	v := r.URL.Query()
	q := models.SearchQuery{
		Search:   strings.TrimSpace(v.Get("search")),
		Country:  strings.ToLower(strings.TrimSpace(v.Get("country"))),
		Category: strings.ToLower(strings.TrimSpace(v.Get("category"))),
		Limit:    defaultPageSize,
	}

	if raw := v.Get("status"); raw != "" {
		st, ok := models.ParseStatus(raw)
		if !ok {
			return q, errors.New("unknown status " + strconv.Quote(raw))
		}
		q.Status = st
	}
	if q.Category != "" && !models.Category(q.Category).Valid() {
		return q, errors.New("unknown category " + strconv.Quote(q.Category))
	}
	if raw := v.Get("profile"); raw != "" {
		if _, err := uuid.Parse(raw); err != nil {
			return q, errors.New("profile must be a UUID")
		}
		q.ProfileID = raw
	}
	if raw := v.Get("tri_factor_only"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, errors.New("tri_factor_only must be a boolean")
		}
		q.TriFactorOnly = b
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = min(n, maxPageSize)
	}
	if raw := v.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, errors.New("offset must be a non-negative integer")
		}
		q.Offset = n
	}
	return q, nil
}

// Trace returns the archived pipeline trace of a result.
func (h *Handler) Trace(w http.ResponseWriter, r *http.Request) {
	if h.Traces == nil {
		http.Error(w, `{"error":"trace archive disabled"}`, http.StatusNotFound)
		return
	}
	id, ok := researchID(w, r)
	if !ok {
		return
	}
	trace, err := h.Traces.GetTrace(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "get trace")
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// DownloadEvidence streams the n-th archived page snapshot of a result.
func (h *Handler) DownloadEvidence(w http.ResponseWriter, r *http.Request) {
	if h.Evidence == nil {
		http.Error(w, `{"error":"evidence archive disabled"}`, http.StatusNotFound)
		return
	}
	id, ok := researchID(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	data, ct, err := h.Evidence.Download(r.Context(), evidenceKey(id, n))
	if err != nil {
		h.notFoundOr500(w, err, "download evidence")
		return
	}
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.Write(data)
}

// GetProfile returns one speaker profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	p, err := h.Profiles.GetProfile(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "get profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ProfileStats returns a profile's latest statements and verdict breakdowns.
func (h *Handler) ProfileStats(w http.ResponseWriter, r *http.Request) {
	id, ok := researchID(w, r)
	if !ok {
		return
	}
	stats, err := h.Profiles.ProfileStats(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, err, "profile stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UpdateProfile applies a partial edit to a profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := researchID(w, r)
	if !ok {
		return
	}
	var upd models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	NormalizeProfileUpdate(&upd)
	if err := ValidateProfileUpdate(h.Validate, &upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	p, err := h.Profiles.UpdateProfile(r.Context(), id, upd)
	if errors.Is(err, store.ErrConflict) {
		http.Error(w, `{"error":"a profile with that name already exists"}`, http.StatusConflict)
		return
	}
	if err != nil {
		h.notFoundOr500(w, err, "update profile")
		return
	}
	h.Log.Info("profile updated", zap.String("profile_id", id))
	writeJSON(w, http.StatusOK, p)
}

// FindProfiles searches profiles by a name fragment.
func (h *Handler) FindProfiles(w http.ResponseWriter, r *http.Request) {
	name := NormalizeProfileName(r.URL.Query().Get("name"))
	profiles, err := h.Profiles.FindProfiles(r.Context(), name, defaultPageSize)
	if err != nil {
		h.Log.Error("find profiles", zap.Error(err))
		http.Error(w, `{"error":"database error"}`, http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []models.SpeakerProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

// Categories lists the statement categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": models.Categories,
		"statuses":   models.Statuses,
	})
}

// Health reports service status and research capabilities.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"capabilities": h.Capabilities,
	})
}

func researchID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return "", false
	}
	return id, true
}

func (h *Handler) notFoundOr500(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	h.Log.Error(op, zap.Error(err))
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}
