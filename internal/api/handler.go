// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"package-registry/internal/apperrors"
	"package-registry/internal/model"
	"package-registry/internal/registry"
)

// Registry is the pipeline surface the HTTP layer drives.
type Registry interface {
	Create(ctx context.Context, data registry.SubmissionData) (model.PackageRecord, error)
	Update(ctx context.Context, id int64, meta model.Metadata, data registry.SubmissionData) (model.PackageRecord, error)
	Get(ctx context.Context, id int64) (model.PackageRecord, error)
	Rate(ctx context.Context, id int64) (model.ScoreSet, error)
	Cost(ctx context.Context, id int64) (float64, error)
	Delete(ctx context.Context, id int64) error
	Reset(ctx context.Context) error
	SearchByRegex(ctx context.Context, expr string) ([]model.Metadata, error)
	ListByQuery(ctx context.Context, name string, offset int) ([]model.Metadata, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	registry Registry
	logger   *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(reg Registry, logger *slog.Logger) http.Handler {
	h := &Handler{
		registry: reg,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Get("/packages", h.listPackages)
	r.Post("/package", h.createPackage)
	r.Post("/package/byRegEx", h.searchByRegex)
	r.Route("/package/{id}", func(r chi.Router) {
		r.Get("/", h.getPackage)
		r.Post("/", h.updatePackage)
		r.Delete("/", h.deletePackage)
		r.Get("/rate", h.ratePackage)
		r.Get("/cost", h.packageCost)
	})
	r.Delete("/reset", h.reset)

	return r
}

// packageData is the submission half of the request and response envelope.
type packageData struct {
	Content string `json:"Content,omitempty"`
	URL     string `json:"URL,omitempty"`
}

// packageEnvelope is the wire shape of a stored package.
type packageEnvelope struct {
	Metadata model.Metadata `json:"metadata"`
	Data     packageData    `json:"data"`
}

// ratingResponse is the wire shape of the score set.
type ratingResponse struct {
	BusFactor            float64 `json:"BusFactor"`
	Correctness          float64 `json:"Correctness"`
	RampUp               float64 `json:"RampUp"`
	ResponsiveMaintainer float64 `json:"ResponsiveMaintainer"`
	LicenseScore         float64 `json:"LicenseScore"`
	GoodPinningPractice  float64 `json:"GoodPinningPractice"`
	PullRequest          float64 `json:"PullRequest"`
	NetScore             float64 `json:"NetScore"`
}

func toEnvelope(rec model.PackageRecord) packageEnvelope {
	env := packageEnvelope{
		Metadata: model.Metadata{Name: rec.Name, Version: rec.Version, ID: rec.ID},
		Data:     packageData{Content: rec.Content},
	}
	if rec.UploadedByURL && rec.URL != nil {
		env.Data.URL = *rec.URL
	}
	return env
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listPackages enumerates the registry, ten packages per page. The name
// query is required; "*" matches everything. The offset header of the
// response carries the next page's offset.
// GET /packages?name=N&offset=M
func (h *Handler) listPackages(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'name' query parameter")
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'offset' query parameter")
			return
		}
		offset = parsed
	}

	page, err := h.registry.ListByQuery(r.Context(), name, offset)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if page == nil {
		page = []model.Metadata{}
	}

	w.Header().Set("offset", strconv.Itoa(offset+len(page)))
	respondWithJSON(w, http.StatusOK, page)
}

// createPackage handles package submission.
// POST /package
func (h *Handler) createPackage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"Content"`
		URL     string `json:"URL"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	rec, err := h.registry.Create(r.Context(), registry.SubmissionData{Content: req.Content, URL: req.URL})
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toEnvelope(rec))
}

// getPackage returns the stored package, content included.
// GET /package/{id}
func (h *Handler) getPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.packageID(w, r)
	if !ok {
		return
	}

	rec, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toEnvelope(rec))
}

// updatePackage re-ingests a package under a new version.
// POST /package/{id}
func (h *Handler) updatePackage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.packageID(w, r)
	if !ok {
		return
	}

	var req struct {
		Metadata model.Metadata `json:"metadata"`
		Data     packageData    `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	rec, err := h.registry.Update(r.Context(), id, req.Metadata,
		registry.SubmissionData{Content: req.Data.Content, URL: req.Data.URL})
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toEnvelope(rec))
}

// deletePackage removes a single package version.
// DELETE /package/{id}
func (h *Handler) deletePackage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.packageID(w, r)
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ratePackage returns the persisted score set.
// GET /package/{id}/rate
func (h *Handler) ratePackage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.packageID(w, r)
	if !ok {
		return
	}

	scores, err := h.registry.Rate(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ratingResponse{
		BusFactor:            scores.BusFactor,
		Correctness:          scores.Correctness,
		RampUp:               scores.RampUp,
		ResponsiveMaintainer: scores.ResponsiveMaintainer,
		LicenseScore:         scores.LicenseScore,
		GoodPinningPractice:  scores.VersionPinning,
		PullRequest:          scores.PullRequest,
		NetScore:             scores.NetScore,
	})
}

// packageCost returns the artifact size in MB.
// GET /package/{id}/cost
func (h *Handler) packageCost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.packageID(w, r)
	if !ok {
		return
	}

	cost, err := h.registry.Cost(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]map[string]float64{
		strconv.FormatInt(id, 10): {"totalCost": cost},
	})
}

// searchByRegex matches stored packages by name or README content.
// POST /package/byRegEx
func (h *Handler) searchByRegex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegEx string `json:"RegEx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RegEx == "" {
		respondWithError(w, http.StatusBadRequest, "Missing or malformed 'RegEx' field")
		return
	}

	matches, err := h.registry.SearchByRegex(r.Context(), req.RegEx)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}
	if len(matches) == 0 {
		respondWithError(w, http.StatusNotFound, "No package found under this regex")
		return
	}

	respondWithJSON(w, http.StatusOK, matches)
}

// reset wipes the registry back to its initial state.
// DELETE /reset
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reset(r.Context()); err != nil {
		h.respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "registry reset"})
}

// packageID parses the {id} route parameter, answering 404 for non-numeric
// ids so unknown and malformed ids are indistinguishable to clients.
func (h *Handler) packageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Package does not exist")
		return 0, false
	}
	return id, true
}

// respondWithAppError maps the error taxonomy onto HTTP statuses.
func (h *Handler) respondWithAppError(w http.ResponseWriter, err error) {
	var (
		validation   *apperrors.ValidationError
		notFound     *apperrors.NotFoundError
		conflict     *apperrors.ConflictError
		disqualified *apperrors.DisqualifiedError
		dependency   *apperrors.DependencyError
	)
	switch {
	case errors.As(err, &validation):
		respondWithError(w, http.StatusBadRequest, validation.Msg)
	case errors.As(err, &notFound):
		respondWithError(w, http.StatusNotFound, "Package does not exist")
	case errors.As(err, &conflict):
		respondWithError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &disqualified):
		respondWithError(w, http.StatusFailedDependency, disqualified.Error())
	case errors.As(err, &dependency):
		h.logger.Error("Upstream dependency failure", "error", err)
		respondWithError(w, http.StatusBadGateway, "Upstream dependency failure")
	default:
		h.logger.Error("Unhandled error", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
