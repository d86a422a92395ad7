// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/service"
)

// CampaignController serves the operator API.
type CampaignController struct {
	CampaignService *service.CampaignService
	Validate        *validator.Validate
	Logger          *slog.Logger
}

type ownerRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
}

// Routes mounts the operator endpoints on r.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns/{id}/start", c.StartCampaign)
	r.Post("/campaigns/{id}/stop", c.StopCampaign)
	r.Post("/campaigns/{id}/rescan", c.RescanOnHold)
	r.Get("/campaigns/{id}/stats", c.CampaignStats)
	r.Get("/tasks/{id}", c.GetTask)
	r.Get("/dead-letters", c.ListDeadLetters)
	r.Post("/dead-letters/{id}/resolve", c.ResolveDeadLetter)
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	body, ok := c.decodeOwner(w, r)
	if !ok {
		return
	}
	result, err := c.CampaignService.Start(r.Context(), body.OwnerID, chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) StopCampaign(w http.ResponseWriter, r *http.Request) {
	body, ok := c.decodeOwner(w, r)
	if !ok {
		return
	}
	result, err := c.CampaignService.Stop(r.Context(), body.OwnerID, chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) RescanOnHold(w http.ResponseWriter, r *http.Request) {
	body, ok := c.decodeOwner(w, r)
	if !ok {
		return
	}
	result, err := c.CampaignService.RescanOnHold(r.Context(), body.OwnerID, chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) CampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.CampaignService.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (c *CampaignController) GetTask(w http.ResponseWriter, r *http.Request) {
	view, err := c.CampaignService.TaskView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (c *CampaignController) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.DeadLetterFilter{CampaignID: q.Get("campaign_id")}
	if v := q.Get("include_resolved"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid include_resolved", http.StatusBadRequest)
			return
		}
		filter.IncludeResolved = include
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	filter.Limit = limit

	entries, err := c.CampaignService.ListDeadLetters(r.Context(), filter)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

func (c *CampaignController) ResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.CampaignService.ResolveDeadLetter(r.Context(), id); err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

func (c *CampaignController) decodeOwner(w http.ResponseWriter, r *http.Request) (ownerRequest, bool) {
	var body ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return body, false
	}
	validate := c.Validate
	if validate == nil {
		validate = validator.New()
	}
	if err := validate.Struct(body); err != nil {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return body, false
	}
	return body, true
}

func (c *CampaignController) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := appErrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("operator request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
