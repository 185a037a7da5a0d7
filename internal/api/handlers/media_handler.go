// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/services/media"
	"norelock.dev/listenify/bragi/internal/utils"
)

// MediaHandler serves the aggregation operations over REST.
type MediaHandler struct {
	svc    media.Service
	logger *utils.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(svc media.Service, logger *utils.Logger) *MediaHandler {
	return &MediaHandler{
		svc:    svc,
		logger: logger.Named("media_handler"),
	}
}

// Providers lists the registered providers.
func (h *MediaHandler) Providers(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithData(w, h.svc.Providers())
}

// Suggest handles GET /suggest?keyword=&providers=a,b.
func (h *MediaHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providers, err := models.ParseProviders(utils.SplitList(q.Get("providers")))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	req := media.SuggestRequest{Keyword: q.Get("keyword"), Providers: providers}
	suggestions, err := req.Do(r.Context(), h.svc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithData(w, suggestions)
}

// Search handles GET /search?keyword=&providers=&types=&page=.
func (h *MediaHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providers, err := models.ParseProviders(utils.SplitList(q.Get("providers")))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var types []models.QueryType
	for _, name := range utils.SplitList(q.Get("types")) {
		t, err := models.ParseQueryType(name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		types = append(types, t)
	}

	page := 0
	if s := q.Get("page"); s != "" {
		if page, err = strconv.Atoi(s); err != nil {
			h.fail(w, r, fmt.Errorf("%w: page must be a number", models.ErrInvalidInput))
			return
		}
	}

	req := media.SearchRequest{Keyword: q.Get("keyword"), Providers: providers, Types: types, Page: page}
	results, err := req.Do(r.Context(), h.svc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithData(w, results)
}

// Detail handles GET /detail/{provider}/{id}.
func (h *MediaHandler) Detail(w http.ResponseWriter, r *http.Request) {
	req, err := itemRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	collection, err := req.Detail(r.Context(), h.svc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithData(w, collection)
}

// Stream handles GET /stream/{provider}/{id}.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := itemRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	streams, err := req.Stream(r.Context(), h.svc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.RespondWithData(w, streams)
}

func itemRequest(r *http.Request) (media.ItemRequest, error) {
	p, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		return media.ItemRequest{}, err
	}
	return media.ItemRequest{Provider: p, ID: chi.URLParam(r, "id")}, nil
}

// fail writes err. Validation failures get the per-field error body.
func (h *MediaHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		utils.RespondWithValidationError(w, verrs)
		return
	}

	status := models.MapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", err, "path", r.URL.Path)
	} else {
		h.logger.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	utils.RespondWithError(w, err)
}
