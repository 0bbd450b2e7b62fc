// Package handler contains the HTTP handlers for the query API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "querydock/internal/api/middleware"
	"querydock/internal/api/response"
	"querydock/internal/store"
	"querydock/pkg/models"
)

// NewRegisterQueryHandler returns an http.HandlerFunc for POST /queries.
// Registration is metadata-only: no dataset lookup happens here, and the
// query starts out pending until a publication sweep picks it up.
func NewRegisterQueryHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "missing owner")
			return
		}

		var req struct {
			Dataset   string `json:"dataset"`
			Language  string `json:"language"`
			QueryText string `json:"queryText"`
			Model     string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.Dataset == "" {
			response.Error(w, http.StatusBadRequest, "dataset is required")
			return
		}
		if req.Language == "" {
			response.Error(w, http.StatusBadRequest, "language is required")
			return
		}
		if req.QueryText == "" {
			response.Error(w, http.StatusBadRequest, "queryText is required")
			return
		}
		if req.Model == "" {
			response.Error(w, http.StatusBadRequest, "model is required")
			return
		}

		q := &models.Query{
			ID:        uuid.New(),
			Dataset:   req.Dataset,
			Language:  req.Language,
			QueryText: req.QueryText,
			Model:     req.Model,
			Owner:     owner,
			Status:    models.QueryStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.CreateQuery(r.Context(), q); err != nil {
			response.Error(w, http.StatusInternalServerError, "failed to register query")
			return
		}

		response.OK(w, registerQueryResponse{QueryID: q.ID})
	}
}

// NewListQueriesHandler returns an http.HandlerFunc for GET /queries. Only
// the caller's own queries are listed, newest first.
func NewListQueriesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "missing owner")
			return
		}

		queries, err := st.ListQueriesByOwner(r.Context(), owner)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "failed to list queries")
			return
		}

		items := make([]queryItem, len(queries))
		for i, q := range queries {
			items[i] = queryItem{
				QueryID:   q.ID,
				Dataset:   q.Dataset,
				Language:  q.Language,
				QueryText: q.QueryText,
				Model:     q.Model,
				Status:    q.Status,
				CreatedAt: q.CreatedAt.UTC().Format(time.RFC3339),
			}
		}

		response.OK(w, listQueriesResponse{Queries: items})
	}
}

// NewGetQueryHandler returns an http.HandlerFunc for GET /queries/{queryID}.
// A query owned by someone else is indistinguishable from a missing one.
func NewGetQueryHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "missing owner")
			return
		}

		queryID, err := uuid.Parse(chi.URLParam(r, "queryID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid query id")
			return
		}

		q, err := st.GetQueryForOwner(r.Context(), queryID, owner)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "query not found")
				return
			}
			response.Error(w, http.StatusInternalServerError, "failed to load query")
			return
		}

		response.OK(w, getQueryResponse{
			QueryText: q.QueryText,
			Model:     q.Model,
		})
	}
}

type registerQueryResponse struct {
	QueryID uuid.UUID `json:"queryId"`
}

type queryItem struct {
	QueryID   uuid.UUID `json:"queryId"`
	Dataset   string    `json:"dataset"`
	Language  string    `json:"language"`
	QueryText string    `json:"queryText"`
	Model     string    `json:"model"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"createdAt"`
}

type listQueriesResponse struct {
	Queries []queryItem `json:"queries"`
}

type getQueryResponse struct {
	QueryText string `json:"queryText"`
	Model     string `json:"model"`
}
