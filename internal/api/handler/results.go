package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "querydock/internal/api/middleware"
	"querydock/internal/api/response"
	"querydock/internal/store"
	"querydock/pkg/models"
)

const (
	defaultResultsPageSize = 1000
	maxResultsPageSize     = 1000
)

// NewQueryResultsHandler returns an http.HandlerFunc for
// GET /queries/{queryID}/results. Only successfully processed jobs are
// returned; pending and failed jobs never appear in a page. Pagination is
// stable because rows are ordered by ledger id.
func NewQueryResultsHandler(st store.Store) http.HandlerFunc {
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

		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}
		pageSize := queryInt(r, "pageSize", defaultResultsPageSize)
		if pageSize < 1 {
			pageSize = defaultResultsPageSize
		}
		if pageSize > maxResultsPageSize {
			pageSize = maxResultsPageSize
		}

		// Ownership gate before touching the ledger.
		if _, err := st.GetQueryForOwner(r.Context(), queryID, owner); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "query not found")
				return
			}
			response.Error(w, http.StatusInternalServerError, "failed to load query")
			return
		}

		total, err := st.CountProcessedResults(r.Context(), queryID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "failed to count results")
			return
		}

		offset := int64(page-1) * int64(pageSize)
		rows, err := st.ListProcessedResults(r.Context(), queryID, int64(pageSize), offset)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "failed to list results")
			return
		}

		items := make([]resultItem, 0, len(rows))
		for _, row := range rows {
			var classified []models.ClassifyResult
			if err := json.Unmarshal(row.Result, &classified); err != nil {
				response.Error(w, http.StatusInternalServerError, "failed to decode stored result")
				return
			}
			items = append(items, resultItem{Results: classified})
		}

		response.OK(w, queryResultsResponse{
			Results:  items,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			HasMore:  total > int64(page)*int64(pageSize),
		})
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

type resultItem struct {
	Results []models.ClassifyResult `json:"results"`
}

type queryResultsResponse struct {
	Results  []resultItem `json:"results"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
	HasMore  bool         `json:"hasMore"`
}
