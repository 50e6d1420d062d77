package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dvloznov/aegis/internal/api/middleware"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/postgres"
	"github.com/dvloznov/aegis/internal/logger"
)

// ReportStore reads stored ETL reports.
type ReportStore interface {
	ListReports(ctx context.Context, filter postgres.ReportFilter) ([]domain.Report, error)
	GetReport(ctx context.Context, id string) (*domain.Report, error)
}

// ReportsHandler serves stored reports.
type ReportsHandler struct {
	store ReportStore
}

// NewReportsHandler creates a reports handler.
func NewReportsHandler(store ReportStore) *ReportsHandler {
	return &ReportsHandler{store: store}
}

// ListReports handles GET /api/reports
func (h *ReportsHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	ids, err := intList(query["bank_id"])
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := postgres.ReportFilter{
		BankIDs: ids,
		Quarter: domain.NormalizeQuarter(query.Get("quarter")),
	}
	if fy := query.Get("fiscal_year"); fy != "" {
		if filter.FiscalYear, err = strconv.Atoi(fy); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid fiscal_year")
			return
		}
	}
	for _, t := range query["report_type"] {
		for _, v := range strings.Split(t, ",") {
			if v = strings.TrimSpace(v); v != "" {
				filter.ReportTypes = append(filter.ReportTypes, v)
			}
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	reports, err := h.store.ListReports(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list reports")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}
	// The listing omits report bodies.
	for i := range reports {
		reports[i].Markdown = ""
		reports[i].Payload = nil
	}
	if reports == nil {
		reports = []domain.Report{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetReport handles GET /api/reports/{id}
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	report, err := h.store.GetReport(ctx, id)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("report_id", id).Msg("Failed to get report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get report")
		return
	}
	if report == nil {
		middleware.WriteError(w, http.StatusNotFound, "Report not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, report)
}

// intList parses repeated or comma-separated integer query values.
func intList(values []string) ([]int, error) {
	var out []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid bank_id %q", part)
			}
			out = append(out, n)
		}
	}
	return out, nil
}
