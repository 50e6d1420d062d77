package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/aegis/internal/api/middleware"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/logger"
)

// Catalog lists banks and their data availability.
type Catalog interface {
	ListBanks(ctx context.Context) ([]domain.Bank, error)
	ListAvailability(ctx context.Context, bankIDs []int) ([]domain.Availability, error)
}

// BanksHandler serves the bank catalogue.
type BanksHandler struct {
	catalog Catalog
}

// NewBanksHandler creates a banks handler.
func NewBanksHandler(catalog Catalog) *BanksHandler {
	return &BanksHandler{catalog: catalog}
}

// ListBanks handles GET /api/banks. With ?availability=true each bank-period
// row is included.
func (h *BanksHandler) ListBanks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	banks, err := h.catalog.ListBanks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list banks")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list banks")
		return
	}
	if banks == nil {
		banks = []domain.Bank{}
	}
	resp := map[string]any{
		"banks": banks,
		"count": len(banks),
	}

	if r.URL.Query().Get("availability") == "true" {
		ids, err := intList(r.URL.Query()["bank_id"])
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, err := h.catalog.ListAvailability(ctx, ids)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list availability")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to list availability")
			return
		}
		if rows == nil {
			rows = []domain.Availability{}
		}
		resp["availability"] = rows
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}
