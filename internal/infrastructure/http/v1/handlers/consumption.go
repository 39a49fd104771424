package handlers

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/consumption"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// ConsumptionHandler exposes FIFO consumption and sale recost operations.
type ConsumptionHandler struct {
	*BaseHandler
	service *consumption.Service
}

// NewConsumptionHandler creates a new consumption handler.
func NewConsumptionHandler(base *BaseHandler, service *consumption.Service) *ConsumptionHandler {
	return &ConsumptionHandler{
		BaseHandler: base,
		service:     service,
	}
}

// RegisterRoutes registers consumption endpoints on the sales group.
func (h *ConsumptionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/consume", h.Consume)
	rg.POST("/recost", h.Recost)
}

// Consume draws COGS for a whole sale from inventory lots, oldest first.
func (h *ConsumptionHandler) Consume(c *gin.Context) {
	var req dto.ConsumeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	saleID, ok := h.ParseID(c, "saleId", req.SaleID)
	if !ok {
		return
	}

	lines := make([]consumption.SaleLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		saleItemID, ok := h.ParseID(c, "saleItemId", l.SaleItemID)
		if !ok {
			return
		}
		variantID, ok := h.ParseID(c, "variantId", l.VariantID)
		if !ok {
			return
		}
		lines = append(lines, consumption.SaleLine{
			SaleItemID: saleItemID,
			VariantID:  variantID,
			Quantity:   l.Quantity,
		})
	}

	result, err := h.service.ConsumeSale(c.Request.Context(), saleID, lines)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, toConsumeResponse(result))
}

// Recost rescans cogs-pending sales and clears those whose lots are now
// fully priced.
func (h *ConsumptionHandler) Recost(c *gin.Context) {
	var req dto.RecostRequest
	if !h.BindJSON(c, &req) {
		return
	}

	var variantIDs []id.ID
	for _, raw := range req.VariantIDs {
		variantID, ok := h.ParseID(c, "variantIds", raw)
		if !ok {
			return
		}
		variantIDs = append(variantIDs, variantID)
	}

	cleared, err := h.service.RescanPendingSales(c.Request.Context(), variantIDs)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.RecostResponse{SalesCleared: cleared})
}

func toConsumeResponse(result consumption.SaleResult) dto.ConsumeResponse {
	resp := dto.ConsumeResponse{
		TotalCost: result.TotalCost.String(),
		Pending:   result.Pending,
		Lines:     make([]dto.ConsumeLineResponse, 0, len(result.Lines)),
	}
	for _, line := range result.Lines {
		lineResp := dto.ConsumeLineResponse{
			TotalCost:    line.TotalCost.String(),
			Pending:      line.Pending,
			ShortfallQty: line.ShortfallQty,
		}
		for _, rec := range line.Consumptions {
			lineResp.Consumptions = append(lineResp.Consumptions, dto.ConsumptionRecordResponse{
				ID:          rec.ID.String(),
				SaleItemID:  rec.SaleItemID.String(),
				LotID:       rec.LotID.String(),
				QtyConsumed: rec.QtyConsumed,
				UnitCost:    rec.UnitCost.String(),
			})
		}
		resp.Lines = append(resp.Lines, lineResp)
	}
	return resp
}
