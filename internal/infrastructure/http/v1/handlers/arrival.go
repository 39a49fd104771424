package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/arrival"
	"lotledger/internal/infrastructure/http/v1/dto"
	"lotledger/internal/infrastructure/storage/postgres"
)

// ArrivalHandler exposes arrival posting operations on purchase orders.
type ArrivalHandler struct {
	*BaseHandler
	service *arrival.Service
	changes *postgres.ChangeLogService
}

// NewArrivalHandler creates a new arrival handler. changes may be nil.
func NewArrivalHandler(base *BaseHandler, service *arrival.Service, changes *postgres.ChangeLogService) *ArrivalHandler {
	return &ArrivalHandler{
		BaseHandler: base,
		service:     service,
		changes:     changes,
	}
}

// RegisterRoutes registers arrival endpoints on the purchase-orders group.
func (h *ArrivalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/:orderId/post-arrival", h.PostArrival)
	rg.POST("/:orderId/unpost", h.UndoPosting)
	rg.POST("/:orderId/arrival-tax", h.ApplyArrivalTax)
	rg.GET("/:orderId/change-log", h.GetChangeLog)
}

// PostArrival creates the lot set for an arrived order. Safe to retry.
func (h *ArrivalHandler) PostArrival(c *gin.Context) {
	orderID, ok := h.ParseID(c, "orderId", c.Param("orderId"))
	if !ok {
		return
	}

	result, err := h.service.PostArrival(c.Request.Context(), orderID)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.PostArrivalResponse{
		Skipped:     result.Skipped,
		CostPending: result.Pending,
	}
	for _, lotID := range result.LotIDs {
		resp.LotIDs = append(resp.LotIDs, lotID.String())
	}

	h.OK(c, resp)
}

// UndoPosting removes the order's lot set while it is still untouched.
func (h *ArrivalHandler) UndoPosting(c *gin.Context) {
	orderID, ok := h.ParseID(c, "orderId", c.Param("orderId"))
	if !ok {
		return
	}

	if err := h.service.UndoPosting(c.Request.Context(), orderID); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "posting undone")
}

// ApplyArrivalTax records the true arrival tax and reprices the lots.
func (h *ArrivalHandler) ApplyArrivalTax(c *gin.Context) {
	orderID, ok := h.ParseID(c, "orderId", c.Param("orderId"))
	if !ok {
		return
	}

	var req dto.ArrivalTaxRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tax, err := types.NewMoneyFromString(req.ArrivalTax)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid arrival tax amount").
			WithDetail("arrivalTax", req.ArrivalTax))
		return
	}

	result, err := h.service.ApplyArrivalTax(c.Request.Context(), orderID, tax)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ArrivalTaxResponse{
		Posted:       result.Posted,
		LotsRepriced: result.LotsRepriced,
		SalesCleared: result.SalesCleared,
	})
}

// GetChangeLog returns the posting history of an order.
func (h *ArrivalHandler) GetChangeLog(c *gin.Context) {
	orderID, ok := h.ParseID(c, "orderId", c.Param("orderId"))
	if !ok {
		return
	}
	if h.changes == nil {
		h.OK(c, []dto.ChangeLogEntryResponse{})
		return
	}

	limit := h.ParseIntQuery(c, "limit", 50)
	entries, err := h.changes.GetOrderHistory(c.Request.Context(), orderID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := make([]dto.ChangeLogEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, dto.ChangeLogEntryResponse{
			ID:              e.ID.String(),
			Action:          e.Action,
			PurchaseOrderID: e.PurchaseOrderID.String(),
			Payload:         e.Payload,
			CreatedAt:       e.CreatedAt.Format(time.RFC3339),
		})
	}

	h.OK(c, resp)
}
