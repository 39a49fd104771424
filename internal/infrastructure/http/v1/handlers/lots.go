package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/lots"
	"lotledger/internal/infrastructure/http/v1/dto"
)

// LotsHandler exposes read access to lots and the movement ledger.
type LotsHandler struct {
	*BaseHandler
	lots   lots.Store
	ledger *ledger.Service
}

// NewLotsHandler creates a new lots handler.
func NewLotsHandler(base *BaseHandler, lotStore lots.Store, ledgerService *ledger.Service) *LotsHandler {
	return &LotsHandler{
		BaseHandler: base,
		lots:        lotStore,
		ledger:      ledgerService,
	}
}

// RegisterRoutes registers lot and ledger read endpoints.
func (h *LotsHandler) RegisterRoutes(lotsGroup, ledgerGroup *gin.RouterGroup) {
	lotsGroup.GET("", h.ListLots)
	ledgerGroup.GET("/movements", h.GetMovements)
	ledgerGroup.GET("/balance/:variantId", h.GetBalance)
}

// ListLots returns lots for a purchase order or the available lots of a
// variant in FIFO order, depending on which query parameter is present.
func (h *LotsHandler) ListLots(c *gin.Context) {
	orderParam := c.Query("purchaseOrderId")
	variantParam := c.Query("variantId")

	var (
		result []lots.InventoryLot
		err    error
	)
	switch {
	case orderParam != "":
		orderID, ok := h.ParseID(c, "purchaseOrderId", orderParam)
		if !ok {
			return
		}
		result, err = h.lots.GetByOrder(c.Request.Context(), orderID)
	case variantParam != "":
		variantID, ok := h.ParseID(c, "variantId", variantParam)
		if !ok {
			return
		}
		result, err = h.lots.FindAvailable(c.Request.Context(), variantID)
	default:
		h.Error(c, apperror.NewValidation("purchaseOrderId or variantId is required"))
		return
	}
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.LotListResponse{Lots: make([]dto.LotResponse, 0, len(result))}
	for _, lot := range result {
		resp.Lots = append(resp.Lots, dto.NewLotResponse(lot))
	}

	h.OK(c, resp)
}

// GetMovements returns movement history for a variant.
func (h *LotsHandler) GetMovements(c *gin.Context) {
	variantID, ok := h.ParseID(c, "variantId", c.Query("variantId"))
	if !ok {
		return
	}

	filter := ledger.MovementFilter{
		Limit:  h.ParseIntQuery(c, "limit", 100),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}

	if raw := c.Query("recordType"); raw != "" {
		rt := entity.RecordType(raw)
		if rt != entity.RecordTypeReceipt && rt != entity.RecordTypeExpense {
			h.Error(c, apperror.NewValidation("invalid record type").WithDetail("recordType", raw))
			return
		}
		filter.RecordType = &rt
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid from date").WithDetail("from", raw))
			return
		}
		filter.FromDate = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid to date").WithDetail("to", raw))
			return
		}
		filter.ToDate = &to
	}

	movements, err := h.ledger.GetMovementHistory(c.Request.Context(), variantID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.MovementListResponse{Movements: make([]dto.MovementResponse, 0, len(movements))}
	for _, m := range movements {
		resp.Movements = append(resp.Movements, dto.MovementResponse{
			LineID:          m.LineID.String(),
			RecorderID:      m.RecorderID.String(),
			RecorderType:    m.RecorderType,
			RecorderVersion: m.RecorderVersion,
			Period:          m.Period.Format(time.RFC3339),
			RecordType:      string(m.RecordType),
			VariantID:       m.VariantID.String(),
			Quantity:        m.Quantity,
		})
	}

	h.OK(c, resp)
}

// GetBalance returns a variant's balance derived from the movement ledger.
func (h *LotsHandler) GetBalance(c *gin.Context) {
	variantID, ok := h.ParseID(c, "variantId", c.Param("variantId"))
	if !ok {
		return
	}

	balance, err := h.ledger.GetVariantBalance(c.Request.Context(), variantID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.BalanceResponse{
		VariantID: variantID.String(),
		Quantity:  balance,
	})
}
