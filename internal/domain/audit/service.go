// Package audit reconciles the lot ledger against the movement ledger and
// flags structural corruption. All checks are read-only.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/lots"
	"lotledger/pkg/logger"
)

// VariantFlag reports a per-variant finding.
type VariantFlag struct {
	VariantID id.ID `json:"variantId"`

	// LotQuantity is the remaining quantity summed over the variant's lots.
	LotQuantity int64 `json:"lotQuantity"`

	// LedgerQuantity is the balance derived from the movement ledger.
	// Only meaningful for discrepancy flags.
	LedgerQuantity int64 `json:"ledgerQuantity"`
}

// LotFlag reports one structurally corrupt lot.
type LotFlag struct {
	LotID           id.ID `json:"lotId"`
	PurchaseOrderID id.ID `json:"purchaseOrderId"`
	VariantID       id.ID `json:"variantId"`
	QtyReceived     int64 `json:"qtyReceived"`
	QtyRemaining    int64 `json:"qtyRemaining"`
}

// Report is the reconciliation outcome. A variant can legitimately appear
// in more than one section; findings are reported, never repaired.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`

	// NegativeStock lists variants whose summed remaining quantity is
	// below zero.
	NegativeStock []VariantFlag `json:"negativeStock"`

	// Discrepancies lists variants where the lot ledger and the movement
	// ledger disagree on the current balance.
	Discrepancies []VariantFlag `json:"discrepancies"`

	// CorruptLots lists lots violating 0 <= qty_remaining <= qty_received.
	CorruptLots []LotFlag `json:"corruptLots"`

	Clean bool `json:"clean"`
}

// Service runs the reconciliation pass.
type Service struct {
	lots      lots.Store
	ledger    ledger.Repository
	txManager tx.ReadOnlyManager
}

// NewService creates a new audit service.
func NewService(lotStore lots.Store, ledgerRepo ledger.Repository, txManager tx.ReadOnlyManager) *Service {
	return &Service{
		lots:      lotStore,
		ledger:    ledgerRepo,
		txManager: txManager,
	}
}

// Run produces a reconciliation report from a single read-only snapshot,
// so the three checks observe the same state.
func (s *Service) Run(ctx context.Context) (Report, error) {
	report := Report{GeneratedAt: time.Now().UTC()}

	err := s.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		remaining, err := s.lots.SumRemainingByVariant(ctx)
		if err != nil {
			return fmt.Errorf("sum lot quantities: %w", err)
		}

		balances, err := s.ledger.BalancesFromMovements(ctx)
		if err != nil {
			return fmt.Errorf("derive ledger balances: %w", err)
		}

		report.NegativeStock, report.Discrepancies = reconcile(remaining, balances)

		corrupt, err := s.lots.FindCorrupt(ctx)
		if err != nil {
			return fmt.Errorf("find corrupt lots: %w", err)
		}
		for _, lot := range corrupt {
			report.CorruptLots = append(report.CorruptLots, LotFlag{
				LotID:           lot.ID,
				PurchaseOrderID: lot.PurchaseOrderID,
				VariantID:       lot.VariantID,
				QtyReceived:     lot.QtyReceived,
				QtyRemaining:    lot.QtyRemaining,
			})
		}

		return nil
	})
	if err != nil {
		return Report{}, err
	}

	report.Clean = len(report.NegativeStock) == 0 &&
		len(report.Discrepancies) == 0 &&
		len(report.CorruptLots) == 0

	logger.Info(ctx, "audit pass completed",
		"negative_stock", len(report.NegativeStock),
		"discrepancies", len(report.Discrepancies),
		"corrupt_lots", len(report.CorruptLots),
		"clean", report.Clean,
	)

	return report, nil
}

// reconcile compares the two ledgers over the union of their variants.
// A variant present in only one source still counts: zero is a valid
// balance on the other side.
func reconcile(remaining []lots.VariantRemaining, balances []entity.VariantBalance) (negative, discrepant []VariantFlag) {
	lotQty := make(map[id.ID]int64, len(remaining))
	for _, r := range remaining {
		lotQty[r.VariantID] = r.Quantity
	}
	ledgerQty := make(map[id.ID]int64, len(balances))
	for _, b := range balances {
		ledgerQty[b.VariantID] = b.Quantity
	}

	seen := make(map[id.ID]struct{}, len(lotQty)+len(ledgerQty))
	variants := make([]id.ID, 0, len(lotQty)+len(ledgerQty))
	for v := range lotQty {
		seen[v] = struct{}{}
		variants = append(variants, v)
	}
	for v := range ledgerQty {
		if _, ok := seen[v]; !ok {
			variants = append(variants, v)
		}
	}
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].String() < variants[j].String()
	})

	for _, v := range variants {
		flag := VariantFlag{
			VariantID:      v,
			LotQuantity:    lotQty[v],
			LedgerQuantity: ledgerQty[v],
		}
		if flag.LotQuantity < 0 {
			negative = append(negative, flag)
		}
		if flag.LotQuantity != flag.LedgerQuantity {
			discrepant = append(discrepant, flag)
		}
	}

	return negative, discrepant
}
