package costing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fieldserv/fieldserv/internal/workorder"
)

// lowMarginThresholdPct separates low from positive margins.
const lowMarginThresholdPct = 10.0

func contractTotalOf(wo *workorder.WorkOrder) decimal.Decimal {
	if wo.ContractTotal == nil {
		return decimal.Zero
	}
	return *wo.ContractTotal
}

func marginPct(margin, contract decimal.Decimal) float64 {
	if !contract.IsPositive() {
		return 0
	}
	pct, _ := margin.Div(contract).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func classifyMargin(pct float64) MarginStatus {
	switch {
	case pct < 0:
		return MarginNegative
	case pct < lowMarginThresholdPct:
		return MarginLow
	default:
		return MarginPositive
	}
}

// BuildReconciliation composes ledger totals with the contract total into
// the authoritative cost view. Pure; the service supplies the fetched data.
func BuildReconciliation(wo *workorder.WorkOrder, totals LedgerTotals) Reconciliation {
	contract := contractTotalOf(wo)
	margin := contract.Sub(totals.Total)
	pct := marginPct(margin, contract)
	status := classifyMargin(pct)

	var warnings []string
	if contract.IsZero() {
		warnings = append(warnings, "No contract total set")
	}
	switch status {
	case MarginNegative:
		warnings = append(warnings, fmt.Sprintf("Over budget by $%s", margin.Abs().StringFixed(2)))
	case MarginLow:
		warnings = append(warnings, fmt.Sprintf("Low margin: %.1f%%", pct))
	}
	if totals.Total.IsZero() && wo.Status != workorder.StatusUnscheduled {
		warnings = append(warnings, "No costs captured yet")
	}

	return Reconciliation{
		WorkOrderID:     wo.ID,
		WorkOrderNumber: wo.Number,
		ContractTotal:   contract,
		ActualCosts:     totals,
		EstimatedMargin: margin,
		MarginPct:       pct,
		MarginStatus:    status,
		Warnings:        warnings,
	}
}

// BuildPreview produces the advisory pre-close profitability view. The
// numbers are marked as estimates until the work order is CLOSED.
func BuildPreview(wo *workorder.WorkOrder, totals LedgerTotals) ProfitPreview {
	contract := contractTotalOf(wo)
	profit := contract.Sub(totals.Total)
	pct := marginPct(profit, contract)

	var warnings []string
	if contract.IsZero() {
		warnings = append(warnings, "No contract total set")
	}
	isEstimate := wo.Status != workorder.StatusClosed
	if isEstimate {
		warnings = append(warnings, "Work order not closed; figures are an estimate")
	}
	if totals.Total.IsZero() {
		warnings = append(warnings, "No costs captured yet")
	}

	return ProfitPreview{
		WorkOrderID:  wo.ID,
		Revenue:      contract,
		Cost:         totals.Total,
		Profit:       profit,
		MarginPct:    pct,
		MarginStatus: classifyMargin(pct),
		IsEstimate:   isEstimate,
		Warnings:     warnings,
	}
}

// SummarizeProfit folds per-order previews into an aggregate. It re-derives
// nothing: revenue and cost come straight from each preview.
func SummarizeProfit(previews []ProfitPreview) ProfitSummary {
	var summary ProfitSummary
	for _, p := range previews {
		summary.TotalRevenue = summary.TotalRevenue.Add(p.Revenue)
		summary.TotalCost = summary.TotalCost.Add(p.Cost)
		summary.TotalProfit = summary.TotalProfit.Add(p.Profit)
		if p.Profit.IsNegative() {
			summary.LossCount++
		} else {
			summary.ProfitableCount++
		}
	}
	if summary.TotalRevenue.IsPositive() {
		pct, _ := summary.TotalProfit.Div(summary.TotalRevenue).Mul(decimal.NewFromInt(100)).Float64()
		summary.AverageMarginPct = pct
	}
	return summary
}
