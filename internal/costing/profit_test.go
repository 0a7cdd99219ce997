package costing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserv/fieldserv/internal/workorder"
)

func orderWith(status workorder.Status, contract *string) *workorder.WorkOrder {
	wo := &workorder.WorkOrder{
		ID:     uuid.New(),
		Number: "WO-3001",
		Status: status,
	}
	if contract != nil {
		total := decimal.RequireFromString(*contract)
		wo.ContractTotal = &total
	}
	return wo
}

func strPtr(s string) *string { return &s }

func TestReconciliationLowMargin(t *testing.T) {
	wo := orderWith(workorder.StatusCompleted, strPtr("1000.00"))
	totals := SumLedger([]CostEntry{entry(BucketLabor, "950.00")})

	recon := BuildReconciliation(wo, totals)
	assert.Equal(t, "50.00", recon.EstimatedMargin.StringFixed(2))
	assert.InDelta(t, 5.0, recon.MarginPct, 0.0001)
	assert.Equal(t, MarginLow, recon.MarginStatus)
	assert.Contains(t, recon.Warnings, "Low margin: 5.0%")
}

func TestReconciliationOverBudget(t *testing.T) {
	wo := orderWith(workorder.StatusCompleted, strPtr("1000.00"))
	totals := SumLedger([]CostEntry{entry(BucketMaterial, "1050.00")})

	recon := BuildReconciliation(wo, totals)
	assert.Equal(t, "-50.00", recon.EstimatedMargin.StringFixed(2))
	assert.Equal(t, MarginNegative, recon.MarginStatus)
	assert.Contains(t, recon.Warnings, "Over budget by $50.00")
}

func TestReconciliationPositiveMargin(t *testing.T) {
	wo := orderWith(workorder.StatusClosed, strPtr("1000.00"))
	totals := SumLedger([]CostEntry{entry(BucketLabor, "600.00")})

	recon := BuildReconciliation(wo, totals)
	assert.Equal(t, MarginPositive, recon.MarginStatus)
	assert.InDelta(t, 40.0, recon.MarginPct, 0.0001)
	assert.Empty(t, recon.Warnings)
}

func TestReconciliationMarginBoundaryAtTenPct(t *testing.T) {
	wo := orderWith(workorder.StatusCompleted, strPtr("1000.00"))

	recon := BuildReconciliation(wo, SumLedger([]CostEntry{entry(BucketLabor, "900.00")}))
	assert.Equal(t, MarginPositive, recon.MarginStatus, "exactly 10%% is positive")

	recon = BuildReconciliation(wo, SumLedger([]CostEntry{entry(BucketLabor, "900.01")}))
	assert.Equal(t, MarginLow, recon.MarginStatus)
}

func TestReconciliationWarnsOnMissingContract(t *testing.T) {
	wo := orderWith(workorder.StatusInProgress, nil)
	recon := BuildReconciliation(wo, SumLedger([]CostEntry{entry(BucketLabor, "100.00")}))

	assert.Contains(t, recon.Warnings, "No contract total set")
	assert.True(t, recon.ContractTotal.IsZero())
	assert.Equal(t, float64(0), recon.MarginPct)
}

func TestReconciliationWarnsOnNoCosts(t *testing.T) {
	wo := orderWith(workorder.StatusInProgress, strPtr("500.00"))
	recon := BuildReconciliation(wo, LedgerTotals{})
	assert.Contains(t, recon.Warnings, "No costs captured yet")

	unscheduled := orderWith(workorder.StatusUnscheduled, strPtr("500.00"))
	recon = BuildReconciliation(unscheduled, LedgerTotals{})
	assert.NotContains(t, recon.Warnings, "No costs captured yet")
}

func TestPreviewIsEstimateUntilClosed(t *testing.T) {
	totals := SumLedger([]CostEntry{entry(BucketLabor, "400.00")})

	open := BuildPreview(orderWith(workorder.StatusInProgress, strPtr("1000.00")), totals)
	assert.True(t, open.IsEstimate)
	assert.Contains(t, open.Warnings, "Work order not closed; figures are an estimate")

	closed := BuildPreview(orderWith(workorder.StatusClosed, strPtr("1000.00")), totals)
	assert.False(t, closed.IsEstimate)
	assert.NotContains(t, closed.Warnings, "Work order not closed; figures are an estimate")
}

func TestPreviewNumbers(t *testing.T) {
	totals := SumLedger([]CostEntry{
		entry(BucketLabor, "300.00"),
		entry(BucketMaterial, "200.00"),
	})
	preview := BuildPreview(orderWith(workorder.StatusCompleted, strPtr("1000.00")), totals)

	assert.Equal(t, "1000.00", preview.Revenue.StringFixed(2))
	assert.Equal(t, "500.00", preview.Cost.StringFixed(2))
	assert.Equal(t, "500.00", preview.Profit.StringFixed(2))
	assert.InDelta(t, 50.0, preview.MarginPct, 0.0001)
	assert.Equal(t, MarginPositive, preview.MarginStatus)
}

func TestSummaryFoldsPreviews(t *testing.T) {
	previews := []ProfitPreview{
		BuildPreview(orderWith(workorder.StatusClosed, strPtr("1000.00")), SumLedger([]CostEntry{entry(BucketLabor, "600.00")})),
		BuildPreview(orderWith(workorder.StatusClosed, strPtr("500.00")), SumLedger([]CostEntry{entry(BucketSub, "550.00")})),
		BuildPreview(orderWith(workorder.StatusCompleted, strPtr("2000.00")), SumLedger([]CostEntry{entry(BucketMaterial, "1500.00")})),
	}

	summary := SummarizeProfit(previews)
	require.Equal(t, "3500.00", summary.TotalRevenue.StringFixed(2))
	assert.Equal(t, "2650.00", summary.TotalCost.StringFixed(2))
	assert.Equal(t, "850.00", summary.TotalProfit.StringFixed(2))
	assert.Equal(t, 2, summary.ProfitableCount)
	assert.Equal(t, 1, summary.LossCount)
	assert.InDelta(t, 850.0/3500.0*100, summary.AverageMarginPct, 0.0001)
}

func TestSummaryEmpty(t *testing.T) {
	summary := SummarizeProfit(nil)
	assert.True(t, summary.TotalRevenue.IsZero())
	assert.Equal(t, float64(0), summary.AverageMarginPct)
	assert.Zero(t, summary.ProfitableCount)
	assert.Zero(t, summary.LossCount)
}
