package costing

// SumLedger aggregates cost entries into bucket totals plus a grand total.
// Entries arrive with parsed buckets, so every amount lands in exactly one
// bucket.
func SumLedger(entries []CostEntry) LedgerTotals {
	var totals LedgerTotals
	for _, entry := range entries {
		switch entry.Bucket {
		case BucketLabor:
			totals.Labor = totals.Labor.Add(entry.Amount)
		case BucketMaterial:
			totals.Material = totals.Material.Add(entry.Amount)
		case BucketEquipment:
			totals.Equipment = totals.Equipment.Add(entry.Amount)
		case BucketSub:
			totals.Sub = totals.Sub.Add(entry.Amount)
		case BucketOverhead:
			totals.Overhead = totals.Overhead.Add(entry.Amount)
		case BucketOther:
			totals.Other = totals.Other.Add(entry.Amount)
		}
		totals.Total = totals.Total.Add(entry.Amount)
	}
	return totals
}
