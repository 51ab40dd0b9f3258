package brigade

// SkipCandidate is a stock transaction mutation withheld from a push because
// an order CREATE in the same batch will perform the identical inventory
// deduction server-side. Its final status depends on how the order fares.
type SkipCandidate struct {
	Record        MutationRecord
	OrderRecordID string
}

// Resolution partitions a drained batch into the mutations to transmit and
// the stock transactions to withhold.
type Resolution struct {
	Send  []MutationRecord
	Skips []SkipCandidate
}

// ResolveIdempotency scans a batch for stock transaction CREATEs whose
// referenceId names an order CREATE in the same batch. Creating an order
// already deducts inventory on the server, so sending both would deduct
// twice. Withheld transactions are only settled once the order's own push
// outcome is known; the resolver itself never drops anything.
//
// An empty referenceId never matches any order. Relative order of the sent
// mutations is preserved.
func ResolveIdempotency(batch []MutationRecord) Resolution {
	orderCreates := make(map[string]bool)
	for _, rec := range batch {
		if rec.EntityType == EntityOrders && rec.Action == ActionCreate {
			orderCreates[rec.RecordID] = true
		}
	}

	var res Resolution
	for _, rec := range batch {
		if rec.EntityType == EntityStockTransactions && rec.Action == ActionCreate {
			if tx, ok := rec.Payload.(*StockTransactionPayload); ok {
				if tx.ReferenceID != "" && orderCreates[tx.ReferenceID] {
					res.Skips = append(res.Skips, SkipCandidate{
						Record:        rec,
						OrderRecordID: tx.ReferenceID,
					})
					continue
				}
			}
		}
		res.Send = append(res.Send, rec)
	}
	return res
}
