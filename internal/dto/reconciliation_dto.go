package dto

// ReconciliationSummary aggregates the outcome of a repair run.
// Unresolvable rows are counted, never raised.
type ReconciliationSummary struct {
	Repaired int `json:"repaired"`
	Skipped  int `json:"skipped"`
}
