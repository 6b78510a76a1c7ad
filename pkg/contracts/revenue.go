package contracts

// RevenueEvent is an unvalidated claim that a party earned Amount (minor units)
// from a source transaction. Validators never mutate it; they return a
// corrected copy.
type RevenueEvent struct {
	EarningPartyID      string `json:"earning_party_id"`
	Amount              int64  `json:"amount"`
	OriginRegion        string `json:"origin_region"`
	SourceTransactionID string `json:"source_transaction_id"`
}
