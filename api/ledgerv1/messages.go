package ledgerv1

// Amounts travel as decimal strings ("1234.5") so no precision is lost on
// the wire. Parties are "bank" or "user:<id>".

type GetBankRequest struct{}

type BankResponse struct {
	DointsOnHand string `json:"doints_on_hand"`
	TotalDoints  string `json:"total_doints"`
	TaxRate      int32  `json:"tax_rate"`
	UBIRate      int32  `json:"ubi_rate"`
	Display      string `json:"display,omitempty"`
}

type SetRateRequest struct {
	Rate int32 `json:"rate"`
}

type SetRateResponse struct {
	Accepted bool  `json:"accepted"`
	Rate     int32 `json:"rate"`
}

type CalculateFeeRequest struct {
	Amount string `json:"amount"`
}

type CalculateFeeResponse struct {
	Fee string `json:"fee"`
}

type TransferRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	ApplyFees bool   `json:"apply_fees"`
	Reason    string `json:"reason"`
	Note      string `json:"note,omitempty"`
}

type TransferResponse struct {
	JournalID  string `json:"journal_id"`
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	AmountSent string `json:"amount_sent"`
	// FeePaid is empty when fees were not applied.
	FeePaid string `json:"fee_paid,omitempty"`
	Reason  string `json:"reason"`
}

type CollectTaxesRequest struct{}

type CollectTaxesResponse struct {
	Collected string `json:"collected"`
}

type DisperseUBIRequest struct{}

type DisperseUBIResponse struct {
	Share string `json:"share"`
	// Paid is false when the bank could not afford the payout.
	Paid bool `json:"paid"`
}

type AuditConservationRequest struct{}

type AuditConservationResponse struct {
	Leak     string `json:"leak"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Message  string `json:"message"`
}

type EnrollRequest struct {
	UserID uint64 `json:"user_id"`
}

type EnrollResponse struct {
	Created bool `json:"created"`
}

type UnenrollRequest struct {
	UserID uint64 `json:"user_id"`
}

type UnenrollResponse struct {
	Refunded string `json:"refunded"`
}

type GetUserRequest struct {
	UserID uint64 `json:"user_id"`
}

type UserResponse struct {
	UserID  uint64 `json:"user_id"`
	Balance string `json:"balance"`
	Display string `json:"display,omitempty"`
}

type LeaderboardRequest struct {
	Limit     int32 `json:"limit"`
	Ascending bool  `json:"ascending"`
}

type LeaderboardResponse struct {
	Users []*UserResponse `json:"users"`
}
