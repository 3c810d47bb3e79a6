package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type insufficientFundsDetail struct {
	Party     string `json:"party"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Available string `json:"available"`
}

type invalidPartyDetail struct {
	Party      string `json:"party"`
	FeeCharged string `json:"fee_charged,omitempty"`
}

// writeLedgerError maps a ledger failure onto a status and error code.
// Refused transfers carry enough detail for the caller to explain them.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		funds *ledger.InsufficientFundsError
		party *ledger.InvalidPartyError
	)
	switch {
	case errors.As(err, &funds):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, "insufficient_funds", insufficientFundsDetail{
			Party:     funds.Party.String(),
			Amount:    funds.Amount.String(),
			Fee:       funds.Fee.String(),
			Available: funds.Available.String(),
		})
		return
	case errors.As(err, &party):
		d := invalidPartyDetail{Party: party.Party.String()}
		if party.FeeCharged.IsPositive() {
			d.FeeCharged = party.FeeCharged.String()
		}
		security.WriteJSONErrorDetail(w, r, http.StatusNotFound, "invalid_party", d)
		return
	}

	switch ledger.KindOf(err) {
	case ledger.KindInvalid:
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case ledger.KindInsufficientFunds:
		security.WriteJSONError(w, r, http.StatusConflict, "insufficient_funds")
	case ledger.KindNotFound:
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	case ledger.KindUnavailable:
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			security.WriteJSONError(w, r, http.StatusGatewayTimeout, "timeout")
			return
		}
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
