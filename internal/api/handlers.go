package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/doint-ledger/internal/amount"
	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/scheduler"
	"github.com/example/doint-ledger/internal/security"
	"github.com/example/doint-ledger/pkg/audit"
)

type bankResponse struct {
	CorrelationID string `json:"correlation_id"`
	ledger.Bank
	Display string `json:"display"`
}

type feesResponse struct {
	CorrelationID string `json:"correlation_id"`
	ledger.FeeSchedule
}

type quoteResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Amount        amount.Amount `json:"amount"`
	Fee           amount.Amount `json:"fee"`
	Total         amount.Amount `json:"total"`
}

type transferRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	ApplyFees bool   `json:"apply_fees"`
	Reason    string `json:"reason"`
	Note      string `json:"note"`
}

type transferResponse struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	JournalID     string         `json:"journal_id"`
	Sender        ledger.Party   `json:"sender"`
	Recipient     ledger.Party   `json:"recipient"`
	AmountSent    amount.Amount  `json:"amount_sent"`
	FeePaid       *amount.Amount `json:"fee_paid,omitempty"`
	Reason        string         `json:"reason"`
}

type userResponse struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	ID            uint64        `json:"id"`
	Balance       amount.Amount `json:"bal"`
	Display       string        `json:"display"`
}

type enrollResponse struct {
	CorrelationID string `json:"correlation_id"`
	UserID        uint64 `json:"user_id"`
	Created       bool   `json:"created"`
}

type unenrollResponse struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	UserID        uint64        `json:"user_id"`
	Refunded      amount.Amount `json:"refunded"`
}

type leaderboardResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Order         string         `json:"order"`
	Users         []userResponse `json:"users"`
}

type journalResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Entries       []ledger.JournalEntry `json:"entries"`
}

type conservationResponse struct {
	CorrelationID string `json:"correlation_id"`
	ledger.ConservationReport
	Drift   amount.Amount `json:"drift"`
	Message string        `json:"message"`
}

type rateRequest struct {
	Rate int `json:"rate"`
}

type rateResponse struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Kind          string `json:"kind"`
	Rate          int    `json:"rate"`
}

type feeScheduleRequest struct {
	FlatFee       string `json:"flat_fee"`
	PercentageFee int    `json:"percentage_fee"`
}

type mintRequest struct {
	Amount string `json:"amount"`
}

type mintResponse struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	Minted        amount.Amount `json:"minted"`
	TotalDoints   amount.Amount `json:"total_doints"`
	DointsOnHand  amount.Amount `json:"doints_on_hand"`
}

type taxesResponse struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	Collected     amount.Amount `json:"collected"`
}

type ubiResponse struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	Share         amount.Amount `json:"share"`
	Paid          bool          `json:"paid"`
}

type dailyResponse struct {
	CorrelationID string `json:"correlation_id"`
	scheduler.DailyResult
}

func handleReady(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Ledger.Ping(ctx); err != nil {
			deps.Logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleGetBank(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Ledger.BankInfo(r.Context())
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, bankResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Bank:          b,
			Display:       b.OnHand.Display(),
		})
	}
}

func handleGetFees(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Ledger.FeeSchedule(r.Context())
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, feesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			FeeSchedule:   s,
		})
	}
}

func handleQuoteFee(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		amt, err := amount.Parse(r.URL.Query().Get("amount"))
		if err != nil || amt.IsNegative() {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
			return
		}
		fee, err := deps.Ledger.CalculateFee(r.Context(), amt)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, quoteResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Amount:        amt,
			Fee:           fee,
			Total:         amt.Add(fee),
		})
	}
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		t, field, err := req.transfer()
		if err != nil {
			if field != "" {
				security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error",
					[]security.FieldError{{Field: field, Message: err.Error()}})
				return
			}
			writeLedgerError(w, r, err)
			return
		}

		receipt, err := deps.Ledger.ExecuteTransfer(r.Context(), t)
		if err != nil {
			var party *ledger.InvalidPartyError
			if errors.As(err, &party) && party.FeeCharged.IsPositive() {
				record(r, deps, "fee_only_charge", map[string]any{
					"sender":      t.Sender().String(),
					"recipient":   t.Recipient().String(),
					"fee_charged": party.FeeCharged.String(),
				})
			}
			writeLedgerError(w, r, err)
			return
		}

		resp := transferResponse{
			JournalID:  receipt.JournalID.String(),
			Sender:     receipt.Sender,
			Recipient:  receipt.Recipient,
			AmountSent: receipt.AmountSent,
			FeePaid:    receipt.FeePaid,
			Reason:     receipt.Reason.String(),
		}
		record(r, deps, "transfer", resp)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusCreated, resp)
	}
}

// transfer builds a ledger transfer. field names the offending request
// field for parse failures; rule violations come back with field empty.
func (req transferRequest) transfer() (ledger.Transfer, string, error) {
	sender, err := ledger.ParseParty(req.Sender)
	if err != nil {
		return ledger.Transfer{}, "/sender", err
	}
	recipient, err := ledger.ParseParty(req.Recipient)
	if err != nil {
		return ledger.Transfer{}, "/recipient", err
	}
	amt, err := amount.Parse(req.Amount)
	if err != nil {
		return ledger.Transfer{}, "/amount", err
	}
	reason, err := ledger.ParseReason(req.Reason, req.Note)
	if err != nil {
		return ledger.Transfer{}, "/reason", err
	}
	t, err := ledger.NewTransfer(sender, recipient, amt, req.ApplyFees, reason)
	return t, "", err
}

func handleGetUser(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := userIDParam(w, r)
		if !ok {
			return
		}
		u, err := deps.Ledger.User(r.Context(), id)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		resp := toUserResponse(u)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleEnroll(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := userIDParam(w, r)
		if !ok {
			return
		}
		created, err := deps.Ledger.Enroll(r.Context(), id)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
			record(r, deps, "enroll", map[string]any{"user_id": id})
		}
		writeJSON(w, r, status, enrollResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			UserID:        id,
			Created:       created,
		})
	}
}

func handleUnenroll(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := userIDParam(w, r)
		if !ok {
			return
		}
		refunded, err := deps.Ledger.Unenroll(r.Context(), id)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		resp := unenrollResponse{UserID: id, Refunded: refunded}
		record(r, deps, "unenroll", resp)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleLeaderboard(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := limitParam(w, r)
		if !ok {
			return
		}
		order := r.URL.Query().Get("order")
		switch order {
		case "":
			order = "desc"
		case "asc", "desc":
		default:
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_order")
			return
		}

		users, err := deps.Ledger.Leaderboard(r.Context(), limit, order == "asc")
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		resp := leaderboardResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Order:         order,
			Users:         make([]userResponse, 0, len(users)),
		}
		for _, u := range users {
			resp.Users = append(resp.Users, toUserResponse(u))
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleJournal(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := limitParam(w, r)
		if !ok {
			return
		}
		entries, err := deps.Ledger.Journal(r.Context(), limit)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		if entries == nil {
			entries = []ledger.JournalEntry{}
		}
		writeJSON(w, r, http.StatusOK, journalResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Entries:       entries,
		})
	}
}

func handleConservation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Ledger.ConservationReport(r.Context())
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		if !report.IsValid() {
			deps.Logger.ErrorContext(r.Context(), "conservation leak detected",
				"leak", report.Leak.String(), "drift", report.Drift().String())
		}
		writeJSON(w, r, http.StatusOK, conservationResponse{
			CorrelationID:      security.CorrelationIDFromContext(r.Context()),
			ConservationReport: report,
			Drift:              report.Drift(),
			Message:            report.Message(),
		})
	}
}

func handleSetRate(deps Dependencies, kind ledger.RateKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Rate < 0 || req.Rate > amount.MaxRate {
			security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "invalid_rate",
				[]security.FieldError{{Field: "/rate", Message: "must be between 0 and " + strconv.Itoa(amount.MaxRate)}})
			return
		}

		set := deps.Ledger.SetTaxRate
		if kind == ledger.UBIRate {
			set = deps.Ledger.SetUBIRate
		}
		if !set(r.Context(), req.Rate) {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		resp := rateResponse{Kind: kind.String(), Rate: req.Rate}
		record(r, deps, "set_"+kind.String(), resp)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleSetFees(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feeScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		flat, err := amount.Parse(req.FlatFee)
		if err != nil {
			security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error",
				[]security.FieldError{{Field: "/flat_fee", Message: err.Error()}})
			return
		}

		s := ledger.FeeSchedule{FlatFee: flat, PercentageFee: req.PercentageFee}
		if err := deps.Ledger.SetFeeSchedule(r.Context(), s); err != nil {
			writeLedgerError(w, r, err)
			return
		}
		record(r, deps, "set_fee_schedule", s)
		writeJSON(w, r, http.StatusOK, feesResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			FeeSchedule:   s,
		})
	}
}

func handleMint(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mintRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		amt, err := amount.Parse(req.Amount)
		if err != nil {
			security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error",
				[]security.FieldError{{Field: "/amount", Message: err.Error()}})
			return
		}

		b, err := deps.Ledger.Mint(r.Context(), amt)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		resp := mintResponse{Minted: amt, TotalDoints: b.Total, DointsOnHand: b.OnHand}
		record(r, deps, "mint", resp)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleCollectTaxes(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collected, err := deps.Ledger.CollectTaxes(r.Context())
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		resp := taxesResponse{Collected: collected}
		record(r, deps, "collect_taxes", resp)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleDisperseUBI(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		share, paid, err := deps.Ledger.DisperseUBI(r.Context())
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		resp := ubiResponse{Share: share, Paid: paid}
		record(r, deps, "disperse_ubi", resp)
		resp.CorrelationID = security.CorrelationIDFromContext(r.Context())
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleRunDaily(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "scheduler_unavailable")
			return
		}
		res, err := deps.Jobs.RunDaily(r.Context())
		if err != nil {
			deps.Logger.ErrorContext(r.Context(), "daily job failed", "error", err)
			writeLedgerError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.Skipped {
			status = http.StatusAccepted
		}
		writeJSON(w, r, status, dailyResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			DailyResult:   res,
		})
	}
}

func handleRunHourly(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "scheduler_unavailable")
			return
		}
		report, err := deps.Jobs.RunHourly(r.Context())
		if err != nil {
			deps.Logger.ErrorContext(r.Context(), "hourly job failed", "error", err)
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, conservationResponse{
			CorrelationID:      security.CorrelationIDFromContext(r.Context()),
			ConservationReport: report,
			Drift:              report.Drift(),
			Message:            report.Message(),
		})
	}
}

func toUserResponse(u ledger.User) userResponse {
	return userResponse{ID: u.ID, Balance: u.Balance, Display: u.Balance.Display()}
}

// userIDParam reads {id}. Ids must fit a signed 64-bit column.
func userIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 63)
	if err != nil {
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_user_id")
		return 0, false
	}
	return id, true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_limit")
		return 0, false
	}
	return limit, true
}

// record appends to the audit trail after a committed change. A failing
// trail is logged and never fails the request.
func record(r *http.Request, deps Dependencies, kind string, data any) {
	actor := ""
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		actor = p.ClientID
	}
	_, err := deps.Recorder.Append(audit.Event{
		Kind:          kind,
		Actor:         actor,
		CorrelationID: security.CorrelationIDFromContext(r.Context()),
		Data:          data,
	})
	if err != nil {
		deps.Logger.ErrorContext(r.Context(), "failed to append audit entry", "kind", kind, "error", err)
	}
}
