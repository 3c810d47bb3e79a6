// Package rpc serves the ledger over gRPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ledgerv1 "github.com/example/doint-ledger/api/ledgerv1"
	"github.com/example/doint-ledger/internal/amount"
	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/security"
	"github.com/example/doint-ledger/pkg/audit"
)

// Ledger is the slice of *ledger.Ledger the service calls.
type Ledger interface {
	BankInfo(ctx context.Context) (ledger.Bank, error)
	SetTaxRate(ctx context.Context, rate int) bool
	SetUBIRate(ctx context.Context, rate int) bool
	CalculateFee(ctx context.Context, amt amount.Amount) (amount.Amount, error)
	ExecuteTransfer(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error)
	CollectTaxes(ctx context.Context) (amount.Amount, error)
	DisperseUBI(ctx context.Context) (amount.Amount, bool, error)
	ConservationReport(ctx context.Context) (ledger.ConservationReport, error)
	Enroll(ctx context.Context, id uint64) (bool, error)
	Unenroll(ctx context.Context, id uint64) (amount.Amount, error)
	User(ctx context.Context, id uint64) (ledger.User, error)
	Leaderboard(ctx context.Context, limit int, ascending bool) ([]ledger.User, error)
}

// LedgerService implements ledgerv1.LedgerServiceServer.
type LedgerService struct {
	ledgerv1.UnimplementedLedgerServiceServer

	ledger   Ledger
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewLedgerService creates the gRPC service. A nil recorder discards
// audit events.
func NewLedgerService(l Ledger, recorder audit.Recorder, logger *slog.Logger) *LedgerService {
	if recorder == nil {
		recorder = audit.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{ledger: l, recorder: recorder, logger: logger.With("component", "grpc")}
}

func (s *LedgerService) GetBank(ctx context.Context, _ *ledgerv1.GetBankRequest) (*ledgerv1.BankResponse, error) {
	b, err := s.ledger.BankInfo(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ledgerv1.BankResponse{
		DointsOnHand: b.OnHand.String(),
		TotalDoints:  b.Total.String(),
		TaxRate:      int32(b.TaxRate),
		UBIRate:      int32(b.UBIRate),
		Display:      b.OnHand.Display(),
	}, nil
}

func (s *LedgerService) SetTaxRate(ctx context.Context, req *ledgerv1.SetRateRequest) (*ledgerv1.SetRateResponse, error) {
	ok := s.ledger.SetTaxRate(ctx, int(req.Rate))
	s.record(ctx, "set_tax_rate", map[string]any{"rate": req.Rate, "accepted": ok})
	return &ledgerv1.SetRateResponse{Accepted: ok, Rate: req.Rate}, nil
}

func (s *LedgerService) SetUBIRate(ctx context.Context, req *ledgerv1.SetRateRequest) (*ledgerv1.SetRateResponse, error) {
	ok := s.ledger.SetUBIRate(ctx, int(req.Rate))
	s.record(ctx, "set_ubi_rate", map[string]any{"rate": req.Rate, "accepted": ok})
	return &ledgerv1.SetRateResponse{Accepted: ok, Rate: req.Rate}, nil
}

func (s *LedgerService) CalculateFee(ctx context.Context, req *ledgerv1.CalculateFeeRequest) (*ledgerv1.CalculateFeeResponse, error) {
	amt, err := amount.Parse(req.Amount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}
	fee, err := s.ledger.CalculateFee(ctx, amt)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ledgerv1.CalculateFeeResponse{Fee: fee.String()}, nil
}

func (s *LedgerService) Transfer(ctx context.Context, req *ledgerv1.TransferRequest) (*ledgerv1.TransferResponse, error) {
	t, err := transferFromRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	receipt, err := s.ledger.ExecuteTransfer(ctx, t)
	if err != nil {
		var party *ledger.InvalidPartyError
		if errors.As(err, &party) && party.FeeCharged.IsPositive() {
			s.record(ctx, "fee_only_charge", map[string]any{
				"sender":      t.Sender().String(),
				"recipient":   t.Recipient().String(),
				"fee_charged": party.FeeCharged.String(),
			})
		}
		return nil, toStatus(err)
	}

	resp := &ledgerv1.TransferResponse{
		JournalID:  receipt.JournalID.String(),
		Sender:     receipt.Sender.String(),
		Recipient:  receipt.Recipient.String(),
		AmountSent: receipt.AmountSent.String(),
		Reason:     receipt.Reason.String(),
	}
	if receipt.FeePaid != nil {
		resp.FeePaid = receipt.FeePaid.String()
	}
	s.record(ctx, "transfer", resp)
	return resp, nil
}

func transferFromRequest(req *ledgerv1.TransferRequest) (ledger.Transfer, error) {
	sender, err := ledger.ParseParty(req.Sender)
	if err != nil {
		return ledger.Transfer{}, status.Errorf(codes.InvalidArgument, "invalid sender: %v", err)
	}
	recipient, err := ledger.ParseParty(req.Recipient)
	if err != nil {
		return ledger.Transfer{}, status.Errorf(codes.InvalidArgument, "invalid recipient: %v", err)
	}
	amt, err := amount.Parse(req.Amount)
	if err != nil {
		return ledger.Transfer{}, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}
	reason, err := ledger.ParseReason(req.Reason, req.Note)
	if err != nil {
		return ledger.Transfer{}, status.Errorf(codes.InvalidArgument, "invalid reason: %v", err)
	}
	return ledger.NewTransfer(sender, recipient, amt, req.ApplyFees, reason)
}

func (s *LedgerService) CollectTaxes(ctx context.Context, _ *ledgerv1.CollectTaxesRequest) (*ledgerv1.CollectTaxesResponse, error) {
	collected, err := s.ledger.CollectTaxes(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ledgerv1.CollectTaxesResponse{Collected: collected.String()}
	s.record(ctx, "collect_taxes", resp)
	return resp, nil
}

func (s *LedgerService) DisperseUBI(ctx context.Context, _ *ledgerv1.DisperseUBIRequest) (*ledgerv1.DisperseUBIResponse, error) {
	share, paid, err := s.ledger.DisperseUBI(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ledgerv1.DisperseUBIResponse{Share: share.String(), Paid: paid}
	s.record(ctx, "disperse_ubi", resp)
	return resp, nil
}

func (s *LedgerService) AuditConservation(ctx context.Context, _ *ledgerv1.AuditConservationRequest) (*ledgerv1.AuditConservationResponse, error) {
	report, err := s.ledger.ConservationReport(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if !report.IsValid() {
		s.logger.ErrorContext(ctx, "conservation leak detected",
			"leak", report.Leak.String(), "drift", report.Drift().String())
	}
	return &ledgerv1.AuditConservationResponse{
		Leak:     report.Leak.String(),
		Expected: report.Expected.String(),
		Actual:   report.Actual.String(),
		Message:  report.Message(),
	}, nil
}

func (s *LedgerService) Enroll(ctx context.Context, req *ledgerv1.EnrollRequest) (*ledgerv1.EnrollResponse, error) {
	if err := checkUserID(req.UserID); err != nil {
		return nil, err
	}
	created, err := s.ledger.Enroll(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	if created {
		s.record(ctx, "enroll", map[string]any{"user_id": req.UserID})
	}
	return &ledgerv1.EnrollResponse{Created: created}, nil
}

func (s *LedgerService) Unenroll(ctx context.Context, req *ledgerv1.UnenrollRequest) (*ledgerv1.UnenrollResponse, error) {
	if err := checkUserID(req.UserID); err != nil {
		return nil, err
	}
	refunded, err := s.ledger.Unenroll(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ledgerv1.UnenrollResponse{Refunded: refunded.String()}
	s.record(ctx, "unenroll", map[string]any{"user_id": req.UserID, "refunded": resp.Refunded})
	return resp, nil
}

func (s *LedgerService) GetUser(ctx context.Context, req *ledgerv1.GetUserRequest) (*ledgerv1.UserResponse, error) {
	if err := checkUserID(req.UserID); err != nil {
		return nil, err
	}
	u, err := s.ledger.User(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return userResponse(u), nil
}

func (s *LedgerService) Leaderboard(ctx context.Context, req *ledgerv1.LeaderboardRequest) (*ledgerv1.LeaderboardResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	users, err := s.ledger.Leaderboard(ctx, int(req.Limit), req.Ascending)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ledgerv1.LeaderboardResponse{Users: make([]*ledgerv1.UserResponse, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, userResponse(u))
	}
	return resp, nil
}

func userResponse(u ledger.User) *ledgerv1.UserResponse {
	return &ledgerv1.UserResponse{UserID: u.ID, Balance: u.Balance.String(), Display: u.Balance.Display()}
}

func checkUserID(id uint64) error {
	if id > math.MaxInt64 {
		return status.Errorf(codes.InvalidArgument, "user_id %d out of range", id)
	}
	return nil
}

// record appends to the audit trail. A failing trail is logged, never
// surfaced, because the ledger change has already committed.
func (s *LedgerService) record(ctx context.Context, kind string, data any) {
	actor := ""
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		actor = p.ClientID
	}
	_, err := s.recorder.Append(audit.Event{
		Kind:          kind,
		Actor:         actor,
		CorrelationID: security.CorrelationIDFromContext(ctx),
		Data:          data,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to append audit entry", "kind", kind, "error", err)
	}
}

// toStatus maps ledger errors onto gRPC codes. Errors that already carry a
// status pass through.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch ledger.KindOf(err) {
	case ledger.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case ledger.KindInsufficientFunds:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ledger.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case ledger.KindUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
}
