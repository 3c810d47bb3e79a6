// Package api serves the ledger as a JSON REST API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/doint-ledger/internal/amount"
	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/scheduler"
	"github.com/example/doint-ledger/internal/security"
	"github.com/example/doint-ledger/pkg/audit"
)

// Ledger is the slice of *ledger.Ledger the HTTP handlers call.
type Ledger interface {
	BankInfo(ctx context.Context) (ledger.Bank, error)
	SetTaxRate(ctx context.Context, rate int) bool
	SetUBIRate(ctx context.Context, rate int) bool
	CalculateFee(ctx context.Context, amt amount.Amount) (amount.Amount, error)
	FeeSchedule(ctx context.Context) (ledger.FeeSchedule, error)
	SetFeeSchedule(ctx context.Context, s ledger.FeeSchedule) error
	ExecuteTransfer(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error)
	CollectTaxes(ctx context.Context) (amount.Amount, error)
	DisperseUBI(ctx context.Context) (amount.Amount, bool, error)
	ConservationReport(ctx context.Context) (ledger.ConservationReport, error)
	Enroll(ctx context.Context, id uint64) (bool, error)
	Unenroll(ctx context.Context, id uint64) (amount.Amount, error)
	User(ctx context.Context, id uint64) (ledger.User, error)
	Leaderboard(ctx context.Context, limit int, ascending bool) ([]ledger.User, error)
	Mint(ctx context.Context, amt amount.Amount) (ledger.Bank, error)
	Journal(ctx context.Context, limit int) ([]ledger.JournalEntry, error)
	Ping(ctx context.Context) error
}

// Jobs runs the periodic jobs on demand.
type Jobs interface {
	RunDaily(ctx context.Context) (scheduler.DailyResult, error)
	RunHourly(ctx context.Context) (ledger.ConservationReport, error)
}

type Dependencies struct {
	Logger *slog.Logger
	Ledger Ledger
	Jobs   Jobs

	// Validator checks bearer tokens. With AllowAnonymous set and no
	// validator every caller is an anonymous admin.
	Validator      *auth.Validator
	AllowAnonymous bool

	Recorder       audit.Recorder
	RateLimiter    *security.RedisTokenBucket
	AdminAllowlist []netip.Prefix
	MaxBodyBytes   int64
}

const anonymousClient = "anonymous"

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Discard
	}

	transferV, err := security.NewJSONSchemaValidator("transfer", transferSchema, deps.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	rateV, err := security.NewJSONSchemaValidator("rate", rateSchema, deps.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	feesV, err := security.NewJSONSchemaValidator("fee_schedule", feeScheduleSchema, deps.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	mintV, err := security.NewJSONSchemaValidator("mint", mintSchema, deps.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	authenticate := auth.Authenticate(deps.Validator, onAuthError)
	if deps.Validator == nil && deps.AllowAnonymous {
		authenticate = auth.AllowAll(anonymousClient)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", handleReady(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(authenticate)
		if deps.RateLimiter != nil {
			r.Use(security.RateLimitMiddleware(deps.RateLimiter, principalKey))
		}
		r.Use(AuditMiddleware(deps.Recorder, deps.Logger))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeRead, onAuthError))
			r.Get("/bank", handleGetBank(deps))
			r.Get("/fees", handleGetFees(deps))
			r.Get("/fees/quote", handleQuoteFee(deps))
			r.Get("/users/{id}", handleGetUser(deps))
			r.Get("/leaderboard", handleLeaderboard(deps))
			r.Get("/journal", handleJournal(deps))
			r.Get("/audit/conservation", handleConservation(deps))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeWrite, onAuthError))
			r.With(transferV.Middleware).Post("/transfers", handleTransfer(deps))
			r.Put("/users/{id}", handleEnroll(deps))
			r.Delete("/users/{id}", handleUnenroll(deps))
		})

		r.Group(func(r chi.Router) {
			r.Use(security.IPAllowlist(deps.AdminAllowlist))
			r.Use(auth.RequireScope(auth.ScopeAdmin, onAuthError))
			r.With(rateV.Middleware).Put("/bank/tax-rate", handleSetRate(deps, ledger.TaxRate))
			r.With(rateV.Middleware).Put("/bank/ubi-rate", handleSetRate(deps, ledger.UBIRate))
			r.With(mintV.Middleware).Post("/bank/mint", handleMint(deps))
			r.With(feesV.Middleware).Put("/fees", handleSetFees(deps))
			r.Post("/jobs/taxes", handleCollectTaxes(deps))
			r.Post("/jobs/ubi", handleDisperseUBI(deps))
			r.Post("/jobs/daily", handleRunDaily(deps))
			r.Post("/jobs/hourly", handleRunHourly(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
