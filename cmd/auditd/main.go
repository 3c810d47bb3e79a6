// Command auditd runs one conservation audit and, when a trail file is
// configured, verifies its hash chain. It exits 2 on a leak and 3 on a
// broken trail so cron and CI can alert on either.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	ledgerv1 "github.com/example/doint-ledger/api/ledgerv1"
	"github.com/example/doint-ledger/internal/config"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/logging"
	"github.com/example/doint-ledger/internal/security"
	"github.com/example/doint-ledger/pkg/audit"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitLeak        = 2
	exitBrokenTrail = 3
)

const auditTimeout = 30 * time.Second

// report is printed to stdout as one JSON document.
type report struct {
	Source   string       `json:"source"`
	Leak     string       `json:"leak"`
	Expected string       `json:"expected"`
	Actual   string       `json:"actual"`
	Message  string       `json:"message"`
	Trail    *trailReport `json:"trail,omitempty"`
}

type trailReport struct {
	File    string `json:"file"`
	Entries int    `json:"entries"`
	Intact  bool   `json:"intact"`
}

func main() {
	cfg, err := config.LoadAuditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitFailure)
	}
	logger := logging.NewWithWriter(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, cfg, os.Stdout, logger)
	if err != nil {
		logger.Error("audit failed", "error", err)
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.AuditorConfig, out io.Writer, logger *slog.Logger) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	var (
		rep report
		err error
	)
	if cfg.Remote() {
		rep, err = auditRemote(ctx, cfg)
	} else {
		rep, err = auditLocal(ctx, cfg, logger)
	}
	if err != nil {
		return exitFailure, err
	}

	if cfg.TrailFile != "" {
		tr, err := verifyTrail(cfg.TrailFile)
		if err != nil {
			return exitFailure, err
		}
		rep.Trail = tr
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return exitFailure, fmt.Errorf("failed to write report: %w", err)
	}

	switch {
	case rep.Leak != ledger.LeakNone.String():
		logger.Error("conservation leak detected", "leak", rep.Leak, "message", rep.Message)
		return exitLeak, nil
	case rep.Trail != nil && !rep.Trail.Intact:
		logger.Error("audit trail failed verification", "file", rep.Trail.File)
		return exitBrokenTrail, nil
	}
	logger.Info("audit passed", "source", rep.Source, "expected", rep.Expected)
	return exitOK, nil
}

func auditLocal(ctx context.Context, cfg *config.AuditorConfig, logger *slog.Logger) (report, error) {
	store, err := ledger.OpenStore(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return report{}, err
	}
	defer store.Close()

	r, err := ledger.New(store, logger).ConservationReport(ctx)
	if err != nil {
		return report{}, fmt.Errorf("failed to audit %s store: %w", cfg.Database.Driver, err)
	}
	return report{
		Source:   cfg.Database.Driver,
		Leak:     r.Leak.String(),
		Expected: r.Expected.String(),
		Actual:   r.Actual.String(),
		Message:  r.Message(),
	}, nil
}

func auditRemote(ctx context.Context, cfg *config.AuditorConfig) (report, error) {
	creds := insecure.NewCredentials()
	if cfg.TLS.CAFile != "" || cfg.TLS.Enabled() {
		tlsCfg, err := security.LoadClientTLSConfig(security.TLSFiles{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
			CAFile:   cfg.TLS.CAFile,
		})
		if err != nil {
			return report{}, fmt.Errorf("failed to load client TLS config: %w", err)
		}
		if cfg.ServerName != "" {
			tlsCfg.ServerName = cfg.ServerName
		}
		creds = credentials.NewTLS(tlsCfg)
	}

	conn, err := grpc.NewClient(cfg.LedgerAddr,
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return report{}, fmt.Errorf("failed to dial %s: %w", cfg.LedgerAddr, err)
	}
	defer conn.Close()

	if cfg.Token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+cfg.Token)
	}
	resp, err := ledgerv1.NewLedgerServiceClient(conn).AuditConservation(ctx, &ledgerv1.AuditConservationRequest{})
	if err != nil {
		return report{}, fmt.Errorf("failed to audit %s: %w", cfg.LedgerAddr, err)
	}
	return report{
		Source:   cfg.LedgerAddr,
		Leak:     resp.Leak,
		Expected: resp.Expected,
		Actual:   resp.Actual,
		Message:  resp.Message,
	}, nil
}

func verifyTrail(path string) (*trailReport, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &trailReport{File: path, Intact: true}, nil
		}
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer f.Close()

	entries, err := audit.ReadEntries(f)
	if err != nil {
		return &trailReport{File: path}, nil
	}
	return &trailReport{File: path, Entries: len(entries), Intact: audit.VerifyChain(entries)}, nil
}
