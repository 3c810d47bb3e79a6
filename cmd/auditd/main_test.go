package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/doint-ledger/internal/amount"
	"github.com/example/doint-ledger/internal/config"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/rpc"
	"github.com/example/doint-ledger/pkg/audit"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// seedLedger writes a migrated sqlite ledger with 1000 minted and user 1
// holding 250.
func seedLedger(t *testing.T) (string, *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := ledger.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	l := ledger.New(store, quiet)
	_, err = l.Mint(ctx, amount.New(1000))
	require.NoError(t, err)
	_, err = l.Enroll(ctx, 1)
	require.NoError(t, err)
	tr, err := ledger.NewTransfer(ledger.BankParty(), ledger.UserParty(1), amount.New(250), false, ledger.CasinoWin)
	require.NoError(t, err)
	_, err = l.ExecuteTransfer(ctx, tr)
	require.NoError(t, err)
	return path, l
}

func runAudit(t *testing.T, cfg *config.AuditorConfig) (int, report) {
	t.Helper()
	var out bytes.Buffer
	code, err := run(context.Background(), cfg, &out, quiet)
	require.NoError(t, err)
	var rep report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	return code, rep
}

func localConfig(path string) *config.AuditorConfig {
	return &config.AuditorConfig{Database: config.DatabaseConfig{Driver: "sqlite3", URL: path}}
}

// TestRun_Local tests a clean audit straight from the database.
func TestRun_Local(t *testing.T) {
	path, _ := seedLedger(t)

	code, rep := runAudit(t, localConfig(path))
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "none", rep.Leak)
	assert.Equal(t, "1000", rep.Expected)
	assert.Equal(t, "1000", rep.Actual)
	assert.Nil(t, rep.Trail)
}

// TestRun_Leak tests that a balance edited behind the ledger's back is
// reported with its own exit code.
func TestRun_Leak(t *testing.T) {
	path, _ := seedLedger(t)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE users SET bal = '300' WHERE id = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	code, rep := runAudit(t, localConfig(path))
	assert.Equal(t, exitLeak, code)
	assert.Equal(t, "too_many", rep.Leak)
	assert.Equal(t, "1050", rep.Actual)
}

// TestRun_Trail tests hash chain verification of the receipt trail.
func TestRun_Trail(t *testing.T) {
	path, _ := seedLedger(t)
	trailPath := filepath.Join(t.TempDir(), "trail.jsonl")

	trail, closer, err := audit.OpenFile(trailPath)
	require.NoError(t, err)
	for _, kind := range []string{"mint", "enroll", "transfer"} {
		_, err := trail.Append(audit.Event{Kind: kind, Actor: "test", Data: map[string]string{"k": kind}})
		require.NoError(t, err)
	}
	require.NoError(t, closer.Close())

	cfg := localConfig(path)
	cfg.TrailFile = trailPath
	code, rep := runAudit(t, cfg)
	assert.Equal(t, exitOK, code)
	require.NotNil(t, rep.Trail)
	assert.Equal(t, 3, rep.Trail.Entries)
	assert.True(t, rep.Trail.Intact)

	raw, err := os.ReadFile(trailPath)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"k":"enroll"`), []byte(`"k":"forged"`), 1)
	require.NoError(t, os.WriteFile(trailPath, tampered, 0o600))

	code, rep = runAudit(t, cfg)
	assert.Equal(t, exitBrokenTrail, code)
	assert.False(t, rep.Trail.Intact)
}

// TestRun_Remote tests auditing a running server over gRPC.
func TestRun_Remote(t *testing.T) {
	_, l := seedLedger(t)

	srv, _ := rpc.NewServer(rpc.NewLedgerService(l, nil, quiet), rpc.ServerOptions{Logger: quiet, AllowAnonymous: true})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	code, rep := runAudit(t, &config.AuditorConfig{LedgerAddr: lis.Addr().String()})
	assert.Equal(t, exitOK, code)
	assert.Equal(t, lis.Addr().String(), rep.Source)
	assert.Equal(t, "none", rep.Leak)
	assert.Equal(t, "1000", rep.Expected)
}

// TestRun_Unreachable tests that a missing database is a plain failure.
func TestRun_Unreachable(t *testing.T) {
	cfg := localConfig(filepath.Join(t.TempDir(), "missing", "ledger.db"))
	code, err := run(context.Background(), cfg, io.Discard, quiet)
	assert.Equal(t, exitFailure, code)
	assert.Error(t, err)
}
