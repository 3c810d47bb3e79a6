package scheduler

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/example/doint-ledger/internal/amount"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/pkg/audit"
)

// RunnerIntegrationSuite drives the jobs against a real sqlite ledger and
// a miniredis lock.
type RunnerIntegrationSuite struct {
	suite.Suite
	ctx    context.Context
	db     *sql.DB
	store  *ledger.SQLiteStore
	ledger *ledger.Ledger
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	trail  *audit.Trail
	sink   *syncBuffer
	runner *Runner
}

// SetupTest gives every test a fresh ledger and lock server
func (s *RunnerIntegrationSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	s.Require().NoError(err)
	db.SetMaxOpenConns(1)
	s.db = db
	s.store = ledger.NewSQLiteStore(db)
	s.Require().NoError(s.store.Migrate(s.ctx))
	s.ledger = ledger.New(s.store, quietLogger())

	s.mr = miniredis.RunT(s.T())
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})

	s.sink = &syncBuffer{}
	s.trail = audit.NewTrail(s.sink)
	s.runner = NewRunner(s.ledger, &RedisLocker{Redis: s.rdb, Prefix: "doint"}, s.trail, quietLogger(), testOptions())
}

func (s *RunnerIntegrationSuite) TearDownTest() {
	s.rdb.Close()
	s.store.Close()
}

// seed mints supply and pays each listed user from the bank.
func (s *RunnerIntegrationSuite) seed(supply int64, balances map[uint64]int64) {
	_, err := s.ledger.Mint(s.ctx, amount.New(supply))
	s.Require().NoError(err)
	for id, bal := range balances {
		_, err := s.ledger.Enroll(s.ctx, id)
		s.Require().NoError(err)
		if bal == 0 {
			continue
		}
		tr, err := ledger.NewTransfer(ledger.BankParty(), ledger.UserParty(id), amount.New(bal), false, ledger.CasinoWin)
		s.Require().NoError(err)
		_, err = s.ledger.ExecuteTransfer(s.ctx, tr)
		s.Require().NoError(err)
	}
}

func (s *RunnerIntegrationSuite) balance(id uint64) string {
	u, err := s.ledger.User(s.ctx, id)
	s.Require().NoError(err)
	return u.Balance.String()
}

func (s *RunnerIntegrationSuite) trailKinds() []string {
	entries, err := audit.ReadEntries(bytes.NewReader(s.sink.bytes()))
	s.Require().NoError(err)
	s.True(audit.VerifyChain(entries))
	kinds := make([]string, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// TestDailyJobConservesSupply tests one full tax and UBI cycle
func (s *RunnerIntegrationSuite) TestDailyJobConservesSupply() {
	s.seed(1000, map[uint64]int64{1: 100, 2: 100, 3: 100})
	s.Require().True(s.ledger.SetTaxRate(s.ctx, 100))
	s.Require().True(s.ledger.SetUBIRate(s.ctx, 100))

	res, err := s.runner.RunDaily(s.ctx)
	s.Require().NoError(err)
	s.False(res.Skipped)
	s.False(res.Rerun)
	s.True(res.Paid)
	s.Equal("30", res.Collected.String())
	s.Equal("24.33", res.Share.String())

	for _, id := range []uint64{1, 2, 3} {
		s.Equal("114.33", s.balance(id))
	}
	bank, err := s.ledger.BankBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal("657.01", bank.String())

	leak, err := s.ledger.AuditConservation(s.ctx)
	s.Require().NoError(err)
	s.Equal(ledger.LeakNone, leak)
	s.Equal([]string{"daily_job"}, s.trailKinds())
}

// TestDailyJobRerunsWhenBankIsShort tests the second tax pass when the
// bank cannot cover one doint per user
func (s *RunnerIntegrationSuite) TestDailyJobRerunsWhenBankIsShort() {
	users := make(map[uint64]int64)
	for id := uint64(1); id <= 20; id++ {
		users[id] = 0
	}
	s.seed(10, users)
	s.Require().True(s.ledger.SetTaxRate(s.ctx, 10))
	s.Require().True(s.ledger.SetUBIRate(s.ctx, 1000))

	res, err := s.runner.RunDaily(s.ctx)
	s.Require().NoError(err)
	s.True(res.Rerun)
	s.False(res.Paid)
	s.True(res.Collected.IsZero())

	bank, err := s.ledger.BankBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal("10", bank.String())
}

// TestDailyJobSkipsWhileLocked tests that a second process backs off
func (s *RunnerIntegrationSuite) TestDailyJobSkipsWhileLocked() {
	s.seed(1000, map[uint64]int64{1: 100})
	s.Require().True(s.ledger.SetTaxRate(s.ctx, 100))

	s.Require().NoError(s.mr.Set("doint:"+dailyLockKey, "other-process"))

	res, err := s.runner.RunDaily(s.ctx)
	s.Require().NoError(err)
	s.True(res.Skipped)
	s.Equal("100", s.balance(1))
	s.Empty(s.trailKinds())

	s.mr.Del("doint:" + dailyLockKey)

	res, err = s.runner.RunDaily(s.ctx)
	s.Require().NoError(err)
	s.False(res.Skipped)
	s.Equal("90", s.balance(1))
}

// TestHourlyAuditDetectsLeak tests that an out-of-band edit surfaces in
// the hourly report without failing the job
func (s *RunnerIntegrationSuite) TestHourlyAuditDetectsLeak() {
	s.seed(1000, map[uint64]int64{1: 250})

	report, err := s.runner.RunHourly(s.ctx)
	s.Require().NoError(err)
	s.True(report.IsValid())
	s.Equal("1000", report.Expected.String())

	_, err = s.db.ExecContext(s.ctx, "UPDATE users SET bal = '200' WHERE id = 1")
	s.Require().NoError(err)

	report, err = s.runner.RunHourly(s.ctx)
	s.Require().NoError(err)
	s.Equal(ledger.LeakTooFew, report.Leak)
	s.Equal("950", report.Actual.String())
	s.Equal([]string{"conservation_audit", "conservation_audit"}, s.trailKinds())
}

func TestRunnerIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RunnerIntegrationSuite))
}
