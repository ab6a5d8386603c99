package jackpot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/core/fault"
	"github.com/vietddude/jackpotd/internal/infra/storage"
	"github.com/vietddude/jackpotd/internal/infra/storage/memory"
	"github.com/vietddude/jackpotd/internal/jackpot/metrics"
)

const testUserID = "3c6e0b8a-9c15-4b05-9d7b-625e8e2d10c1"

func ptrInt64(v int64) *int64 { return &v }

func ptrFloat64(v float64) *float64 { return &v }

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		Groups: map[domain.Group]domain.GroupConfig{
			domain.GroupMinor: {Rate: 0.02, SeedAmount: 10_000},
			domain.GroupMajor: {Rate: 0.005, SeedAmount: 100_000, MaxAmount: ptrInt64(500_000)},
			domain.GroupMega:  {Rate: 0.001, SeedAmount: 1_000_000},
		},
		Games: map[string][]domain.Group{
			"minor-only-slots": {domain.GroupMinor},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *memory.MemoryStore) {
	t.Helper()
	store := memory.NewMemoryStore()
	mgr := NewManager(store, testManagerConfig(), nil, nil)
	if err := mgr.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized failed: %v", err)
	}
	return mgr, store
}

func TestEnsureInitializedIdempotent(t *testing.T) {
	mgr, store := newTestManager(t)

	// Second call must not re-seed or duplicate pools.
	if err := mgr.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("second EnsureInitialized failed: %v", err)
	}

	pools, err := store.GetAllPools(context.Background())
	if err != nil {
		t.Fatalf("GetAllPools failed: %v", err)
	}
	if len(pools) != 3 {
		t.Fatalf("pool count = %d, want 3", len(pools))
	}
	for _, p := range pools {
		if p.CurrentAmount != p.SeedAmount {
			t.Errorf("%s CurrentAmount = %d, want seed %d", p.Group, p.CurrentAmount, p.SeedAmount)
		}
		if p.Version != 0 {
			t.Errorf("%s Version = %d, want 0", p.Group, p.Version)
		}
	}
}

func TestContributeFloorArithmetic(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name  string
		wager int64
		want  int64 // minor pool contribution at rate 0.02
	}{
		{"exact", 10_000, 200},
		{"floors fraction", 10_049, 200},
		{"one unit", 50, 1},
		{"below one unit", 49, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := mgr.Contribute(context.Background(),
				domain.NewOperationContext(""), "minor-only-slots", tt.wager)
			if err != nil {
				t.Fatalf("Contribute failed: %v", err)
			}
			if got := res.Contributions[domain.GroupMinor]; got != tt.want {
				t.Errorf("contribution = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestContributeFansOutToAllGroups(t *testing.T) {
	mgr, store := newTestManager(t)

	res, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "unmapped-game", 100_000)
	if err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}

	want := map[domain.Group]int64{
		domain.GroupMinor: 2_000, // 0.02
		domain.GroupMajor: 500,   // 0.005
		domain.GroupMega:  100,   // 0.001
	}
	var total int64
	for g, amount := range want {
		if got := res.Contributions[g]; got != amount {
			t.Errorf("%s contribution = %d, want %d", g, got, amount)
		}
		total += amount

		pool, _ := store.GetPool(context.Background(), g)
		if pool.Version != 1 {
			t.Errorf("%s Version = %d, want 1", g, pool.Version)
		}
		if pool.TotalContributions != amount {
			t.Errorf("%s TotalContributions = %d, want %d", g, pool.TotalContributions, amount)
		}
	}
	if res.TotalContribution != total {
		t.Errorf("TotalContribution = %d, want %d", res.TotalContribution, total)
	}
}

func TestContributeRespectsCap(t *testing.T) {
	mgr, store := newTestManager(t)

	// Major is seeded at 100_000 with a 500_000 cap. A huge wager must be
	// clamped to the remaining headroom.
	res, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "unmapped-game", 100_000_000_000)
	if err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}
	if got := res.Contributions[domain.GroupMajor]; got != 400_000 {
		t.Errorf("major contribution = %d, want headroom 400000", got)
	}

	pool, _ := store.GetPool(context.Background(), domain.GroupMajor)
	if pool.CurrentAmount != 500_000 {
		t.Errorf("major CurrentAmount = %d, want cap 500000", pool.CurrentAmount)
	}

	// At the cap the group is skipped entirely and its version stays put.
	res, err = mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "unmapped-game", 100_000_000_000)
	if err != nil {
		t.Fatalf("second Contribute failed: %v", err)
	}
	if _, ok := res.Contributions[domain.GroupMajor]; ok {
		t.Error("saturated major pool still received a contribution")
	}

	after, _ := store.GetPool(context.Background(), domain.GroupMajor)
	if after.Version != pool.Version {
		t.Errorf("saturated pool version moved: %d -> %d", pool.Version, after.Version)
	}
}

func TestContributeValidation(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name   string
		gameID string
		wager  int64
		code   fault.Code
	}{
		{"empty game", "", 100, fault.CodeValidationInvalidInput},
		{"zero wager", "slots", 0, fault.CodeValidationInvalidAmount},
		{"negative wager", "slots", -5, fault.CodeValidationInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Contribute(context.Background(),
				domain.NewOperationContext(""), tt.gameID, tt.wager)
			if !fault.IsCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

// rollbackOnceStore runs the first transaction to completion, discards its
// staged writes, and reports a transient failure, so the caller's retry sees
// a mutate whose earlier side effects were rolled back.
type rollbackOnceStore struct {
	storage.Store
	calls int
}

var errRollback = errors.New("rollback marker")

func (s *rollbackOnceStore) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	idx := s.calls
	s.calls++
	if idx > 0 {
		return s.Store.InTx(ctx, fn)
	}

	err := s.Store.InTx(ctx, func(tx storage.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errRollback
	})
	if errors.Is(err, errRollback) {
		return errors.New("could not serialize access due to concurrent update")
	}
	return err
}

func TestContributeRetryDoesNotDoubleCount(t *testing.T) {
	store := memory.NewMemoryStore()
	flaky := &rollbackOnceStore{Store: store}
	mgr := NewManager(flaky, testManagerConfig(), nil, nil)
	if err := mgr.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized failed: %v", err)
	}

	res, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "minor-only-slots", 10_000)
	if err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("store attempts = %d, want 2", flaky.calls)
	}

	// The rolled-back first attempt must leave no trace in the result.
	if res.TotalContribution != 200 {
		t.Errorf("TotalContribution = %d, want 200", res.TotalContribution)
	}
	if got := res.Contributions[domain.GroupMinor]; got != 200 {
		t.Errorf("minor contribution = %d, want 200", got)
	}
	if len(res.Contributions) != 1 {
		t.Errorf("contribution entries = %d, want 1", len(res.Contributions))
	}

	pool, _ := store.GetPool(context.Background(), domain.GroupMinor)
	if pool.CurrentAmount != 10_200 {
		t.Errorf("CurrentAmount = %d, want 10200", pool.CurrentAmount)
	}
}

func TestConcurrentContributionsLoseNothing(t *testing.T) {
	mgr, store := newTestManager(t)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Contribute(context.Background(),
				domain.NewOperationContext(""), "minor-only-slots", 10_000)
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Contribute failed: %v", err)
	}

	pool, _ := store.GetPool(context.Background(), domain.GroupMinor)
	want := int64(10_000 + workers*200)
	if pool.CurrentAmount != want {
		t.Errorf("CurrentAmount = %d, want %d (no lost updates)", pool.CurrentAmount, want)
	}
	if pool.Version != workers {
		t.Errorf("Version = %d, want %d", pool.Version, workers)
	}
}

func TestProcessWinFullPool(t *testing.T) {
	mgr, store := newTestManager(t)

	// Grow minor to 10_200 first.
	if _, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "minor-only-slots", 10_000); err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}

	win, err := mgr.ProcessWin(context.Background(),
		domain.NewOperationContext(""), domain.GroupMinor, "slots", testUserID, nil)
	if err != nil {
		t.Fatalf("ProcessWin failed: %v", err)
	}
	if win.Amount != 10_200 {
		t.Errorf("win Amount = %d, want 10200", win.Amount)
	}
	if win.PoolAfter != 0 {
		t.Errorf("PoolAfter = %d, want 0", win.PoolAfter)
	}
	if win.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 for a single-attempt win", win.RetryCount)
	}

	pool, _ := store.GetPool(context.Background(), domain.GroupMinor)
	if pool.CurrentAmount != 0 {
		t.Errorf("CurrentAmount = %d, want 0", pool.CurrentAmount)
	}
	if pool.TotalWins != 10_200 {
		t.Errorf("TotalWins = %d, want 10200", pool.TotalWins)
	}
	if pool.LastWonAmount == nil || *pool.LastWonAmount != 10_200 {
		t.Errorf("LastWonAmount = %v, want 10200", pool.LastWonAmount)
	}
	if pool.LastWonByUserID == nil || *pool.LastWonByUserID != testUserID {
		t.Errorf("LastWonByUserID = %v, want %s", pool.LastWonByUserID, testUserID)
	}
}

func TestProcessWinPartialAmount(t *testing.T) {
	mgr, store := newTestManager(t)

	win, err := mgr.ProcessWin(context.Background(),
		domain.NewOperationContext(""), domain.GroupMega, "slots", testUserID, ptrInt64(250_000))
	if err != nil {
		t.Fatalf("ProcessWin failed: %v", err)
	}
	if win.Amount != 250_000 {
		t.Errorf("win Amount = %d, want 250000", win.Amount)
	}
	if win.PoolAfter != 750_000 {
		t.Errorf("PoolAfter = %d, want 750000", win.PoolAfter)
	}

	pool, _ := store.GetPool(context.Background(), domain.GroupMega)
	if pool.CurrentAmount != 750_000 {
		t.Errorf("CurrentAmount = %d, want 750000", pool.CurrentAmount)
	}
}

func TestProcessWinExceedingBalanceRejected(t *testing.T) {
	mgr, store := newTestManager(t)

	before, _ := store.GetPool(context.Background(), domain.GroupMinor)

	_, err := mgr.ProcessWin(context.Background(),
		domain.NewOperationContext(""), domain.GroupMinor, "slots", testUserID,
		ptrInt64(before.CurrentAmount+1))
	if !fault.IsCode(err, fault.CodeInsufficientJackpotFunds) {
		t.Fatalf("error = %v, want INSUFFICIENT_JACKPOT_FUNDS", err)
	}

	after, _ := store.GetPool(context.Background(), domain.GroupMinor)
	if after.CurrentAmount != before.CurrentAmount {
		t.Errorf("rejected win changed balance: %d -> %d", before.CurrentAmount, after.CurrentAmount)
	}
	if after.Version != before.Version {
		t.Errorf("rejected win bumped version: %d -> %d", before.Version, after.Version)
	}
}

func TestProcessWinValidation(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name   string
		group  domain.Group
		gameID string
		userID string
		amount *int64
		code   fault.Code
	}{
		{"bad group", "grand", "slots", testUserID, nil, fault.CodeValidationInvalidGroup},
		{"empty game", domain.GroupMinor, "", testUserID, nil, fault.CodeValidationInvalidInput},
		{"non-uuid user", domain.GroupMinor, "slots", "user-42", nil, fault.CodeValidationInvalidInput},
		{"zero amount", domain.GroupMinor, "slots", testUserID, ptrInt64(0), fault.CodeValidationInvalidAmount},
		{"negative amount", domain.GroupMinor, "slots", testUserID, ptrInt64(-1), fault.CodeValidationInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ProcessWin(context.Background(),
				domain.NewOperationContext(""), tt.group, tt.gameID, tt.userID, tt.amount)
			if !fault.IsCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestUpdateConfigAppliesAndTakesEffect(t *testing.T) {
	mgr, store := newTestManager(t)

	err := mgr.UpdateConfig(context.Background(), domain.NewOperationContext(""),
		map[domain.Group]domain.ConfigPatch{
			domain.GroupMinor: {Rate: ptrFloat64(0.05)},
		})
	if err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	pool, _ := store.GetPool(context.Background(), domain.GroupMinor)
	if pool.ContributionRate != 0.05 {
		t.Errorf("ContributionRate = %v, want 0.05", pool.ContributionRate)
	}
	if pool.Version != 1 {
		t.Errorf("Version = %d, want 1", pool.Version)
	}

	// The new rate applies to subsequent contributions.
	res, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "minor-only-slots", 10_000)
	if err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}
	if got := res.Contributions[domain.GroupMinor]; got != 500 {
		t.Errorf("contribution = %d, want 500 at new rate", got)
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name  string
		patch map[domain.Group]domain.ConfigPatch
		code  fault.Code
	}{
		{"empty patch", nil, fault.CodeValidationInvalidInput},
		{"unknown group", map[domain.Group]domain.ConfigPatch{
			"grand": {Rate: ptrFloat64(0.1)},
		}, fault.CodeValidationInvalidGroup},
		{"rate above one", map[domain.Group]domain.ConfigPatch{
			domain.GroupMinor: {Rate: ptrFloat64(1.5)},
		}, fault.CodeConfigurationInvalid},
		{"negative rate", map[domain.Group]domain.ConfigPatch{
			domain.GroupMinor: {Rate: ptrFloat64(-0.1)},
		}, fault.CodeConfigurationInvalid},
		{"zero seed", map[domain.Group]domain.ConfigPatch{
			domain.GroupMinor: {SeedAmount: ptrInt64(0)},
		}, fault.CodeConfigurationInvalid},
		{"cap below seed", map[domain.Group]domain.ConfigPatch{
			domain.GroupMinor: {MaxAmount: ptrInt64(5_000)},
		}, fault.CodeConfigurationInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.UpdateConfig(context.Background(),
				domain.NewOperationContext(""), tt.patch)
			if !fault.IsCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestResetPoolRestoresSeed(t *testing.T) {
	mgr, _ := newTestManager(t)

	if _, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "minor-only-slots", 1_000_000); err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}

	pool, err := mgr.ResetPool(context.Background(),
		domain.NewOperationContext(""), domain.GroupMinor)
	if err != nil {
		t.Fatalf("ResetPool failed: %v", err)
	}
	if pool.CurrentAmount != pool.SeedAmount {
		t.Errorf("CurrentAmount = %d, want seed %d", pool.CurrentAmount, pool.SeedAmount)
	}
}

func TestFundConservation(t *testing.T) {
	mgr, store := newTestManager(t)

	for range 10 {
		if _, err := mgr.Contribute(context.Background(),
			domain.NewOperationContext(""), "unmapped-game", 37_123); err != nil {
			t.Fatalf("Contribute failed: %v", err)
		}
	}
	if _, err := mgr.ProcessWin(context.Background(),
		domain.NewOperationContext(""), domain.GroupMinor, "slots", testUserID, nil); err != nil {
		t.Fatalf("ProcessWin failed: %v", err)
	}

	// seed + total contributions - total wins must equal the live balance
	// for every pool.
	pools, _ := store.GetAllPools(context.Background())
	for _, p := range pools {
		want := p.SeedAmount + p.TotalContributions - p.TotalWins
		if p.CurrentAmount != want {
			t.Errorf("%s balance = %d, want %d (seed %d + contrib %d - wins %d)",
				p.Group, p.CurrentAmount, want, p.SeedAmount, p.TotalContributions, p.TotalWins)
		}
		if p.CurrentAmount < 0 {
			t.Errorf("%s balance went negative: %d", p.Group, p.CurrentAmount)
		}
	}
}

func TestContributionHistoryRecorded(t *testing.T) {
	mgr, store := newTestManager(t)

	opCtx := domain.NewOperationContext("corr-1")
	if _, err := mgr.Contribute(context.Background(), opCtx, "minor-only-slots", 10_000); err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}

	recs, err := store.Contributions(context.Background(), domain.GroupMinor, 10)
	if err != nil {
		t.Fatalf("Contributions failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("record count = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Amount != 200 || rec.Wager != 10_000 {
		t.Errorf("record = {Amount: %d, Wager: %d}, want {200, 10000}", rec.Amount, rec.Wager)
	}
	if rec.BalanceAt != 10_200 {
		t.Errorf("BalanceAt = %d, want 10200", rec.BalanceAt)
	}
	if rec.OpID != opCtx.OperationID {
		t.Errorf("OpID = %q, want %q", rec.OpID, opCtx.OperationID)
	}
}

func TestStatsCoversAllGroups(t *testing.T) {
	mgr, _ := newTestManager(t)

	stats, err := mgr.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("stats count = %d, want 3", len(stats))
	}
	for _, g := range domain.Groups {
		s, ok := stats[g]
		if !ok {
			t.Errorf("missing stats for %s", g)
			continue
		}
		if s.CurrentAmount != s.SeedAmount {
			t.Errorf("%s CurrentAmount = %d, want seed %d", g, s.CurrentAmount, s.SeedAmount)
		}
	}
}

func TestGetPoolUsesCache(t *testing.T) {
	store := memory.NewMemoryStore()
	cache := &fakeCache{pools: make(map[domain.Group]*domain.Pool)}
	mgr := NewManager(store, testManagerConfig(), cache, nil)
	if err := mgr.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized failed: %v", err)
	}

	// First read misses the cache and populates it.
	if _, err := mgr.GetPool(context.Background(), domain.GroupMinor); err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}

	// Second read is served from the cache and still refreshes the
	// balance gauge from the cached snapshot.
	cache.pools[domain.GroupMinor].CurrentAmount = 12_345
	if _, err := mgr.GetPool(context.Background(), domain.GroupMinor); err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}
	gauge := metrics.PoolBalance.WithLabelValues(string(domain.GroupMinor))
	if got := testutil.ToFloat64(gauge); got != 12_345 {
		t.Errorf("balance gauge = %g, want 12345 from cached snapshot", got)
	}

	// Contributions invalidate the snapshot.
	if _, err := mgr.Contribute(context.Background(),
		domain.NewOperationContext(""), "minor-only-slots", 10_000); err != nil {
		t.Fatalf("Contribute failed: %v", err)
	}
	if _, ok := cache.pools[domain.GroupMinor]; ok {
		t.Error("contribution did not invalidate cached snapshot")
	}
}

type fakeCache struct {
	pools map[domain.Group]*domain.Pool
	hits  int
	sets  int
}

func (c *fakeCache) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	if p, ok := c.pools[group]; ok {
		c.hits++
		return p, nil
	}
	return nil, nil
}

func (c *fakeCache) SetPool(ctx context.Context, pool *domain.Pool) error {
	c.sets++
	c.pools[pool.Group] = pool
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, group domain.Group) error {
	delete(c.pools, group)
	return nil
}
