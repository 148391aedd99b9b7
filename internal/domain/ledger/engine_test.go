package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/discount"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseSQLite(db) })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

func newTestEngine(t *testing.T, db *sqlx.DB, uow UnitOfWork, notifier Notifier) *Engine {
	t.Helper()
	if uow == nil {
		uow = NewUnitOfWork(db)
	}
	return NewEngine(uow, account.NewRepository(db), NewTransactionLog(db), notifier, Config{
		MaxRetries: 3,
		OpTimeout:  5 * time.Second,
		Discount:   discount.DefaultPolicy(),
	})
}

func openAccount(t *testing.T, db *sqlx.DB) uuid.UUID {
	t.Helper()
	svc := account.NewService(account.NewRepository(db))
	a, err := svc.Open(context.Background(), &account.OpenRequest{DisplayName: "Test Member"})
	require.NoError(t, err)
	return a.ID
}

func fund(t *testing.T, e *Engine, id uuid.UUID, amount int64) {
	t.Helper()
	_, err := e.Earn(context.Background(), id, amount, "seed", CategoryAdjustment)
	require.NoError(t, err)
}

func requireConsistent(t *testing.T, e *Engine, id uuid.UUID) *AuditReport {
	t.Helper()
	report, err := e.Verify(context.Background(), id)
	require.NoError(t, err)
	require.True(t, report.Consistent, "audit divergence: %+v", report.Divergence)
	return report
}

func TestEarnCreditsBalanceAndLogsTransaction(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()

	receipt, err := e.Earn(ctx, id, 50, "recycle-1", CategoryRecycling)
	require.NoError(t, err)

	assert.Equal(t, int64(50), receipt.Balance)
	assert.Equal(t, int64(1), receipt.TotalEarnedActivities)
	assert.Equal(t, KindEarn, receipt.Transaction.Kind)
	assert.Equal(t, int64(50), receipt.Transaction.ResultingBalance)
	assert.Positive(t, receipt.Transaction.ID)

	txs, err := e.History(ctx, id, ListOptions{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "recycle-1", txs[0].Reference)
	assert.Equal(t, int64(50), txs[0].ResultingBalance)

	requireConsistent(t, e, id)
}

func TestSpendRejectsInsufficientBalanceWithoutSideEffects(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()
	fund(t, e, id, 50)

	_, err := e.Spend(ctx, id, 100, "item-X", CategoryPurchase)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, CodeInsufficientBalance, Code(err))

	a, err := e.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.Balance)

	txs, err := e.History(ctx, id, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestPurchaseChargesDiscountedPriceFromPreSpendBalance(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	fund(t, e, id, 120)

	receipt, err := e.Purchase(context.Background(), id, decimal.NewFromInt(100), "item-X")
	require.NoError(t, err)

	assert.Equal(t, int64(12), receipt.DiscountPercent)
	assert.Equal(t, int64(88), receipt.Charged)
	assert.Equal(t, int64(88), receipt.Transaction.Amount)
	assert.Equal(t, int64(32), receipt.Balance)
	assert.Equal(t, CategoryPurchase, receipt.Transaction.Category)

	requireConsistent(t, e, id)
}

func TestPurchaseFullPriceMode(t *testing.T) {
	db := setupTestDB(t)
	e := NewEngine(NewUnitOfWork(db), account.NewRepository(db), NewTransactionLog(db), nil, Config{
		Discount: discount.Policy{Mode: discount.ModeFullPrice},
	})
	id := openAccount(t, db)
	fund(t, e, id, 120)

	receipt, err := e.Purchase(context.Background(), id, decimal.NewFromInt(100), "item-X")
	require.NoError(t, err)
	assert.Zero(t, receipt.DiscountPercent)
	assert.Equal(t, int64(20), receipt.Balance)
}

func TestPurchaseInsufficientAfterDiscount(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	fund(t, e, id, 80)

	// 8% off 100 is 92, still more than 80
	_, err := e.Purchase(context.Background(), id, decimal.NewFromInt(100), "item-Y")
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTwoConcurrentSpendsExactlyOneWins(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	fund(t, e, id, 100)

	var g errgroup.Group
	results := make([]error, 2)
	for i := range results {
		g.Go(func() error {
			_, results[i] = e.Spend(context.Background(), id, 60, fmt.Sprintf("ref-%d", i), CategoryPurchase)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var wins, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, insufficient)

	a, err := e.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.Balance)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)

	const initial = 20
	const callers = 50
	fund(t, e, id, initial)

	var ok, insufficient atomic.Int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := e.Spend(context.Background(), id, 1, fmt.Sprintf("spend-%d", i), CategoryPurchase)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(initial), ok.Load())
	assert.Equal(t, int64(callers-initial), insufficient.Load())

	report := requireConsistent(t, e, id)
	assert.Zero(t, report.StoredBalance)
	assert.Equal(t, initial+1, report.Transactions)
}

func TestDifferentAccountsProceedIndependently(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = openAccount(t, db)
	}

	var g errgroup.Group
	for _, id := range ids {
		for j := 0; j < 10; j++ {
			g.Go(func() error {
				_, err := e.Earn(context.Background(), id, 10, fmt.Sprintf("course-%d", j), CategoryCourse)
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		report := requireConsistent(t, e, id)
		assert.Equal(t, int64(100), report.StoredBalance)
		assert.Zero(t, report.StoredActivities)
	}
	assert.Zero(t, e.locks.Len())
}

func TestEarnOnlyCountsCountableCategories(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()

	_, err := e.Earn(ctx, id, 10, "course:1", CategoryCourse)
	require.NoError(t, err)
	r, err := e.Earn(ctx, id, 50, "recycling:1", CategoryRecycling)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.TotalEarnedActivities)

	_, err = e.Spend(ctx, id, 5, "reward:1", CategoryRedemption)
	require.NoError(t, err)

	a, err := e.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(55), a.Balance)
	assert.Equal(t, int64(1), a.TotalEarnedActivities)
}

func TestRejectsInvalidInput(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()

	_, err := e.Earn(ctx, id, 0, "x", CategoryCourse)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.Spend(ctx, id, -5, "x", CategoryPurchase)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.Redeem(ctx, id, 0, "reward:x")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.Purchase(ctx, id, decimal.Zero, "product:x")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.Earn(ctx, id, 10, "x", Category("lottery"))
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = e.Earn(ctx, uuid.New(), 10, "x", CategoryCourse)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, CodeAccountNotFound, Code(err))

	_, err = e.History(ctx, uuid.New(), ListOptions{})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDisabledAccountCannotTransact(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()
	fund(t, e, id, 30)

	svc := account.NewService(account.NewRepository(db))
	require.NoError(t, svc.Disable(ctx, id))

	_, err := e.Spend(ctx, id, 10, "x", CategoryPurchase)
	assert.ErrorIs(t, err, ErrAccountDisabled)

	require.NoError(t, svc.Enable(ctx, id))
	_, err = e.Spend(ctx, id, 10, "x", CategoryPurchase)
	assert.NoError(t, err)
}

func TestReadsAreIdempotent(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()
	fund(t, e, id, 42)

	first, err := e.Balance(ctx, id)
	require.NoError(t, err)
	second, err := e.Balance(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first.Balance, second.Balance)
	assert.Equal(t, first.TotalEarnedActivities, second.TotalEarnedActivities)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestHistoryPaginationAndOrder(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := e.Earn(ctx, id, int64(i), fmt.Sprintf("course:%d", i), CategoryCourse)
		require.NoError(t, err)
	}

	newest, err := e.History(ctx, id, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "course:5", newest[0].Reference)
	assert.Greater(t, newest[0].ID, newest[1].ID)

	oldest, err := e.History(ctx, id, ListOptions{Limit: 2, Offset: 1, Order: OrderOldestFirst})
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "course:2", oldest[0].Reference)
	assert.Equal(t, int64(3), oldest[0].ResultingBalance)
}

type wrappingUnitOfWork struct {
	inner        UnitOfWork
	wrapAccounts func(AccountStore) AccountStore
	wrapLog      func(TransactionLog) TransactionLog

	writes    atomic.Int32
	snapshots atomic.Int32
}

func (w *wrappingUnitOfWork) wrap(fn TxFunc) TxFunc {
	return func(ctx context.Context, accounts AccountStore, txlog TransactionLog) error {
		if w.wrapAccounts != nil {
			accounts = w.wrapAccounts(accounts)
		}
		if w.wrapLog != nil {
			txlog = w.wrapLog(txlog)
		}
		return fn(ctx, accounts, txlog)
	}
}

func (w *wrappingUnitOfWork) WithinTx(ctx context.Context, fn TxFunc) error {
	w.writes.Add(1)
	return w.inner.WithinTx(ctx, w.wrap(fn))
}

func (w *wrappingUnitOfWork) WithinSnapshot(ctx context.Context, fn TxFunc) error {
	w.snapshots.Add(1)
	return w.inner.WithinSnapshot(ctx, w.wrap(fn))
}

type failingLog struct {
	TransactionLog
}

func (failingLog) Append(context.Context, *Transaction) error {
	return errors.New("disk full")
}

type conflictingStore struct {
	AccountStore
	conflicts *atomic.Int32
	calls     *atomic.Int32
}

func (s conflictingStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, expected int64, upd account.BalanceUpdate) error {
	s.calls.Add(1)
	if s.conflicts.Add(-1) >= 0 {
		return ErrConflict
	}
	return s.AccountStore.CompareAndUpdate(ctx, id, expected, upd)
}

type blockingLog struct {
	TransactionLog
}

func (blockingLog) Append(ctx context.Context, _ *Transaction) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFailureBetweenBalanceWriteAndAppendRollsBack(t *testing.T) {
	db := setupTestDB(t)
	plain := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	fund(t, plain, id, 70)

	faulty := newTestEngine(t, db, &wrappingUnitOfWork{
		inner:   NewUnitOfWork(db),
		wrapLog: func(l TransactionLog) TransactionLog { return failingLog{l} },
	}, nil)

	_, err := faulty.Spend(context.Background(), id, 30, "item-Z", CategoryPurchase)
	require.ErrorIs(t, err, ErrStorageFailure)

	a, err := plain.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(70), a.Balance)

	report := requireConsistent(t, plain, id)
	assert.Equal(t, 1, report.Transactions)
}

func TestConflictIsRetried(t *testing.T) {
	db := setupTestDB(t)
	plain := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)

	var conflicts, calls atomic.Int32
	conflicts.Store(2)
	e := newTestEngine(t, db, &wrappingUnitOfWork{
		inner: NewUnitOfWork(db),
		wrapAccounts: func(s AccountStore) AccountStore {
			return conflictingStore{AccountStore: s, conflicts: &conflicts, calls: &calls}
		},
	}, nil)

	receipt, err := e.Earn(context.Background(), id, 10, "course:1", CategoryCourse)
	require.NoError(t, err)
	assert.Equal(t, int64(10), receipt.Balance)
	assert.Equal(t, int32(3), calls.Load())

	requireConsistent(t, plain, id)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	db := setupTestDB(t)
	plain := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)

	var conflicts, calls atomic.Int32
	conflicts.Store(1000)
	e := newTestEngine(t, db, &wrappingUnitOfWork{
		inner: NewUnitOfWork(db),
		wrapAccounts: func(s AccountStore) AccountStore {
			return conflictingStore{AccountStore: s, conflicts: &conflicts, calls: &calls}
		},
	}, nil)

	_, err := e.Earn(context.Background(), id, 10, "course:1", CategoryCourse)
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(3), calls.Load())

	a, err := plain.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, a.Balance)
}

func TestStorageTimeoutSurfacesAsStorageFailure(t *testing.T) {
	db := setupTestDB(t)
	plain := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)

	e := NewEngine(&wrappingUnitOfWork{
		inner:   NewUnitOfWork(db),
		wrapLog: func(l TransactionLog) TransactionLog { return blockingLog{l} },
	}, account.NewRepository(db), NewTransactionLog(db), nil, Config{OpTimeout: 50 * time.Millisecond})

	_, err := e.Earn(context.Background(), id, 10, "course:1", CategoryCourse)
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.Equal(t, CodeStorageFailure, Code(err))

	a, err := plain.Balance(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, a.Balance)
}

func TestCreatedAtNeverGoesBackwards(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()

	later := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	e.now = func() time.Time { return later }
	first, err := e.Earn(ctx, id, 10, "a", CategoryCourse)
	require.NoError(t, err)

	e.now = func() time.Time { return later.Add(-30 * time.Minute) }
	second, err := e.Earn(ctx, id, 10, "b", CategoryCourse)
	require.NoError(t, err)

	assert.False(t, second.Transaction.CreatedAt.Before(first.Transaction.CreatedAt))
	requireConsistent(t, e, id)
}

func TestVerifyDetectsTamperedLog(t *testing.T) {
	db := setupTestDB(t)
	e := newTestEngine(t, db, nil, nil)
	id := openAccount(t, db)
	ctx := context.Background()
	fund(t, e, id, 30)
	r, err := e.Spend(ctx, id, 10, "x", CategoryPurchase)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE transactions SET resulting_balance = 25 WHERE id = ?`, r.Transaction.ID)
	require.NoError(t, err)

	report, err := e.Verify(ctx, id)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.NotNil(t, report.Divergence)
	assert.Equal(t, r.Transaction.ID, report.Divergence.TransactionID)
	assert.Equal(t, int64(20), report.Divergence.Expected)
	assert.Equal(t, int64(25), report.Divergence.Recorded)
}

type blockingListLog struct {
	TransactionLog
}

func (blockingListLog) ListByAccount(ctx context.Context, _ uuid.UUID, _ ListOptions) ([]Transaction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestVerifyReadsFromSnapshot(t *testing.T) {
	db := setupTestDB(t)
	uow := &wrappingUnitOfWork{inner: NewUnitOfWork(db)}
	e := newTestEngine(t, db, uow, nil)
	id := openAccount(t, db)
	fund(t, e, id, 40)
	writes := uow.writes.Load()

	report := requireConsistent(t, e, id)
	assert.Equal(t, int64(40), report.StoredBalance)
	assert.Equal(t, int32(1), uow.snapshots.Load())
	assert.Equal(t, writes, uow.writes.Load())
}

func TestVerifyIsBoundedByOpTimeout(t *testing.T) {
	db := setupTestDB(t)
	id := openAccount(t, db)

	e := NewEngine(&wrappingUnitOfWork{
		inner:   NewUnitOfWork(db),
		wrapLog: func(l TransactionLog) TransactionLog { return blockingListLog{l} },
	}, account.NewRepository(db), NewTransactionLog(db), nil, Config{OpTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := e.Verify(context.Background(), id)
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSnapshotTxOptions(t *testing.T) {
	pg := snapshotTxOptions(database.DriverPostgres)
	assert.Equal(t, sql.LevelRepeatableRead, pg.Isolation)
	assert.True(t, pg.ReadOnly)

	lite := snapshotTxOptions(database.DriverSQLite)
	assert.Equal(t, sql.LevelDefault, lite.Isolation)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []BalanceEvent
}

func (n *recordingNotifier) SendToUserJSON(_ uuid.UUID, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ev, ok := payload.(BalanceEvent); ok {
		n.events = append(n.events, ev)
	}
	return nil
}

func TestCommittedMutationsNotifyAccount(t *testing.T) {
	db := setupTestDB(t)
	notifier := &recordingNotifier{}
	e := newTestEngine(t, db, nil, notifier)
	id := openAccount(t, db)
	ctx := context.Background()

	_, err := e.Earn(ctx, id, 50, "recycling:bin-1:abc", CategoryRecycling)
	require.NoError(t, err)
	_, err = e.Spend(ctx, id, 500, "reward:big", CategoryRedemption)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, EventBalanceChanged, ev.Type)
	assert.Equal(t, id, ev.AccountID)
	assert.Equal(t, int64(50), ev.Balance)
	assert.Equal(t, int64(1), ev.TotalEarnedActivities)
}

// stallingNotifier blocks its first delivery until release is closed.
type stallingNotifier struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (n *stallingNotifier) SendToUserJSON(uuid.UUID, any) error {
	if n.calls.Add(1) == 1 {
		close(n.entered)
		<-n.release
	}
	return nil
}

func TestSlowNotificationDoesNotHoldAccountLock(t *testing.T) {
	db := setupTestDB(t)
	notifier := &stallingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, db, nil, notifier)
	id := openAccount(t, db)

	first := make(chan error, 1)
	go func() {
		_, err := e.Earn(context.Background(), id, 10, "course:1", CategoryCourse)
		first <- err
	}()
	<-notifier.entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	receipt, err := e.Earn(ctx, id, 5, "course:2", CategoryCourse)
	require.NoError(t, err)
	assert.Equal(t, int64(15), receipt.Balance)

	close(notifier.release)
	require.NoError(t, <-first)
}

func TestCodeMapsEveryKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrAccountNotFound, CodeAccountNotFound},
		{ErrAccountDisabled, CodeAccountDisabled},
		{ErrInvalidAmount, CodeInvalidAmount},
		{ErrInvalidCategory, CodeInvalidCategory},
		{ErrInsufficientBalance, CodeInsufficientBalance},
		{ErrConflict, CodeConflict},
		{fmt.Errorf("%w: commit tx", ErrStorageFailure), CodeStorageFailure},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), "error %v", tc.err)
	}
}
