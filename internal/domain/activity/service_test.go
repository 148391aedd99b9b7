package activity

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/catalog"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/recycling"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/storage"
)

type stubValidator struct {
	valid bool
	err   error
	calls int
}

func (v *stubValidator) Validate(context.Context, []byte) (bool, error) {
	v.calls++
	return v.valid, v.err
}

type fixture struct {
	db       *sqlx.DB
	engine   *ledger.Engine
	svc      *Service
	val      *stubValidator
	evidence string
	account  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewSQLite(filepath.Join(dir, "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseSQLite(db) })
	require.NoError(t, database.Migrate(context.Background(), db))

	accounts := account.NewRepository(db)
	engine := ledger.NewEngine(ledger.NewUnitOfWork(db), accounts, ledger.NewTransactionLog(db), nil, ledger.Config{})

	evidenceDir := filepath.Join(dir, "evidence")
	st, err := storage.NewLocalStorage(evidenceDir, "http://localhost/evidence")
	require.NoError(t, err)

	val := &stubValidator{valid: true}
	svc := NewService(engine, catalog.NewRepository(db), val, st, Config{})

	a, err := account.NewService(accounts).Open(context.Background(), &account.OpenRequest{DisplayName: "Recycler"})
	require.NoError(t, err)

	return &fixture{db: db, engine: engine, svc: svc, val: val, evidence: evidenceDir, account: a.ID}
}

func (f *fixture) course(t *testing.T, active bool) uuid.UUID {
	id := uuid.New()
	f.db.MustExec(f.db.Rebind(`INSERT INTO courses (id, title, active) VALUES (?, ?, ?)`), id, "Composting 101", active)
	return id
}

func (f *fixture) product(t *testing.T, price string, available bool) uuid.UUID {
	id := uuid.New()
	f.db.MustExec(f.db.Rebind(`INSERT INTO products (id, name, price, available) VALUES (?, ?, ?, ?)`), id, "Reusable bag", decimal.RequireFromString(price), available)
	return id
}

func (f *fixture) reward(t *testing.T, cost int64) uuid.UUID {
	id := uuid.New()
	f.db.MustExec(f.db.Rebind(`INSERT INTO rewards (id, name, points_required, available) VALUES (?, ?, ?, ?)`), id, "Cinema ticket", cost, true)
	return id
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompleteCourseEarnsFixedReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, err := f.svc.CompleteCourse(ctx, f.account, f.course(t, true))
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultCourseRewardPoints), receipt.Balance)
	assert.Equal(t, ledger.CategoryCourse, receipt.Transaction.Category)
	assert.Contains(t, receipt.Transaction.Reference, "course:")
	assert.Zero(t, receipt.TotalEarnedActivities)

	_, err = f.svc.CompleteCourse(ctx, f.account, f.course(t, false))
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	_, err = f.svc.CompleteCourse(ctx, f.account, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrCourseNotFound)
}

func TestSubmitRecyclingValidPhoto(t *testing.T) {
	f := newFixture(t)
	photo := samplePNG(t)

	result, err := f.svc.SubmitRecycling(context.Background(), f.account, "bin-042", photo, "image/png")
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, int64(DefaultRecyclingRewardPoints), result.Earned)
	assert.Equal(t, int64(1), result.Receipt.TotalEarnedActivities)
	fp := recycling.Fingerprint(photo)
	assert.Equal(t, "recycling:bin-042:"+fp[:16], result.Receipt.Transaction.Reference)

	stored, err := os.ReadFile(filepath.Join(f.evidence, "recycling", f.account.String(), fp+".png"))
	require.NoError(t, err)
	assert.Equal(t, photo, stored)
	assert.Contains(t, result.EvidenceURL, fp)
}

func TestSubmitRecyclingRejectedPhotoEarnsNothing(t *testing.T) {
	f := newFixture(t)
	f.val.valid = false

	result, err := f.svc.SubmitRecycling(context.Background(), f.account, "bin-042", samplePNG(t), "image/png")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Zero(t, result.Earned)

	a, err := f.engine.Balance(context.Background(), f.account)
	require.NoError(t, err)
	assert.Zero(t, a.Balance)

	entries, err := os.ReadDir(f.evidence)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitRecyclingValidatorDown(t *testing.T) {
	f := newFixture(t)
	f.val.err = recycling.ErrValidatorUnavailable

	_, err := f.svc.SubmitRecycling(context.Background(), f.account, "bin-042", samplePNG(t), "image/png")
	assert.ErrorIs(t, err, recycling.ErrValidatorUnavailable)

	a, err := f.engine.Balance(context.Background(), f.account)
	require.NoError(t, err)
	assert.Zero(t, a.Balance)
}

func TestSubmitRecyclingRemovesEvidenceWhenEarnFails(t *testing.T) {
	f := newFixture(t)
	photo := samplePNG(t)

	_, err := f.svc.SubmitRecycling(context.Background(), uuid.New(), "bin-042", photo, "image/png")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, statErr := os.Stat(filepath.Join(f.evidence, "recycling"))
	if statErr == nil {
		filepath.Walk(filepath.Join(f.evidence, "recycling"), func(path string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				t.Errorf("evidence left behind: %s", path)
			}
			return nil
		})
	} else {
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	}
}

func TestPurchaseAppliesDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Earn(ctx, f.account, 120, "seed", ledger.CategoryAdjustment)
	require.NoError(t, err)

	receipt, err := f.svc.Purchase(ctx, f.account, f.product(t, "100", true))
	require.NoError(t, err)
	assert.Equal(t, int64(12), receipt.DiscountPercent)
	assert.Equal(t, int64(88), receipt.Charged)
	assert.Equal(t, int64(32), receipt.Balance)

	_, err = f.svc.Purchase(ctx, f.account, f.product(t, "10", false))
	assert.ErrorIs(t, err, catalog.ErrUnavailable)

	_, err = f.svc.Purchase(ctx, f.account, f.product(t, "500", true))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestRedeemReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Earn(ctx, f.account, 100, "seed", ledger.CategoryAdjustment)
	require.NoError(t, err)

	rewardID := f.reward(t, 60)
	receipt, err := f.svc.RedeemReward(ctx, f.account, rewardID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), receipt.Balance)
	assert.Equal(t, ledger.CategoryRedemption, receipt.Transaction.Category)
	assert.Equal(t, "reward:"+rewardID.String(), receipt.Transaction.Reference)

	_, err = f.svc.RedeemReward(ctx, f.account, rewardID)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}
