package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	return db
}

func draftRecord(tenantID, digest string) *Record {
	return &Record{
		TenantID:       tenantID,
		UserID:         "user-1",
		ServiceName:    "pos",
		Method:         "POST",
		Path:           "/api/sales/",
		StatusCode:     201,
		RequestDigest:  digest,
		ResponseDigest: "",
		OccurredAt:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestAppendFirstRecord(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	rec, err := store.Append(ctx, draftRecord("T", "A"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Sequence)
	assert.Equal(t, ZeroHash, rec.PreviousHash)
	assert.Len(t, rec.Hash, 64)
}

func TestAppendChainsSequencesAndHashes(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	r1, err := store.Append(ctx, draftRecord("T", "A"))
	require.NoError(t, err)
	r2, err := store.Append(ctx, draftRecord("T", "B"))
	require.NoError(t, err)
	r3, err := store.Append(ctx, draftRecord("T", "C"))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, []int64{r1.Sequence, r2.Sequence, r3.Sequence})
	assert.Equal(t, r1.Hash, r2.PreviousHash)
	assert.Equal(t, r2.Hash, r3.PreviousHash)
}

func TestAppendTenantChainsAreIndependent(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	_, err := store.Append(ctx, draftRecord("T1", "A"))
	require.NoError(t, err)
	other, err := store.Append(ctx, draftRecord("T2", "A"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), other.Sequence)
	assert.Equal(t, ZeroHash, other.PreviousHash)
}

func TestComputeHashIsDeterministic(t *testing.T) {
	a := draftRecord("T", "A")
	a.Sequence = 1
	a.PreviousHash = ZeroHash
	b := draftRecord("T", "A")
	b.Sequence = 1
	b.PreviousHash = ZeroHash

	ha, err := ComputeHash(a)
	require.NoError(t, err)
	hb, err := ComputeHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.RequestDigest = "A'"
	hb2, err := ComputeHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb2)
}

func TestCanonicalJSONSortedCompact(t *testing.T) {
	data, err := CanonicalJSON(map[string]any{"b": 2, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2}`, string(data))
}

func TestVerifyIntactChain(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for _, digest := range []string{"A", "B", "C"} {
		_, err := store.Append(ctx, draftRecord("T", digest))
		require.NoError(t, err)
	}

	result, err := NewVerifier(store).Verify(ctx, "T", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, VerifyResult{Checked: 3, Valid: 3, Corrupted: 0, TotalChainSize: 3}, result)
}

func TestVerifyDetectsTampering(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for _, digest := range []string{"A", "B", "C"} {
		_, err := store.Append(ctx, draftRecord("T", digest))
		require.NoError(t, err)
	}

	// Mutate R2 out of band. R2 fails its own hash, and R3 fails linkage
	// because its previous_hash no longer matches R2's recomputed hash.
	require.NoError(t, db.Model(&Record{}).
		Where("tenant_id = ? AND sequence = ?", "T", 2).
		Update("request_digest", "B'").Error)

	result, err := NewVerifier(store).Verify(ctx, "T", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.Valid)
	assert.Equal(t, 2, result.Corrupted)
}

func TestVerifyMidChainStart(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	for _, digest := range []string{"A", "B", "C", "D"} {
		_, err := store.Append(ctx, draftRecord("T", digest))
		require.NoError(t, err)
	}

	result, err := NewVerifier(store).Verify(ctx, "T", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 2, result.Valid)
	assert.Equal(t, int64(4), result.TotalChainSize)
}

func TestVerifyMidChainStartAfterTampering(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	for _, digest := range []string{"A", "B", "C"} {
		_, err := store.Append(ctx, draftRecord("T", digest))
		require.NoError(t, err)
	}

	// Tamper with the record just before the walk window: R3's linkage
	// is checked against R2's recomputed hash, so it must fail too.
	require.NoError(t, db.Model(&Record{}).
		Where("tenant_id = ? AND sequence = ?", "T", 2).
		Update("request_digest", "B'").Error)

	result, err := NewVerifier(store).Verify(ctx, "T", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Valid)
	assert.Equal(t, 1, result.Corrupted)
}

func TestVerifyEmptyChain(t *testing.T) {
	store := NewStore(setupTestDB(t))
	result, err := NewVerifier(store).Verify(context.Background(), "nobody", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, VerifyResult{}, result)
}

func TestDigestTruncation(t *testing.T) {
	long := make([]byte, DigestLimit+500)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, Digest(long), DigestLimit)

	// Invalid UTF-8 is replaced, not dropped.
	assert.NotContains(t, Digest([]byte{0xff, 'o', 'k'}), "\xff")
	assert.Contains(t, Digest([]byte{0xff, 'o', 'k'}), "ok")
}
