package docstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id string) model.TransactionRecord {
	return model.TransactionRecord{
		ID:         id,
		OwnerID:    "user-1",
		AccountID:  "acct-1",
		Merchant:   "Cloud Host",
		Amount:     42.10,
		OccurredAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:     model.AnalysisPending,
	}
}

// seedLegacy places a record only in the user_id-keyed legacy layout.
func seedLegacy(t *testing.T, store *Store, record model.TransactionRecord) {
	t.Helper()
	if record.Version == 0 {
		record.Version = 1
	}
	doc, err := json.Marshal(record)
	require.NoError(t, err)
	_, err = store.db.Exec(
		`INSERT INTO legacy_records (user_id, record_id, doc) VALUES (?, ?, ?)`,
		record.OwnerID, record.ID, string(doc))
	require.NoError(t, err)
}

// seedIndexed places a record in a sub-collection reachable through the
// cross-collection index.
func seedIndexed(t *testing.T, store *Store, record model.TransactionRecord, collection string, indexed bool) {
	t.Helper()
	if record.Version == 0 {
		record.Version = 1
	}
	doc, err := json.Marshal(record)
	require.NoError(t, err)

	_, err = store.db.Exec(
		`INSERT INTO collection_docs (collection, record_id, doc) VALUES (?, ?, ?)`,
		collection, record.ID, string(doc))
	require.NoError(t, err)

	if indexed {
		_, err = store.db.Exec(
			`INSERT INTO record_index (owner_id, record_id, collection) VALUES (?, ?, ?)`,
			record.OwnerID, record.ID, collection)
		require.NoError(t, err)
	}

	_, err = store.db.Exec(
		`INSERT OR IGNORE INTO owner_collections (owner_id, collection) VALUES (?, ?)`,
		record.OwnerID, collection)
	require.NoError(t, err)
}

func TestSaveAndFindRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{testRecord("txn-1")}))

	found, err := store.FindByCompositeKey(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", found.ID)
	assert.Equal(t, "Cloud Host", found.Merchant)
	assert.Equal(t, int64(1), found.Version)
}

func TestSaveRecordsReplaySafe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("txn-1")
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{record}))

	// Classify it, then replay the import. The verdict must survive.
	_, err := store.UpdateRecord(ctx, "user-1", "txn-1", func(r *model.TransactionRecord) error {
		deductible := true
		r.Deductible = &deductible
		r.Status = model.AnalysisCompleted
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{record}))

	found, err := store.FindByCompositeKey(ctx, "user-1", "txn-1")
	require.NoError(t, err)
	require.NotNil(t, found.Deductible)
	assert.Equal(t, model.AnalysisCompleted, found.Status)
}

func TestFindByCompositeKeyNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FindByCompositeKey(context.Background(), "user-1", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFindFallsBackToLegacyLayout(t *testing.T) {
	store := newTestStore(t)
	seedLegacy(t, store, testRecord("txn-legacy"))

	found, err := store.FindByCompositeKey(context.Background(), "user-1", "txn-legacy")
	require.NoError(t, err)
	assert.Equal(t, "txn-legacy", found.ID)
}

func TestFindFallsBackToCrossCollectionIndex(t *testing.T) {
	store := newTestStore(t)
	record := testRecord("txn-indexed")
	seedIndexed(t, store, record, "user-1-2023", true)

	found, err := store.FindByCompositeKey(context.Background(), "user-1", "txn-indexed")
	require.NoError(t, err)
	assert.Equal(t, "txn-indexed", found.ID)
}

func TestFindFallsBackToSubcollectionScan(t *testing.T) {
	store := newTestStore(t)
	record := testRecord("txn-sub")
	// No index entry: only the sub-collection enumeration can find it.
	seedIndexed(t, store, record, "user-1-2024", false)

	found, err := store.FindByCompositeKey(context.Background(), "user-1", "txn-sub")
	require.NoError(t, err)
	assert.Equal(t, "txn-sub", found.ID)
}

func TestFindDeduplicatesAcrossCollections(t *testing.T) {
	store := newTestStore(t)
	record := testRecord("txn-dup")
	seedIndexed(t, store, record, "user-1-2023", true)
	seedIndexed(t, store, record, "user-1-2024", true)

	found, err := store.FindByCompositeKey(context.Background(), "user-1", "txn-dup")
	require.NoError(t, err)
	assert.Equal(t, "txn-dup", found.ID)
}

func TestFindPrefersPrimaryLayout(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	primary := testRecord("txn-both")
	primary.Merchant = "Primary Copy"
	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{primary}))

	stale := testRecord("txn-both")
	stale.Merchant = "Stale Legacy Copy"
	seedLegacy(t, store, stale)

	found, err := store.FindByCompositeKey(ctx, "user-1", "txn-both")
	require.NoError(t, err)
	assert.Equal(t, "Primary Copy", found.Merchant)
}

func TestUpdateRecordBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{testRecord("txn-1")}))

	updated, err := store.UpdateRecord(ctx, "user-1", "txn-1", func(r *model.TransactionRecord) error {
		r.Status = model.AnalysisRunning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, model.AnalysisRunning, updated.Status)
}

func TestUpdateRecordNoChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{testRecord("txn-1")}))

	current, err := store.UpdateRecord(ctx, "user-1", "txn-1", func(_ *model.TransactionRecord) error {
		return common.ErrNoChange
	})
	require.NoError(t, err, "ErrNoChange aborts the write without failing")
	assert.Equal(t, int64(1), current.Version, "aborted write must not bump the version")
}

func TestUpdateRecordPromotesLegacyCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedLegacy(t, store, testRecord("txn-legacy"))

	updated, err := store.UpdateRecord(ctx, "user-1", "txn-legacy", func(r *model.TransactionRecord) error {
		r.Status = model.AnalysisCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// The merged result must now be readable through the primary layout
	// and the legacy copy must have been refreshed in place.
	var primaryDoc, legacyDoc string
	require.NoError(t, store.db.QueryRow(
		`SELECT doc FROM records WHERE owner_id = ? AND id = ?`, "user-1", "txn-legacy").Scan(&primaryDoc))
	require.NoError(t, store.db.QueryRow(
		`SELECT doc FROM legacy_records WHERE user_id = ? AND record_id = ?`, "user-1", "txn-legacy").Scan(&legacyDoc))

	var fromLegacy model.TransactionRecord
	require.NoError(t, json.Unmarshal([]byte(legacyDoc), &fromLegacy))
	assert.Equal(t, model.AnalysisCompleted, fromLegacy.Status)
	assert.Equal(t, int64(2), fromLegacy.Version)
}

func TestListIncompleteExcludesCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []model.TransactionRecord{testRecord("txn-1"), testRecord("txn-2"), testRecord("txn-3")}
	records[1].OccurredAt = records[0].OccurredAt.Add(24 * time.Hour)
	records[2].OccurredAt = records[0].OccurredAt.Add(48 * time.Hour)
	require.NoError(t, store.SaveRecords(ctx, records))

	_, err := store.UpdateRecord(ctx, "user-1", "txn-2", func(r *model.TransactionRecord) error {
		r.Status = model.AnalysisCompleted
		return nil
	})
	require.NoError(t, err)

	incomplete, err := store.ListIncomplete(ctx, "user-1", "acct-1")
	require.NoError(t, err)
	require.Len(t, incomplete, 2)
	assert.Equal(t, "txn-1", incomplete[0].ID, "oldest first")
	assert.Equal(t, "txn-3", incomplete[1].ID)
}

func TestListIncompleteIncludesFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{testRecord("txn-1")}))
	_, err := store.UpdateRecord(ctx, "user-1", "txn-1", func(r *model.TransactionRecord) error {
		r.Status = model.AnalysisFailed
		return nil
	})
	require.NoError(t, err)

	incomplete, err := store.ListIncomplete(ctx, "user-1", "acct-1")
	require.NoError(t, err)
	assert.Len(t, incomplete, 1, "failed records are retried by the next run")
}

func TestCountByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []model.TransactionRecord{testRecord("txn-1"), testRecord("txn-2"), testRecord("txn-3")}
	require.NoError(t, store.SaveRecords(ctx, records))

	_, err := store.UpdateRecord(ctx, "user-1", "txn-1", func(r *model.TransactionRecord) error {
		r.Status = model.AnalysisCompleted
		return nil
	})
	require.NoError(t, err)

	counts, err := store.CountByStatus(ctx, "user-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, 2, counts.Remaining())
}

func TestSubscribeObservesCommitOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecords(ctx, []model.TransactionRecord{testRecord("txn-1")}))

	events, cancel := store.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := store.UpdateRecord(ctx, "user-1", "txn-1", func(r *model.TransactionRecord) error {
			r.Notes = "pass"
			return nil
		})
		require.NoError(t, err)
	}

	var versions []int64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			require.NotNil(t, ev.Record)
			versions = append(versions, ev.Record.Version)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change event")
		}
	}
	assert.Equal(t, []int64{2, 3, 4}, versions, "events must arrive in commit order")
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}
