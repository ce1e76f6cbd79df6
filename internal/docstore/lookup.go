package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/writeoff/internal/model"
)

// lookupStrategy is one way of finding a record by its composite key. The
// backing store's query layer may lack the index or the collection layout
// the obvious query needs, so findRecord tries an ordered list of these in
// sequence instead of relying on any single physical layout.
type lookupStrategy struct {
	run  func(ctx context.Context, q queryer, ownerID, recordID string) ([]foundRecord, error)
	name string
}

// foundRecord pairs a decoded record with where it was found, so
// read-modify-write can refresh the stale copy it read from.
type foundRecord struct {
	record     model.TransactionRecord
	strategy   string
	collection string // set for sub-collection hits
}

var lookupChain = []lookupStrategy{
	{name: "primary-owner-field", run: lookupPrimary},
	{name: "legacy-user-field", run: lookupLegacy},
	{name: "cross-collection-index", run: lookupIndex},
	{name: "owner-subcollections", run: lookupSubcollections},
}

// lookupPrimary queries the expected collection filtered by the owner-id
// field.
func lookupPrimary(ctx context.Context, q queryer, ownerID, recordID string) ([]foundRecord, error) {
	return scanDocs(ctx, q, "primary-owner-field", "",
		`SELECT doc FROM records WHERE owner_id = ? AND id = ?`, ownerID, recordID)
}

// lookupLegacy retries with the alternate field-naming convention used by
// earlier schema iterations.
func lookupLegacy(ctx context.Context, q queryer, ownerID, recordID string) ([]foundRecord, error) {
	return scanDocs(ctx, q, "legacy-user-field", "",
		`SELECT doc FROM legacy_records WHERE user_id = ? AND record_id = ?`, ownerID, recordID)
}

// lookupIndex resolves the record through the cross-collection index.
func lookupIndex(ctx context.Context, q queryer, ownerID, recordID string) ([]foundRecord, error) {
	return scanDocs(ctx, q, "cross-collection-index", "",
		`SELECT cd.doc
		 FROM record_index ri
		 JOIN collection_docs cd ON cd.collection = ri.collection AND cd.record_id = ri.record_id
		 WHERE ri.owner_id = ? AND ri.record_id = ?`, ownerID, recordID)
}

// lookupSubcollections enumerates the owner's known sub-collections and
// searches each directly. Last resort: it needs no index at all.
func lookupSubcollections(ctx context.Context, q queryer, ownerID, recordID string) ([]foundRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT collection FROM owner_collections WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate sub-collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var collections []string
	for rows.Next() {
		var collection string
		if err := rows.Scan(&collection); err != nil {
			return nil, fmt.Errorf("failed to scan collection name: %w", err)
		}
		collections = append(collections, collection)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collections: %w", err)
	}

	var found []foundRecord
	for _, collection := range collections {
		hits, err := scanDocs(ctx, q, "owner-subcollections", collection,
			`SELECT doc FROM collection_docs WHERE collection = ? AND record_id = ?`, collection, recordID)
		if err != nil {
			return nil, err
		}
		found = append(found, hits...)
	}
	return found, nil
}

func scanDocs(ctx context.Context, q queryer, strategy, collection, query string, args ...any) ([]foundRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup strategy %s failed: %w", strategy, err)
	}
	defer func() { _ = rows.Close() }()

	var found []foundRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		var record model.TransactionRecord
		if err := json.Unmarshal([]byte(doc), &record); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}

		found = append(found, foundRecord{
			record:     record,
			strategy:   strategy,
			collection: collection,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return found, nil
}

// findRecord runs the fallback chain and returns the first hit, with
// results de-duplicated by content key so a record reachable through more
// than one layout is only ever observed once.
func findRecord(ctx context.Context, q queryer, ownerID, recordID string) (*foundRecord, error) {
	for _, strategy := range lookupChain {
		found, err := strategy.run(ctx, q, ownerID, recordID)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}

		deduped := dedupeByContentKey(found)
		if len(deduped) > 1 {
			slog.Warn("composite-key lookup matched distinct documents",
				"owner_id", ownerID,
				"record_id", recordID,
				"strategy", strategy.name,
				"count", len(deduped))
		}

		hit := deduped[0]
		if strategy.name != "primary-owner-field" {
			slog.Debug("record located via fallback strategy",
				"owner_id", ownerID,
				"record_id", recordID,
				"strategy", strategy.name)
		}
		return &hit, nil
	}

	return nil, sql.ErrNoRows
}

func dedupeByContentKey(found []foundRecord) []foundRecord {
	seen := make(map[string]bool, len(found))
	deduped := make([]foundRecord, 0, len(found))
	for _, f := range found {
		key := f.record.ContentKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, f)
	}
	return deduped
}
