package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
	"github.com/joshsymonds/writeoff/internal/service"
)

// SaveRecords inserts imported transaction records into the primary layout.
// Records that already exist (same owner and id) are left untouched, so an
// import can be replayed safely.
func (s *Store) SaveRecords(ctx context.Context, records []model.TransactionRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO records (owner_id, id, account_id, doc)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, record := range records {
		if err := validateRecord(&record); err != nil {
			return err
		}
		if record.Status == "" {
			record.Status = model.AnalysisPending
		}
		if record.Version == 0 {
			record.Version = 1
		}

		doc, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", record.ID, err)
		}

		if _, err := stmt.ExecContext(ctx, record.OwnerID, record.ID, record.AccountID, string(doc)); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", record.ID, err)
		}
	}

	return tx.Commit()
}

// FindByCompositeKey locates one record by (owner, record) id, trying each
// physical layout in turn. A record missing through every strategy is a
// distinct terminal outcome (common.ErrNotFound), not a transient failure.
func (s *Store) FindByCompositeKey(ctx context.Context, ownerID, recordID string) (*model.TransactionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(recordID, "recordID"); err != nil {
		return nil, err
	}

	found, err := findRecord(ctx, s.db, ownerID, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s/%s: %w", ownerID, recordID, common.ErrNotFound)
		}
		return nil, err
	}

	record := found.record
	return &record, nil
}

// ListIncomplete returns the account's records that still need analysis,
// oldest first. Failed records are included so a re-run can retry them.
func (s *Store) ListIncomplete(ctx context.Context, ownerID, accountID string) ([]model.TransactionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM records
		WHERE owner_id = ? AND account_id = ?
		  AND json_extract(doc, '$.status') != 'completed'
		ORDER BY json_extract(doc, '$.occurredAt')
	`, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.TransactionRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var record model.TransactionRecord
		if err := json.Unmarshal([]byte(doc), &record); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

// CountByStatus aggregates the account's per-record analysis states.
func (s *Store) CountByStatus(ctx context.Context, ownerID, accountID string) (model.StatusCounts, error) {
	if err := validateContext(ctx); err != nil {
		return model.StatusCounts{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(doc, '$.status'), COUNT(*)
		FROM records
		WHERE owner_id = ? AND account_id = ?
		GROUP BY json_extract(doc, '$.status')
	`, ownerID, accountID)
	if err != nil {
		return model.StatusCounts{}, fmt.Errorf("failed to count records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts model.StatusCounts
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.StatusCounts{}, fmt.Errorf("failed to scan counts: %w", err)
		}
		switch model.AnalysisStatus(status) {
		case model.AnalysisPending:
			counts.Pending += count
		case model.AnalysisRunning:
			counts.Running += count
		case model.AnalysisCompleted:
			counts.Completed += count
		case model.AnalysisFailed:
			counts.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return model.StatusCounts{}, fmt.Errorf("failed to iterate counts: %w", err)
	}

	return counts, nil
}

// UpdateRecord performs a transactional read-modify-write against the
// record. The mutate function sees the current stored state, which is
// re-read inside the transaction, so concurrent writers can never blindly
// overwrite one another. Returning common.ErrNoChange from mutate aborts
// the write and returns the current record.
func (s *Store) UpdateRecord(ctx context.Context, ownerID, recordID string, mutate func(*model.TransactionRecord) error) (*model.TransactionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if mutate == nil {
		return nil, fmt.Errorf("mutate function must not be nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	found, err := findRecord(ctx, tx, ownerID, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s/%s: %w", ownerID, recordID, common.ErrNotFound)
		}
		return nil, err
	}

	record := found.record
	if err := mutate(&record); err != nil {
		if errors.Is(err, common.ErrNoChange) {
			current := found.record
			return &current, nil
		}
		return nil, err
	}

	record.Version = found.record.Version + 1

	doc, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", record.ID, err)
	}

	// The merged result always lands in the primary layout; a copy read
	// through a drifted layout is refreshed in place so fallback reads
	// stay coherent.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (owner_id, id, account_id, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
	`, record.OwnerID, record.ID, record.AccountID, string(doc)); err != nil {
		return nil, fmt.Errorf("failed to write record %s: %w", record.ID, err)
	}

	switch found.strategy {
	case "legacy-user-field":
		if _, err := tx.ExecContext(ctx,
			`UPDATE legacy_records SET doc = ? WHERE user_id = ? AND record_id = ?`,
			string(doc), ownerID, recordID); err != nil {
			return nil, fmt.Errorf("failed to refresh legacy record %s: %w", recordID, err)
		}
	case "cross-collection-index", "owner-subcollections":
		if _, err := tx.ExecContext(ctx,
			`UPDATE collection_docs SET doc = ? WHERE record_id = ?`,
			string(doc), recordID); err != nil {
			return nil, fmt.Errorf("failed to refresh collection record %s: %w", recordID, err)
		}
	}

	// Commit and emit under notifyMu so subscribers see versions in
	// commit order.
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit record update: %w", err)
	}

	updated := record
	s.emit(service.ChangeEvent{Record: &updated})

	result := record
	return &result, nil
}

func validateRecord(record *model.TransactionRecord) error {
	if record == nil {
		return fmt.Errorf("record must not be nil")
	}
	if err := validateString(record.ID, "record.ID"); err != nil {
		return err
	}
	if err := validateString(record.OwnerID, "record.OwnerID"); err != nil {
		return err
	}
	return validateString(record.AccountID, "record.AccountID")
}

// ListByAccount returns every record for the account, oldest first.
func (s *Store) ListByAccount(ctx context.Context, ownerID, accountID string) ([]model.TransactionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM records
		WHERE owner_id = ? AND account_id = ?
		ORDER BY json_extract(doc, '$.occurredAt')
	`, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.TransactionRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var record model.TransactionRecord
		if err := json.Unmarshal([]byte(doc), &record); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}
