package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joshsymonds/writeoff/internal/common"
	"github.com/joshsymonds/writeoff/internal/model"
)

// GetProfile loads the owner's tax profile used for prompt enrichment.
func (s *Store) GetProfile(ctx context.Context, ownerID string) (*model.UserProfile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE owner_id = ?`, ownerID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", ownerID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", ownerID, err)
	}

	var profile model.UserProfile
	if err := json.Unmarshal([]byte(doc), &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", ownerID, err)
	}

	return &profile, nil
}

// SaveProfile writes the owner's tax profile.
func (s *Store) SaveProfile(ctx context.Context, profile *model.UserProfile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("profile must not be nil")
	}
	if err := validateString(profile.OwnerID, "profile.OwnerID"); err != nil {
		return err
	}

	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", profile.OwnerID, err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (owner_id, doc) VALUES (?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET doc = excluded.doc
	`, profile.OwnerID, string(doc)); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.OwnerID, err)
	}

	return nil
}
