package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- translation links ---

// CreateLink inserts a link from a destination block to a source item. The
// (target, source) pair is unique; creating an existing pair is a no-op.
func (s *Store) CreateLink(link *TranslationLink) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target_block_id"}, {Name: "source_item_id"}},
		DoNothing: true,
	}).Create(link).Error
	if err != nil {
		return fmt.Errorf("create link block %d -> item %d: %w", link.TargetBlockID, link.SourceItemID, err)
	}
	return nil
}

// SaveLink persists all fields of an existing link.
func (s *Store) SaveLink(link *TranslationLink) error {
	if err := s.db.Save(link).Error; err != nil {
		return fmt.Errorf("save link %d: %w", link.ID, err)
	}
	return nil
}

// LinksForTargetBlock lists all links of a destination block.
func (s *Store) LinksForTargetBlock(targetBlockID uint) ([]TranslationLink, error) {
	var links []TranslationLink
	err := s.db.Where("target_block_id = ?", targetBlockID).Order("id").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list links for block %d: %w", targetBlockID, err)
	}
	return links, nil
}

// LinksForItem lists all links sourced from one content item.
func (s *Store) LinksForItem(sourceItemID uint) ([]TranslationLink, error) {
	var links []TranslationLink
	err := s.db.Where("source_item_id = ?", sourceItemID).Order("id").Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list links for item %d: %w", sourceItemID, err)
	}
	return links, nil
}

// DeleteLinksForTargetBlock severs every mapping of a destination block.
func (s *Store) DeleteLinksForTargetBlock(targetBlockID uint) error {
	err := s.db.Where("target_block_id = ?", targetBlockID).Delete(&TranslationLink{}).Error
	if err != nil {
		return fmt.Errorf("delete links for block %d: %w", targetBlockID, err)
	}
	return nil
}

// FetchCandidates lists links due for a pull: the source item is not waiting
// on a content push, and the link was never fetched, its block is not fully
// translated yet, or the last fetch is older than cutoff.
func (s *Store) FetchCandidates(cutoff time.Time) ([]TranslationLink, error) {
	var links []TranslationLink
	err := s.db.
		Joins("JOIN content_items ON content_items.id = translation_links.source_item_id").
		Joins("JOIN content_blocks AS target ON target.id = translation_links.target_block_id").
		Where("content_items.content_updated = ?", false).
		Where("translation_links.last_fetched IS NULL OR target.translated = ? OR translation_links.last_fetched <= ?",
			false, cutoff).
		Order("translation_links.id").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("list fetch candidates: %w", err)
	}
	return links, nil
}

// --- translation versions ---

// CreateVersion appends an immutable version snapshot.
func (s *Store) CreateVersion(version *TranslationVersion) error {
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(version).Error; err != nil {
		return fmt.Errorf("create version for block %s: %w", version.BlockID, err)
	}
	return nil
}

// GetVersion retrieves a version by primary key. Returns nil, nil when absent.
func (s *Store) GetVersion(id uint) (*TranslationVersion, error) {
	var version TranslationVersion
	err := s.db.First(&version, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version %d: %w", id, err)
	}
	return &version, nil
}

// VersionsForBlock lists a block's version history, newest first.
func (s *Store) VersionsForBlock(blockID string) ([]TranslationVersion, error) {
	var versions []TranslationVersion
	err := s.db.Where("block_id = ?", blockID).Order("created_at DESC").Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("list versions for block %s: %w", blockID, err)
	}
	return versions, nil
}

// DeleteVersionsForBlock removes a block's version history. Only the cascade
// reset uses this; versions are otherwise append-only.
func (s *Store) DeleteVersionsForBlock(blockID string) error {
	err := s.db.Where("block_id = ?", blockID).Delete(&TranslationVersion{}).Error
	if err != nil {
		return fmt.Errorf("delete versions for block %s: %w", blockID, err)
	}
	return nil
}
