package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Store wraps the database handle with the engine's persistence operations.
// Every component treats it as the single source of truth.
type Store struct {
	db *gorm.DB
}

// New creates a Store on an opened database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn with a Store bound to a transaction; fn returning an
// error rolls everything back.
func (s *Store) Transaction(fn func(*Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// errDryRun forces rollback of a dry-run transaction.
var errDryRun = errors.New("dry run rollback")

// DryRun runs fn inside a transaction that is always rolled back, so fn can
// perform the full computation and report intended changes without persisting
// any of them.
func (s *Store) DryRun(fn func(*Store) error) error {
	var fnErr error
	err := s.db.Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store{db: tx})
		if fnErr != nil {
			return fnErr
		}
		return errDryRun
	})
	if errors.Is(err, errDryRun) {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return err
}

// --- content blocks ---

// CreateBlock inserts a new content block.
func (s *Store) CreateBlock(block *ContentBlock) error {
	if block.Direction == "" {
		block.Direction = DirectionSource
	}
	if err := s.db.Create(block).Error; err != nil {
		return fmt.Errorf("create block %s: %w", block.BlockID, err)
	}
	return nil
}

// SaveBlock persists all fields of an existing block.
func (s *Store) SaveBlock(block *ContentBlock) error {
	if err := s.db.Save(block).Error; err != nil {
		return fmt.Errorf("save block %s: %w", block.BlockID, err)
	}
	return nil
}

// GetBlock retrieves a block by primary key. Returns nil, nil when absent.
func (s *Store) GetBlock(id uint) (*ContentBlock, error) {
	var block ContentBlock
	err := s.db.First(&block, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get block %d: %w", id, err)
	}
	return &block, nil
}

// GetBlockByBlockID retrieves a block by its globally unique block ID.
// Returns nil, nil when absent.
func (s *Store) GetBlockByBlockID(blockID string) (*ContentBlock, error) {
	var block ContentBlock
	err := s.db.Where("block_id = ?", blockID).First(&block).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get block %s: %w", blockID, err)
	}
	return &block, nil
}

// BlocksForCourse lists all blocks of a course, soft-deleted ones included
// unless excludeDeleted is set.
func (s *Store) BlocksForCourse(courseID string, excludeDeleted bool) ([]ContentBlock, error) {
	query := s.db.Where("course_id = ?", courseID)
	if excludeDeleted {
		query = query.Where("deleted = ?", false)
	}
	var blocks []ContentBlock
	if err := query.Order("id").Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("list blocks for course %s: %w", courseID, err)
	}
	return blocks, nil
}

// SoftDeleteBlock marks a source block deleted without removing its rows, so
// history and pending external notifications survive.
func (s *Store) SoftDeleteBlock(id uint) error {
	err := s.db.Model(&ContentBlock{}).Where("id = ?", id).
		Update("deleted", true).Error
	if err != nil {
		return fmt.Errorf("soft-delete block %d: %w", id, err)
	}
	return nil
}

// HardDeleteBlock removes a destination block together with its items and
// the links targeting it. Never used for source blocks.
func (s *Store) HardDeleteBlock(id uint) error {
	return s.Transaction(func(tx *Store) error {
		if err := tx.db.Where("target_block_id = ?", id).Delete(&TranslationLink{}).Error; err != nil {
			return fmt.Errorf("delete links for block %d: %w", id, err)
		}
		if err := tx.db.Where("block_id = ?", id).Delete(&ContentItem{}).Error; err != nil {
			return fmt.Errorf("delete items for block %d: %w", id, err)
		}
		if err := tx.db.Delete(&ContentBlock{}, id).Error; err != nil {
			return fmt.Errorf("delete block %d: %w", id, err)
		}
		return nil
	})
}

// --- content items ---

// CreateItem inserts a new content item.
func (s *Store) CreateItem(item *ContentItem) error {
	if err := s.db.Create(item).Error; err != nil {
		return fmt.Errorf("create item %s for block %d: %w", item.DataType, item.BlockID, err)
	}
	return nil
}

// SaveItem persists all fields of an existing item.
func (s *Store) SaveItem(item *ContentItem) error {
	if err := s.db.Save(item).Error; err != nil {
		return fmt.Errorf("save item %d: %w", item.ID, err)
	}
	return nil
}

// GetItem retrieves an item by primary key. Returns nil, nil when absent.
func (s *Store) GetItem(id uint) (*ContentItem, error) {
	var item ContentItem
	err := s.db.First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return &item, nil
}

// ItemForBlock retrieves the item of one data type for a block.
// Returns nil, nil when absent.
func (s *Store) ItemForBlock(blockID uint, dataType string) (*ContentItem, error) {
	var item ContentItem
	err := s.db.Where("block_id = ? AND data_type = ?", blockID, dataType).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item %s for block %d: %w", dataType, blockID, err)
	}
	return &item, nil
}

// ItemsForBlock lists all items of a block ordered by data type.
func (s *Store) ItemsForBlock(blockID uint) ([]ContentItem, error) {
	var items []ContentItem
	err := s.db.Where("block_id = ?", blockID).Order("data_type").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list items for block %d: %w", blockID, err)
	}
	return items, nil
}

// DirtyItems lists items whose content or mapping changed since the last
// successful push, joined with their owning non-deleted blocks.
func (s *Store) DirtyItems() ([]ContentItem, error) {
	var items []ContentItem
	err := s.db.
		Joins("JOIN content_blocks ON content_blocks.id = content_items.block_id").
		Where("content_blocks.deleted = ?", false).
		Where("content_items.content_updated = ? OR content_items.mapping_updated = ?", true, true).
		Order("content_items.block_id, content_items.data_type").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list dirty items: %w", err)
	}
	return items, nil
}

// --- candidate lookups used by the mapping resolver ---

// ItemsByBlockSuffix finds non-deleted source items in a course whose block
// ID ends with the given reference key, for one data type.
func (s *Store) ItemsByBlockSuffix(courseID, suffix, dataType string) ([]ContentItem, error) {
	var items []ContentItem
	err := s.db.
		Joins("JOIN content_blocks ON content_blocks.id = content_items.block_id").
		Where("content_blocks.course_id = ? AND content_blocks.deleted = ?", courseID, false).
		Where("content_blocks.block_id LIKE ?", "%"+suffix).
		Where("content_items.data_type = ?", dataType).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("find items by block suffix %s: %w", suffix, err)
	}
	return items, nil
}

// ItemsByParentAndValue finds non-deleted source items in a course scoped to
// blocks under one parent, matching data type and exact raw value.
func (s *Store) ItemsByParentAndValue(courseID, parentBlockID, dataType, value string) ([]ContentItem, error) {
	var items []ContentItem
	err := s.db.
		Joins("JOIN content_blocks ON content_blocks.id = content_items.block_id").
		Where("content_blocks.course_id = ? AND content_blocks.deleted = ?", courseID, false).
		Where("content_blocks.parent_id = ?", parentBlockID).
		Where("content_items.data_type = ? AND content_items.data = ?", dataType, value).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("find items under parent %s: %w", parentBlockID, err)
	}
	return items, nil
}

// ItemsByValue finds non-deleted source items in a course matching data type
// and exact raw value.
func (s *Store) ItemsByValue(courseID, dataType, value string) ([]ContentItem, error) {
	var items []ContentItem
	err := s.db.
		Joins("JOIN content_blocks ON content_blocks.id = content_items.block_id").
		Where("content_blocks.course_id = ? AND content_blocks.deleted = ?", courseID, false).
		Where("content_items.data_type = ? AND content_items.data = ?", dataType, value).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("find items by value in course %s: %w", courseID, err)
	}
	return items, nil
}
