// Package approval promotes reviewed translations into immutable version
// snapshots and writes applied versions back onto live course content.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wikilearn/metasync/pkg/outline"
	"github.com/wikilearn/metasync/pkg/store"
	"github.com/wikilearn/metasync/pkg/transform"
)

// ErrAlreadyApproved rejects a second approval of the same translation state.
var ErrAlreadyApproved = errors.New("block translations are already approved")

// ErrNotFullyTranslated rejects approval while any unit is still missing.
var ErrNotFullyTranslated = errors.New("block is not fully translated")

// VersionMismatchError reports an attempt to apply a version to a block it
// does not belong to.
type VersionMismatchError struct {
	VersionID      uint
	VersionBlockID string
	BlockID        string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version %d belongs to block %s, not %s", e.VersionID, e.VersionBlockID, e.BlockID)
}

// Service implements the approval and version-application operations.
type Service struct {
	store    *store.Store
	provider outline.Provider
	registry *transform.Registry
	logger   *slog.Logger
}

// NewService creates an approval service. A nil logger falls back to
// slog.Default.
func NewService(st *store.Store, provider outline.Provider, registry *transform.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, provider: provider, registry: registry, logger: logger}
}

// Approve marks every link of a fully translated block approved, snapshots
// the merged state as a new immutable version, and applies it.
func (s *Service) Approve(ctx context.Context, blockID, approver string) (*store.TranslationVersion, error) {
	block, err := s.store.GetBlockByBlockID(blockID)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("unknown block %s", blockID)
	}

	links, err := s.store.LinksForTargetBlock(block.ID)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("block %s has no translation links", blockID)
	}

	allApproved := true
	for _, link := range links {
		if !link.Approved {
			allApproved = false
			break
		}
	}
	if allApproved {
		return nil, ErrAlreadyApproved
	}

	translated, err := s.store.IsFullyTranslated(block.ID)
	if err != nil {
		return nil, err
	}
	if !translated {
		return nil, ErrNotFullyTranslated
	}

	snapshot := store.SnapshotMap{}
	for i := range links {
		link := &links[i]
		link.Approved = true
		link.ApprovedBy = approver
		if err := s.store.SaveLink(link); err != nil {
			return nil, err
		}

		item, err := s.store.GetItem(link.SourceItemID)
		if err != nil {
			return nil, err
		}
		if item == nil || link.Translation == nil {
			continue
		}
		if item.ParsedKeys != nil {
			decoded, err := store.DecodeTranslationMap(*link.Translation)
			if err != nil {
				return nil, fmt.Errorf("link %d holds malformed translation: %w", link.ID, err)
			}
			snapshot[item.DataType] = decoded
		} else {
			snapshot[item.DataType] = *link.Translation
		}
	}

	version := &store.TranslationVersion{
		BlockID:    block.BlockID,
		Data:       snapshot,
		ApprovedBy: approver,
	}
	if err := s.store.CreateVersion(version); err != nil {
		return nil, err
	}

	if _, err := s.ApplyVersion(ctx, version.ID, block.BlockID); err != nil {
		return nil, err
	}
	return version, nil
}

// ApplyVersion recomposes a version's snapshot onto the live block and marks
// it as the block's applied version. Returns false without error when the
// version is already applied. blockID, when non-empty, guards against
// applying a version to the wrong block.
func (s *Service) ApplyVersion(ctx context.Context, versionID uint, blockID string) (bool, error) {
	version, err := s.store.GetVersion(versionID)
	if err != nil {
		return false, err
	}
	if version == nil {
		return false, fmt.Errorf("unknown version %d", versionID)
	}
	if blockID != "" && blockID != version.BlockID {
		return false, &VersionMismatchError{VersionID: version.ID, VersionBlockID: version.BlockID, BlockID: blockID}
	}

	block, err := s.store.GetBlockByBlockID(version.BlockID)
	if err != nil {
		return false, err
	}
	if block == nil {
		return false, fmt.Errorf("unknown block %s", version.BlockID)
	}
	if block.AppliedVersionID != nil && *block.AppliedVersionID == version.ID {
		return false, nil
	}

	fields := make(map[string]string, len(version.Data))
	for dataType, value := range version.Data {
		raw, err := s.renderField(block, dataType, value)
		if err != nil {
			var missingPath *transform.MissingPathError
			var missingKey *transform.MissingKeyError
			if errors.As(err, &missingPath) || errors.As(err, &missingKey) {
				s.logger.Warn("content drifted since snapshot, skipping field",
					"block_id", block.BlockID, "data_type", dataType, "error", err)
				continue
			}
			return false, err
		}
		fields[dataType] = raw
	}
	if len(fields) == 0 {
		return false, fmt.Errorf("version %d produced no applicable fields", version.ID)
	}

	if err := s.provider.WriteFields(ctx, block.BlockID, fields); err != nil {
		return false, fmt.Errorf("write fields for %s: %w", block.BlockID, err)
	}

	block.AppliedTranslation = true
	block.AppliedVersionID = &version.ID
	if err := s.store.SaveBlock(block); err != nil {
		return false, err
	}
	return true, nil
}

// renderField turns one snapshot entry back into raw content. Decomposed
// data types recompose through the block type's transformer against the
// block's current stored content as template.
func (s *Service) renderField(block *store.ContentBlock, dataType string, value any) (string, error) {
	blockType := transform.BlockType(block.BlockType)
	if s.registry.ParsedField(blockType) != dataType {
		text, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("snapshot entry %s is not flat text", dataType)
		}
		return text, nil
	}

	tr := s.registry.For(blockType)
	if tr == nil {
		return "", fmt.Errorf("no transformer registered for %s", block.BlockType)
	}
	units, err := unitMap(value)
	if err != nil {
		return "", fmt.Errorf("snapshot entry %s: %w", dataType, err)
	}

	item, err := s.store.ItemForBlock(block.ID, dataType)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", fmt.Errorf("block %s has no %s content to use as template", block.BlockID, dataType)
	}
	return tr.Recompose(item.Data, units)
}

// unitMap coerces a snapshot's nested value into a unit map. JSON columns
// scan nested objects as map[string]any.
func unitMap(value any) (map[string]string, error) {
	switch v := value.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		units := make(map[string]string, len(v))
		for key, entry := range v {
			text, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("unit %s is not a string", key)
			}
			units[key] = text
		}
		return units, nil
	default:
		return nil, fmt.Errorf("expected a unit map, got %T", value)
	}
}
