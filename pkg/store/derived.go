package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResetTranslations clears every translation derived from an item: the text,
// approval, and fetch bookkeeping on each of its links, the applied state of
// each linked destination block, and that block's version history. Invoked
// whenever base content changes so stale translations are never silently kept.
func (s *Store) ResetTranslations(itemID uint) error {
	links, err := s.LinksForItem(itemID)
	if err != nil {
		return err
	}
	for i := range links {
		link := &links[i]
		link.Translation = nil
		link.Approved = false
		link.ApprovedBy = ""
		link.LastFetched = nil
		link.FetchedRevisions = nil
		if err := s.SaveLink(link); err != nil {
			return err
		}

		block, err := s.GetBlock(link.TargetBlockID)
		if err != nil {
			return err
		}
		if block == nil {
			continue
		}
		block.AppliedTranslation = false
		block.AppliedVersionID = nil
		block.Translated = false
		if err := s.SaveBlock(block); err != nil {
			return err
		}
		if err := s.DeleteVersionsForBlock(block.BlockID); err != nil {
			return err
		}
	}
	return nil
}

// IsFullyTranslated reports whether every link of a destination block carries
// non-empty text and, for decomposed source items, a value for every parsed
// key. A block with no links is not translated.
func (s *Store) IsFullyTranslated(targetBlockID uint) (bool, error) {
	links, err := s.LinksForTargetBlock(targetBlockID)
	if err != nil {
		return false, err
	}
	if len(links) == 0 {
		return false, nil
	}
	for _, link := range links {
		if link.Translation == nil || strings.TrimSpace(*link.Translation) == "" {
			return false, nil
		}
		item, err := s.GetItem(link.SourceItemID)
		if err != nil {
			return false, err
		}
		if item == nil || item.ParsedKeys == nil {
			continue
		}
		translated, err := DecodeTranslationMap(*link.Translation)
		if err != nil {
			return false, nil
		}
		for key := range item.ParsedKeys {
			if strings.TrimSpace(translated[key]) == "" {
				return false, nil
			}
		}
	}
	return true, nil
}

// DecodeTranslationMap parses the JSON object text a link stores for a
// decomposed source item.
func DecodeTranslationMap(text string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("decode translation map: %w", err)
	}
	return m, nil
}

// EncodeTranslationMap serializes a translation map to the link's stored form.
func EncodeTranslationMap(m map[string]string) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode translation map: %w", err)
	}
	return string(data), nil
}

// BlockStatus is the read surface exposed to dashboards.
type BlockStatus struct {
	BlockID     string           `json:"block_id"`
	CourseID    string           `json:"course_id"`
	BlockType   string           `json:"block_type"`
	Direction   string           `json:"direction"`
	Mapped      bool             `json:"mapped"`
	Translated  bool             `json:"translated"`
	Applied     bool             `json:"applied"`
	Approved    bool             `json:"approved"`
	ApprovedBy  string           `json:"approved_by,omitempty"`
	LastFetched *time.Time       `json:"last_fetched,omitempty"`
	Versions    []VersionSummary `json:"versions"`
}

// VersionSummary is one entry of a block's version history.
type VersionSummary struct {
	ID         uint      `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ApprovedBy string    `json:"approved_by"`
	Applied    bool      `json:"applied"`
}

// StatusSnapshot assembles the status of one block by block ID.
// Returns nil, nil when the block is unknown.
func (s *Store) StatusSnapshot(blockID string) (*BlockStatus, error) {
	block, err := s.GetBlockByBlockID(blockID)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}

	links, err := s.LinksForTargetBlock(block.ID)
	if err != nil {
		return nil, err
	}

	status := &BlockStatus{
		BlockID:    block.BlockID,
		CourseID:   block.CourseID,
		BlockType:  block.BlockType,
		Direction:  block.Direction,
		Mapped:     len(links) > 0,
		Translated: block.Translated,
		Applied:    block.AppliedTranslation,
		Approved:   len(links) > 0,
		Versions:   []VersionSummary{},
	}
	for _, link := range links {
		if !link.Approved {
			status.Approved = false
		} else if status.ApprovedBy == "" {
			status.ApprovedBy = link.ApprovedBy
		}
		if link.LastFetched != nil &&
			(status.LastFetched == nil || link.LastFetched.After(*status.LastFetched)) {
			status.LastFetched = link.LastFetched
		}
	}
	if !status.Approved {
		status.ApprovedBy = ""
	}

	versions, err := s.VersionsForBlock(block.BlockID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		status.Versions = append(status.Versions, VersionSummary{
			ID:         v.ID,
			CreatedAt:  v.CreatedAt,
			ApprovedBy: v.ApprovedBy,
			Applied:    block.AppliedVersionID != nil && *block.AppliedVersionID == v.ID,
		})
	}
	return status, nil
}
