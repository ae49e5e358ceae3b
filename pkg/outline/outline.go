// Package outline defines the contract with the course-content system: a tree
// of identified blocks per course, course-level metadata, and a write path
// for applying translated fields back onto live content.
package outline

import (
	"context"
	"strings"
)

// Block is one node of a course outline as the provider reports it. Fields
// maps data-type names to raw values (display name, markup, transcript JSON).
type Block struct {
	ID        string
	ParentID  string
	BlockType string
	Fields    map[string]string
	Children  []*Block
}

// Info is course-level metadata used for message-group descriptions.
type Info struct {
	Name        string
	Language    string
	Description string
}

// Provider is the external outline collaborator. Implementations decide how
// blocks are stored and rendered; the engine depends only on this shape.
type Provider interface {
	// Root returns the outline tree of a course.
	Root(ctx context.Context, courseID string) (*Block, error)

	// CourseInfo returns course metadata.
	CourseInfo(ctx context.Context, courseID string) (Info, error)

	// WriteFields writes raw field values back onto a live block.
	WriteFields(ctx context.Context, blockID string, fields map[string]string) error
}

// Flatten returns the tree in pre-order, parents before children.
func Flatten(root *Block) []*Block {
	if root == nil {
		return nil
	}
	out := []*Block{root}
	for _, child := range root.Children {
		out = append(out, Flatten(child)...)
	}
	return out
}

// ReferenceKey extracts the run-independent trailing token of a block ID.
// Rerun block IDs substitute a run-specific prefix but preserve this token,
// so it links a rerun block back to its base counterpart. IDs without the
// separator are returned whole.
func ReferenceKey(blockID string) string {
	if i := strings.LastIndex(blockID, "@"); i >= 0 {
		return blockID[i+1:]
	}
	return blockID
}
