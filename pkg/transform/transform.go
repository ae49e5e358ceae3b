// Package transform converts block content between its raw stored form and a
// flat map of translation units keyed by strings the translation service
// accepts (letters, digits, '.', '_' and '-' only).
package transform

import "fmt"

// BlockType identifies the kind of a course content block.
type BlockType string

const (
	BlockCourse     BlockType = "course"
	BlockChapter    BlockType = "chapter"
	BlockSequential BlockType = "sequential"
	BlockVertical   BlockType = "vertical"
	BlockHTML       BlockType = "html"
	BlockProblem    BlockType = "problem"
	BlockVideo      BlockType = "video"
)

// Data types a block can expose for translation.
const (
	DataDisplayName = "display_name"
	DataContent     = "content"
	DataTranscript  = "transcript"
)

// Transformer decomposes raw content into translation units and recomposes
// translated units back into raw content using the original as a template.
type Transformer interface {
	// Decompose returns one unit per translatable atom of raw.
	// Re-decomposing recomposed content yields the same units modulo
	// whitespace trimming.
	Decompose(raw string) (map[string]string, error)

	// Recompose rebuilds raw content from the template, substituting each
	// unit's value at the position its key addresses.
	Recompose(template string, units map[string]string) (string, error)

	// Validate reports whether raw content has the shape this transformer
	// requires before any decomposition is attempted.
	Validate(raw string) error
}

// MissingPathError indicates a unit key whose structural path no longer
// exists in the recomposition template.
type MissingPathError struct {
	Key string
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("no element at path %q in template", e.Key)
}

// MissingKeyError indicates an expected unit key absent from the supplied
// translation map.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("translation is missing key %q", e.Key)
}

// Registry maps block types to their translatable fields and, for block types
// whose content decomposes, to the transformer handling that field. Unknown
// block types are simply not tracked.
type Registry struct {
	fields       map[BlockType][]string
	transformers map[BlockType]Transformer
	parsedField  map[BlockType]string
}

// NewRegistry returns the default registry: structural blocks expose only
// their display name, html blocks additionally carry unparsed content,
// problem blocks decompose their markup and video blocks their transcript.
func NewRegistry() *Registry {
	return &Registry{
		fields: map[BlockType][]string{
			BlockCourse:     {DataDisplayName},
			BlockChapter:    {DataDisplayName},
			BlockSequential: {DataDisplayName},
			BlockVertical:   {DataDisplayName},
			BlockHTML:       {DataDisplayName, DataContent},
			BlockProblem:    {DataDisplayName, DataContent},
			BlockVideo:      {DataDisplayName, DataTranscript},
		},
		transformers: map[BlockType]Transformer{
			BlockProblem: NewMarkupTransformer(),
			BlockVideo:   NewSubtitleTransformer(),
		},
		parsedField: map[BlockType]string{
			BlockProblem: DataContent,
			BlockVideo:   DataTranscript,
		},
	}
}

// Tracked reports whether the block type participates in translation at all.
func (r *Registry) Tracked(t BlockType) bool {
	_, ok := r.fields[t]
	return ok
}

// Fields returns the translatable data types of a block type, nil for
// untracked types.
func (r *Registry) Fields(t BlockType) []string {
	return r.fields[t]
}

// For returns the transformer for the block type's decomposable field, or nil
// when the type has no registered transformer.
func (r *Registry) For(t BlockType) Transformer {
	return r.transformers[t]
}

// ParsedField returns the data type that For(t) operates on, empty when the
// block type has none.
func (r *Registry) ParsedField(t BlockType) string {
	return r.parsedField[t]
}
