package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EmptyCuePlaceholder substitutes empty cue text in decomposed units; the
// translation service rejects empty values. Recompose maps it back to the
// empty string.
const EmptyCuePlaceholder = "...."

// SubtitleTransformer decomposes timed-caption documents of the form
// {"start": [...], "end": [...], "text": [...]} into one unit per cue,
// keyed "subtitle-<start>-<end>-<index>" with a 1-based index.
type SubtitleTransformer struct{}

// NewSubtitleTransformer returns a transformer for timed captions.
func NewSubtitleTransformer() *SubtitleTransformer {
	return &SubtitleTransformer{}
}

// cueDocument mirrors the stored transcript JSON. Timestamps are kept as
// json.Number so keys reproduce the source representation exactly.
type cueDocument struct {
	Start []json.Number `json:"start"`
	End   []json.Number `json:"end"`
	Text  []string      `json:"text"`
}

func parseCueDocument(raw string) (*cueDocument, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc cueDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &doc, nil
}

func (d *cueDocument) key(i int) string {
	return fmt.Sprintf("subtitle-%s-%s-%d", d.Start[i], d.End[i], i+1)
}

func (t *SubtitleTransformer) Decompose(raw string) (map[string]string, error) {
	doc, err := parseCueDocument(raw)
	if err != nil {
		return nil, err
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}

	units := make(map[string]string, len(doc.Text))
	for i, text := range doc.Text {
		text = strings.TrimSpace(text)
		if text == "" {
			text = EmptyCuePlaceholder
		}
		units[doc.key(i)] = text
	}
	return units, nil
}

func (t *SubtitleTransformer) Recompose(template string, units map[string]string) (string, error) {
	doc, err := parseCueDocument(template)
	if err != nil {
		return "", err
	}
	if err := doc.validate(); err != nil {
		return "", err
	}

	text := make([]string, len(doc.Text))
	for i := range doc.Text {
		key := doc.key(i)
		value, ok := units[key]
		if !ok {
			return "", &MissingKeyError{Key: key}
		}
		if value == EmptyCuePlaceholder {
			value = ""
		}
		text[i] = value
	}
	doc.Text = text

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("serialize transcript: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Validate checks that raw parses and carries both time-point arrays sized to
// the text array.
func (t *SubtitleTransformer) Validate(raw string) error {
	doc, err := parseCueDocument(raw)
	if err != nil {
		return err
	}
	return doc.validate()
}

func (d *cueDocument) validate() error {
	if d.Start == nil || d.End == nil {
		return fmt.Errorf("transcript is missing start or end time points")
	}
	if len(d.Start) != len(d.Text) || len(d.End) != len(d.Text) {
		return fmt.Errorf("transcript arrays disagree: %d start, %d end, %d text",
			len(d.Start), len(d.End), len(d.Text))
	}
	return nil
}
