package transform

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// acceptedResponseTags are the response element kinds a problem block may
// contain for its markup to be decomposable.
var acceptedResponseTags = []string{
	"choiceresponse",
	"optionresponse",
	"multiplechoiceresponse",
	"numericalresponse",
	"stringresponse",
}

// answerAttrTag marks elements whose translatable value lives in an
// "answer" attribute rather than in element text.
const answerAttrTag = "stringresponse"

// MarkupTransformer decomposes XML-like problem markup into one unit per
// text-bearing leaf, keyed by the element's structural path encoded with
// dots and 1-based sibling indices (e.g.
// "problem.choiceresponse.checkboxgroup.choice.1").
type MarkupTransformer struct{}

// NewMarkupTransformer returns a transformer for problem markup.
func NewMarkupTransformer() *MarkupTransformer {
	return &MarkupTransformer{}
}

func (t *MarkupTransformer) Decompose(raw string) (map[string]string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse markup: document has no root element")
	}

	units := make(map[string]string)
	collectUnits(root, pathSegment(root), units)
	return units, nil
}

func (t *MarkupTransformer) Recompose(template string, units map[string]string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(template); err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("parse template: document has no root element")
	}

	targets := make(map[string]markupTarget)
	collectTargets(root, pathSegment(root), targets)

	for key, value := range units {
		tgt, ok := targets[key]
		if !ok {
			return "", &MissingPathError{Key: key}
		}
		if tgt.attr != "" {
			tgt.el.CreateAttr(tgt.attr, value)
		} else {
			tgt.el.SetText(value)
		}
	}

	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize markup: %w", err)
	}
	return out, nil
}

// Validate checks that raw parses, is rooted at <problem>, and either has no
// child elements or contains at least one accepted response element.
func (t *MarkupTransformer) Validate(raw string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return fmt.Errorf("parse markup: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("markup has no root element")
	}
	if root.Tag != "problem" {
		return fmt.Errorf("markup root is %q, want \"problem\"", root.Tag)
	}
	if len(root.ChildElements()) == 0 {
		return nil
	}
	for _, tag := range acceptedResponseTags {
		if root.FindElement(".//"+tag) != nil {
			return nil
		}
	}
	return fmt.Errorf("markup contains no supported response element")
}

// markupTarget addresses one substitution point in a parsed template.
type markupTarget struct {
	el   *etree.Element
	attr string
}

func collectUnits(el *etree.Element, path string, units map[string]string) {
	if el.Tag == answerAttrTag {
		if answer := strings.TrimSpace(el.SelectAttrValue("answer", "")); answer != "" {
			units[path] = answer
		}
	} else if len(el.ChildElements()) == 0 {
		if text := strings.TrimSpace(el.Text()); text != "" {
			units[path] = text
		}
	}
	for _, child := range el.ChildElements() {
		collectUnits(child, path+"."+pathSegment(child), units)
	}
}

func collectTargets(el *etree.Element, path string, targets map[string]markupTarget) {
	if el.Tag == answerAttrTag {
		targets[path] = markupTarget{el: el, attr: "answer"}
	} else if len(el.ChildElements()) == 0 {
		targets[path] = markupTarget{el: el}
	}
	for _, child := range el.ChildElements() {
		collectTargets(child, path+"."+pathSegment(child), targets)
	}
}

// pathSegment returns the key segment for an element: its tag, with a 1-based
// index appended when same-tag siblings exist. Characters outside the
// service's accepted key alphabet are replaced with '-'.
func pathSegment(el *etree.Element) string {
	tag := sanitizeKeyToken(el.Tag)
	parent := el.Parent()
	if parent == nil {
		return tag
	}
	same, index := 0, 0
	for _, sibling := range parent.ChildElements() {
		if sibling.Tag == el.Tag {
			same++
			if sibling == el {
				index = same
			}
		}
	}
	if same > 1 {
		return fmt.Sprintf("%s.%d", tag, index)
	}
	return tag
}

func sanitizeKeyToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
