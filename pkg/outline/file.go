package outline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// courseDocument is the on-disk YAML shape of one exported course.
type courseDocument struct {
	CourseID    string    `yaml:"course_id"`
	Name        string    `yaml:"name"`
	Language    string    `yaml:"language"`
	Description string    `yaml:"description"`
	Root        *nodeSpec `yaml:"root"`
}

type nodeSpec struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Fields   map[string]string `yaml:"fields,omitempty"`
	Children []*nodeSpec       `yaml:"children,omitempty"`
}

// FileProvider serves course outlines from a directory of YAML exports, one
// file per course. WriteFields edits the export in place with an atomic
// temp-file rename.
type FileProvider struct {
	dir string
	mu  sync.Mutex
}

// NewFileProvider creates a provider reading from dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

var _ Provider = (*FileProvider)(nil)

// Root returns the outline tree of a course.
func (p *FileProvider) Root(_ context.Context, courseID string) (*Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, _, err := p.load(courseID)
	if err != nil {
		return nil, err
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("course %s export has no root block", courseID)
	}
	return buildBlock(doc.Root, ""), nil
}

// CourseInfo returns course metadata.
func (p *FileProvider) CourseInfo(_ context.Context, courseID string) (Info, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, _, err := p.load(courseID)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: doc.Name, Language: doc.Language, Description: doc.Description}, nil
}

// WriteFields updates field values of one block across the course exports.
func (p *FileProvider) WriteFields(_ context.Context, blockID string, fields map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("read outline directory %s: %w", p.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		doc, err := readDocument(path)
		if err != nil {
			return err
		}
		node := findNode(doc.Root, blockID)
		if node == nil {
			continue
		}
		if node.Fields == nil {
			node.Fields = make(map[string]string, len(fields))
		}
		for name, value := range fields {
			node.Fields[name] = value
		}
		return writeDocument(path, doc)
	}
	return fmt.Errorf("block %s not found in any course export", blockID)
}

func (p *FileProvider) load(courseID string) (*courseDocument, string, error) {
	path := filepath.Join(p.dir, courseFileName(courseID))
	doc, err := readDocument(path)
	if err != nil {
		return nil, "", err
	}
	return doc, path, nil
}

func readDocument(path string) (*courseDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read course export %s: %w", path, err)
	}
	var doc courseDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse course export %s: %w", path, err)
	}
	return &doc, nil
}

// writeDocument saves via temp file and rename so readers never observe a
// partial export.
func writeDocument(path string, doc *courseDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal course export: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".course-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace course export: %w", err)
	}
	tmpName = ""
	return nil
}

// courseFileName flattens a course ID into a file name. Course IDs may carry
// slashes in the legacy org/course/run form.
func courseFileName(courseID string) string {
	return strings.ReplaceAll(courseID, "/", "_") + ".yaml"
}

func buildBlock(spec *nodeSpec, parentID string) *Block {
	block := &Block{
		ID:        spec.ID,
		ParentID:  parentID,
		BlockType: spec.Type,
		Fields:    spec.Fields,
	}
	for _, child := range spec.Children {
		block.Children = append(block.Children, buildBlock(child, spec.ID))
	}
	return block
}

func findNode(spec *nodeSpec, blockID string) *nodeSpec {
	if spec == nil {
		return nil
	}
	if spec.ID == blockID {
		return spec
	}
	for _, child := range spec.Children {
		if found := findNode(child, blockID); found != nil {
			return found
		}
	}
	return nil
}
