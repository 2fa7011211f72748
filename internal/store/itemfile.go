package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"crewboard/internal/domain"
)

// ItemFileName returns the slugified file name for an item.
func ItemFileName(item *domain.WorkItem) string {
	return slug.Make(item.ID+"-"+item.Title) + ".md"
}

// ItemPath returns the path an item file should have in the given stage.
func (s *Store) ItemPath(stage domain.Stage, item *domain.WorkItem) string {
	return filepath.Join(s.StageDir(stage), ItemFileName(item))
}

// WriteItem renders the item file (YAML frontmatter + markdown body) into its
// stage directory.
func (s *Store) WriteItem(item *domain.WorkItem, body []byte) error {
	if len(body) == 0 {
		body = DefaultBody(item)
	}
	data, err := renderItemFile(item, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.StageDir(item.Stage), 0o755); err != nil {
		return fmt.Errorf("create stage dir: %w", err)
	}
	return os.WriteFile(s.ItemPath(item.Stage, item), data, 0o644)
}

// ReadItem loads an item file, preferring the directory of hintStage and
// falling back to a scan of every stage directory. The returned body excludes
// the frontmatter block.
func (s *Store) ReadItem(id string, hintStage domain.Stage) (*domain.WorkItem, []byte, error) {
	if hintStage != "" {
		if item, body, err := s.readItemFromDir(id, hintStage); err == nil {
			return item, body, nil
		}
	}
	for _, stage := range domain.Stages {
		if stage == hintStage {
			continue
		}
		if item, body, err := s.readItemFromDir(id, stage); err == nil {
			return item, body, nil
		}
	}
	return nil, nil, domain.Errf(domain.CodeItemNotFound, id, "no item file for %s", id)
}

func (s *Store) readItemFromDir(id string, stage domain.Stage) (*domain.WorkItem, []byte, error) {
	entries, err := os.ReadDir(s.StageDir(stage))
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(s.StageDir(stage), entry.Name())
		item, body, err := parseItemFile(path)
		if err != nil {
			continue
		}
		if item.ID == id {
			// The directory, not the frontmatter, is the item's location.
			item.Stage = stage
			return item, body, nil
		}
	}
	return nil, nil, domain.Errf(domain.CodeItemNotFound, id, "no item file for %s", id)
}

// MoveItem relocates an item file between stage directories, rewriting the
// frontmatter so the recorded stage matches the new location.
func (s *Store) MoveItem(item *domain.WorkItem, from, to domain.Stage) error {
	_, body, err := s.ReadItem(item.ID, from)
	if err != nil {
		return err
	}
	oldPath := s.ItemPath(from, item)
	item.Stage = to
	if err := s.WriteItem(item, body); err != nil {
		return err
	}
	if oldPath != s.ItemPath(to, item) {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old item file: %w", err)
		}
	}
	return nil
}

// ArchiveItem moves an item file out of its stage directory into archiveDir.
func (s *Store) ArchiveItem(item *domain.WorkItem, archiveDir string) error {
	_, body, err := s.ReadItem(item.ID, item.Stage)
	if err != nil {
		return err
	}
	data, err := renderItemFile(item, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	dst := filepath.Join(archiveDir, ItemFileName(item))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	if err := os.Remove(s.ItemPath(item.Stage, item)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archived item file: %w", err)
	}
	return nil
}

// DefaultBody renders the initial markdown narrative for a new item.
func DefaultBody(item *domain.WorkItem) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", item.Title)
	buf.WriteString("## Objective\n\n_TBD_\n\n")
	buf.WriteString("## Acceptance Criteria\n\n- [ ] _TBD_\n")
	return buf.Bytes()
}

func renderItemFile(item *domain.WorkItem, body []byte) ([]byte, error) {
	meta, err := yaml.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(meta, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(bytes.TrimLeft(body, "\n"))
	return buf.Bytes(), nil
}

func parseItemFile(path string) (*domain.WorkItem, []byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, nil, fmt.Errorf("item file %s: missing frontmatter", path)
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return nil, nil, fmt.Errorf("item file %s: malformed frontmatter", path)
	}
	var item domain.WorkItem
	if err := yaml.Unmarshal(parts[0], &item); err != nil {
		return nil, nil, fmt.Errorf("item file %s: parse frontmatter: %w", path, err)
	}
	if item.ID == "" {
		return nil, nil, fmt.Errorf("item file %s: frontmatter missing id", path)
	}
	body := bytes.TrimLeft(parts[1], "\n")
	return &item, body, nil
}
