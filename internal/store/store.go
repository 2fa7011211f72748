// Package store owns the durable board state: one board.json document plus
// one markdown file per work item, physically located under a directory named
// after the item's current stage. The document is authoritative; item file
// locations are a projection reconciled on read.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"crewboard/internal/domain"
)

// BoardFileName is the root document inside the board directory.
const BoardFileName = "board.json"

// ArchiveDirName holds per-mission archives inside the board directory.
const ArchiveDirName = "archive"

type Store struct {
	Dir string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// BoardPath returns the board document path.
func (s *Store) BoardPath() string { return filepath.Join(s.Dir, BoardFileName) }

// ActivityLogPath returns the activity feed path.
func (s *Store) ActivityLogPath() string { return filepath.Join(s.Dir, "activity.log") }

// StageDir returns the directory holding item files for a stage.
func (s *Store) StageDir(stage domain.Stage) string {
	return filepath.Join(s.Dir, string(stage))
}

// ArchiveDir returns the archive directory for a mission label.
func (s *Store) ArchiveDir(label string) string {
	return filepath.Join(s.Dir, ArchiveDirName, label)
}

// Exists reports whether a board document is already present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.BoardPath())
	return err == nil
}

// Init creates the board directory layout and writes an empty board document.
func (s *Store) Init(missionName string) (*domain.Board, error) {
	if s.Exists() {
		return nil, domain.Errf(domain.CodeValidation, "",
			"board already initialized at %s", s.BoardPath())
	}
	for _, stage := range domain.Stages {
		if err := os.MkdirAll(s.StageDir(stage), 0o755); err != nil {
			return nil, fmt.Errorf("create stage dir: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(s.Dir, ArchiveDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	board := domain.NewBoard(missionName)
	if err := s.SaveBoard(board); err != nil {
		return nil, err
	}
	return board, nil
}

// LoadBoard reads the board document. A document that fails to parse is a
// fatal store corruption, surfaced as SERVER_ERROR.
func (s *Store) LoadBoard() (*domain.Board, error) {
	data, err := os.ReadFile(s.BoardPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Errf(domain.CodeValidation, "",
				"no board at %s; run cb mission init first", s.BoardPath())
		}
		return nil, domain.Errf(domain.CodeServerError, "", "read board: %v", err)
	}
	var board domain.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, domain.Errf(domain.CodeServerError, "", "parse board document: %v", err)
	}
	board.Normalize()
	return &board, nil
}

// SaveBoard writes the board document atomically: write to a temp file in the
// same directory, then rename over the target, so a crash mid-write never
// leaves a torn document.
func (s *Store) SaveBoard(board *domain.Board) error {
	data, err := json.MarshalIndent(board, "", "  ")
	if err != nil {
		return domain.Errf(domain.CodeServerError, "", "encode board: %v", err)
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(s.Dir, BoardFileName+".tmp-*")
	if err != nil {
		return domain.Errf(domain.CodeServerError, "", "write board: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.Errf(domain.CodeServerError, "", "write board: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.Errf(domain.CodeServerError, "", "sync board: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.Errf(domain.CodeServerError, "", "close board: %v", err)
	}
	if err := os.Rename(tmpName, s.BoardPath()); err != nil {
		os.Remove(tmpName)
		return domain.Errf(domain.CodeServerError, "", "replace board: %v", err)
	}
	return nil
}
