package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crewboard/internal/domain"
	"crewboard/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(t.TempDir())
	if _, err := s.Init("orion"); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestInitCreatesLayout(t *testing.T) {
	s := newTestStore(t)
	for _, stage := range domain.Stages {
		if info, err := os.Stat(s.StageDir(stage)); err != nil || !info.IsDir() {
			t.Errorf("missing stage dir %s: %v", stage, err)
		}
	}
	if !s.Exists() {
		t.Fatal("board document not written")
	}
	if _, err := s.Init("orion"); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("re-init must fail with VALIDATION_ERROR, got %v", err)
	}
}

func TestBoardRoundTrip(t *testing.T) {
	s := newTestStore(t)
	board, err := s.LoadBoard()
	if err != nil {
		t.Fatal(err)
	}
	two := 2
	board.Phases[domain.StageReady] = []string{"a", "b"}
	board.WIPLimits[domain.StageInBuild] = &two
	board.Assignments["a"] = domain.Assignment{Agent: "agentA", ClaimedAt: "2026-01-02T03:04:05Z", Token: "tok"}
	if err := s.SaveBoard(board); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.LoadBoard()
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Phases[domain.StageReady]; len(got) != 2 || got[0] != "a" {
		t.Fatalf("phases lost: %v", got)
	}
	if limit := loaded.WIPLimits[domain.StageInBuild]; limit == nil || *limit != 2 {
		t.Fatalf("wip limit lost: %v", limit)
	}
	if loaded.Assignments["a"].Agent != "agentA" {
		t.Fatalf("assignment lost: %+v", loaded.Assignments)
	}
}

func TestSaveBoardLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	board, _ := s.LoadBoard()
	if err := s.SaveBoard(board); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Fatalf("stray temp file %s", entry.Name())
		}
	}
}

func TestLoadBoardMissing(t *testing.T) {
	s := store.New(t.TempDir())
	_, err := s.LoadBoard()
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestLoadBoardCorrupt(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.BoardPath(), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.LoadBoard()
	if domain.CodeOf(err) != domain.CodeServerError {
		t.Fatalf("expected SERVER_ERROR, got %v", err)
	}
}

func TestItemFileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	item := &domain.WorkItem{
		ID:           "42",
		Title:        "Implement the Frobnicator!",
		Type:         "feature",
		Status:       "pending",
		Stage:        domain.StageIntake,
		Dependencies: []string{"41"},
	}
	body := []byte("# Implement the Frobnicator!\n\nDetails here.\n")
	if err := s.WriteItem(item, body); err != nil {
		t.Fatal(err)
	}
	loaded, loadedBody, err := s.ReadItem("42", domain.StageIntake)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Title != item.Title || loaded.Type != item.Type {
		t.Fatalf("metadata lost: %+v", loaded)
	}
	if len(loaded.Dependencies) != 1 || loaded.Dependencies[0] != "41" {
		t.Fatalf("dependencies lost: %v", loaded.Dependencies)
	}
	if string(loadedBody) != string(body) {
		t.Fatalf("body mismatch:\n%q\n%q", loadedBody, body)
	}
	// file name is a slug of id and title
	name := store.ItemFileName(item)
	if strings.ContainsAny(name, " !") || !strings.HasSuffix(name, ".md") {
		t.Fatalf("bad file name %q", name)
	}
}

func TestWriteItemDefaultBody(t *testing.T) {
	s := newTestStore(t)
	item := &domain.WorkItem{ID: "1", Title: "empty body", Stage: domain.StageIntake}
	if err := s.WriteItem(item, nil); err != nil {
		t.Fatal(err)
	}
	_, body, err := s.ReadItem("1", domain.StageIntake)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "## Acceptance Criteria") {
		t.Fatalf("expected templated body, got %q", body)
	}
}

func TestReadItemScansAllStages(t *testing.T) {
	s := newTestStore(t)
	item := &domain.WorkItem{ID: "7", Title: "mislocated", Stage: domain.StageReview}
	if err := s.WriteItem(item, nil); err != nil {
		t.Fatal(err)
	}
	// a wrong hint still finds the file, and the directory wins
	found, _, err := s.ReadItem("7", domain.StageIntake)
	if err != nil {
		t.Fatal(err)
	}
	if found.Stage != domain.StageReview {
		t.Fatalf("expected directory-derived stage review, got %s", found.Stage)
	}
}

func TestMoveItemRelocates(t *testing.T) {
	s := newTestStore(t)
	item := &domain.WorkItem{ID: "9", Title: "mover", Stage: domain.StageReady}
	if err := s.WriteItem(item, []byte("body\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.MoveItem(item, domain.StageReady, domain.StageInTest); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.StageDir(domain.StageReady), store.ItemFileName(item))); !os.IsNotExist(err) {
		t.Fatal("old file still present")
	}
	found, body, err := s.ReadItem("9", domain.StageInTest)
	if err != nil {
		t.Fatal(err)
	}
	if found.Stage != domain.StageInTest || string(body) != "body\n" {
		t.Fatalf("relocation lost data: %+v %q", found, body)
	}
}

func TestArchiveItem(t *testing.T) {
	s := newTestStore(t)
	item := &domain.WorkItem{ID: "11", Title: "archived", Stage: domain.StageDone}
	if err := s.WriteItem(item, []byte("done\n")); err != nil {
		t.Fatal(err)
	}
	dir := s.ArchiveDir("orion-2026-01-02")
	if err := s.ArchiveItem(item, dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, store.ItemFileName(item))); err != nil {
		t.Fatalf("archived file missing: %v", err)
	}
	if _, _, err := s.ReadItem("11", domain.StageDone); domain.CodeOf(err) != domain.CodeItemNotFound {
		t.Fatalf("expected item gone from stage dirs, got %v", err)
	}
}
