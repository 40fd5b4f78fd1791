package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"bindery/internal/conversion"
	"bindery/internal/errs"
	"bindery/internal/logging"
)

type fakeExtractor struct {
	mu        sync.Mutex
	pageCount int
	validate  error
	pageErrs  map[int]error
	extracted []int
}

func (f *fakeExtractor) Validate(string) error { return f.validate }

func (f *fakeExtractor) PageCount(string) (int, error) { return f.pageCount, nil }

func (f *fakeExtractor) ExtractPage(_ string, page int, destFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pageErrs[page]; err != nil {
		return err
	}
	f.extracted = append(f.extracted, page)
	return os.WriteFile(destFile, []byte(fmt.Sprintf("page %d", page)), 0o644)
}

func newTestBackend(ex extractor) *PDF {
	return &PDF{logger: logging.NewNop(), extract: ex}
}

func testConfig(t *testing.T) conversion.Config {
	t.Helper()
	dir := t.TempDir()
	pdf := filepath.Join(dir, "tome.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	return conversion.Config{
		PDFPath:   pdf,
		OutputDir: filepath.Join(dir, "out"),
	}.Normalize()
}

func TestConvertWritesModuleTree(t *testing.T) {
	cfg := testConfig(t)
	cfg.TOC = true
	b := newTestBackend(&fakeExtractor{pageCount: 3})

	var (
		mu       sync.Mutex
		percents []int
		indet    bool
	)
	hooks := Hooks{Progress: func(p int, msg string) {
		mu.Lock()
		defer mu.Unlock()
		if p < 0 {
			indet = true
			return
		}
		percents = append(percents, p)
	}}

	result, err := b.Convert(context.Background(), cfg, hooks, nil)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if result.PageCount != 3 || result.EntryCount != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}

	data, err := os.ReadFile(filepath.Join(result.ModulePath, "module.json"))
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest invalid: %v", err)
	}
	if m.ID != cfg.ModuleID || len(m.Entries) != 3 || len(m.TOC) != 3 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	for _, entry := range m.Entries {
		if _, err := os.Stat(filepath.Join(result.ModulePath, entry.File)); err != nil {
			t.Fatalf("journal file missing: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !indet {
		t.Fatal("expected an indeterminate preparing phase")
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Fatalf("expected final percent 100, got %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
}

func TestConvertHonorsPageSelection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pages = "2-3,5"
	ex := &fakeExtractor{pageCount: 10}
	b := newTestBackend(ex)

	result, err := b.Convert(context.Background(), cfg, Hooks{}, nil)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if result.EntryCount != 3 {
		t.Fatalf("expected 3 entries, got %d", result.EntryCount)
	}
}

func TestConvertRejectsBadSelection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pages = "90-95"
	b := newTestBackend(&fakeExtractor{pageCount: 10})

	_, err := b.Convert(context.Background(), cfg, Hooks{}, nil)
	var app *errs.AppError
	if !errors.As(err, &app) || app.Code != errs.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestConvertClassifiesMissingFile(t *testing.T) {
	cfg := testConfig(t)
	os.Remove(cfg.PDFPath)
	b := newTestBackend(&fakeExtractor{pageCount: 3})

	_, err := b.Convert(context.Background(), cfg, Hooks{}, nil)
	var app *errs.AppError
	if !errors.As(err, &app) || app.Code != errs.CodeFileNotFound {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestConvertCancelBetweenPages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 1
	b := newTestBackend(&fakeExtractor{pageCount: 50})

	var pagesDone atomic.Int32
	cancelled := func() bool { return pagesDone.Load() > 2 }
	hooks := Hooks{Progress: func(p int, _ string) {
		if p >= 0 && p < 100 {
			pagesDone.Add(1)
		}
	}}

	_, err := b.Convert(context.Background(), cfg, hooks, cancelled)
	if !errs.Cancelled(err) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestConvertPropagatesExtractionFailure(t *testing.T) {
	cfg := testConfig(t)
	b := newTestBackend(&fakeExtractor{
		pageCount: 3,
		pageErrs:  map[int]error{2: errors.New("xref table corrupt")},
	})

	_, err := b.Convert(context.Background(), cfg, Hooks{}, nil)
	var app *errs.AppError
	if !errors.As(err, &app) || app.Code != errs.CodePDFCorrupt {
		t.Fatalf("expected PDF_CORRUPT, got %v", err)
	}
}

func TestEntryIDDeterministicMode(t *testing.T) {
	cfg := conversion.Config{ModuleID: "tome", DeterministicIDs: true}
	if entryID(cfg, 4) != entryID(cfg, 4) {
		t.Fatal("deterministic IDs should be stable")
	}
	if entryID(cfg, 4) == entryID(cfg, 5) {
		t.Fatal("IDs should differ per page")
	}
	random := conversion.Config{ModuleID: "tome"}
	if entryID(random, 4) == entryID(random, 4) {
		t.Fatal("random mode should not repeat IDs")
	}
}

func TestParsePageSelection(t *testing.T) {
	pages, err := parsePageSelection("1-3, 7", 10)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(pages) != 4 || pages[3] != 7 {
		t.Fatalf("unexpected pages: %v", pages)
	}

	all, err := parsePageSelection("", 4)
	if err != nil || len(all) != 4 {
		t.Fatalf("empty selection should mean all pages: %v %v", all, err)
	}

	for _, bad := range []string{"0", "5-2", "abc", "11", ","} {
		if _, err := parsePageSelection(bad, 10); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
