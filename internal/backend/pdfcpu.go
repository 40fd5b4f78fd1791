package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"bindery/internal/conversion"
	"bindery/internal/errs"
	"bindery/internal/fileutil"
	"bindery/internal/logging"
)

// PDF implements Backend on top of pdfcpu: validate the document, count
// pages, extract per-page content into the module tree, write the manifest.
type PDF struct {
	logger  *slog.Logger
	extract extractor
}

// NewPDF constructs the pdfcpu-backed conversion backend.
func NewPDF(logger *slog.Logger) *PDF {
	return &PDF{
		logger:  logging.NewComponentLogger(logger, "backend"),
		extract: pdfcpuExtractor{conf: relaxedConfiguration()},
	}
}

// extractor is the seam between conversion orchestration and pdfcpu calls,
// so orchestration behavior is testable without PDF fixtures.
type extractor interface {
	Validate(path string) error
	PageCount(path string) (int, error)
	ExtractPage(path string, page int, destFile string) error
}

type pdfcpuExtractor struct {
	conf *model.Configuration
}

func relaxedConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (e pdfcpuExtractor) Validate(path string) error {
	return api.ValidateFile(path, e.conf)
}

func (e pdfcpuExtractor) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return api.PageCount(f, e.conf)
}

// ExtractPage extracts one page's content into destFile. pdfcpu controls
// the name of the file it writes, so extraction goes through a scratch
// directory and the produced file is moved into place.
func (e pdfcpuExtractor) ExtractPage(path string, page int, destFile string) error {
	scratch, err := os.MkdirTemp(filepath.Dir(destFile), ".extract-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := api.ExtractContentFile(path, scratch, []string{strconv.Itoa(page)}, e.conf); err != nil {
		return fmt.Errorf("extract page %d: %w", page, err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return fmt.Errorf("read scratch dir: %w", err)
	}
	var produced []string
	for _, entry := range entries {
		if !entry.IsDir() {
			produced = append(produced, filepath.Join(scratch, entry.Name()))
		}
	}
	if len(produced) == 0 {
		// Blank pages extract to nothing; represent them as empty entries.
		return os.WriteFile(destFile, nil, 0o644)
	}
	sort.Strings(produced)
	if err := fileutil.CopyFileVerified(produced[0], destFile); err != nil {
		return err
	}
	return nil
}

// Convert runs the full pipeline for one job. Cancellation is honored
// between pages; a cancel observed mid-run returns a cancelled error and
// leaves the partial module tree for the caller's cleanup policy.
func (p *PDF) Convert(ctx context.Context, cfg conversion.Config, hooks Hooks, cancelled func() bool) (*conversion.Result, error) {
	hooks = hooks.Normalize()
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	started := time.Now()

	hooks.Progress(-1, "Preparing document")

	if _, err := os.Stat(cfg.PDFPath); err != nil {
		return nil, errs.Classify(err)
	}
	if err := p.extract.Validate(cfg.PDFPath); err != nil {
		return nil, errs.Classify(err)
	}
	total, err := p.extract.PageCount(cfg.PDFPath)
	if err != nil {
		return nil, errs.Classify(err)
	}
	if total < 1 {
		return nil, errs.New(errs.KindFile, errs.CodePDFCorrupt, errs.SeverityMedium, false, "document has no pages")
	}

	pages, err := parsePageSelection(cfg.Pages, total)
	if err != nil {
		appErr := errs.New(errs.KindValidation, errs.CodeInvalidInput, errs.SeverityMedium, false, "invalid page selection")
		appErr.Detail = err.Error()
		return nil, appErr
	}

	moduleDir := filepath.Join(cfg.OutputDir, cfg.ModuleID)
	journalDir := filepath.Join(moduleDir, "journal")
	if err := fileutil.EnsureDir(journalDir); err != nil {
		return nil, errs.Classify(err)
	}

	if cfg.OCR == conversion.OCRModeOn {
		hooks.Log("warn", "OCR requested; scanned pages without a text layer extract empty")
	}
	p.logger.Info("starting conversion",
		logging.String(logging.FieldStage, "extract"),
		logging.String("module_id", cfg.ModuleID),
		logging.Int("pages", len(pages)),
		logging.Int("workers", cfg.Workers))

	entries, err := p.extractPages(ctx, cfg, hooks, cancelled, pages, journalDir)
	if err != nil {
		return nil, err
	}

	hooks.Progress(100, "Writing module manifest")
	manifest := buildManifest(cfg, total, entries)
	if err := writeManifest(moduleDir, manifest); err != nil {
		return nil, errs.Classify(err)
	}

	result := &conversion.Result{
		ModuleID:   cfg.ModuleID,
		ModulePath: moduleDir,
		PageCount:  total,
		EntryCount: len(entries),
		Elapsed:    time.Since(started),
	}
	p.logger.Info("conversion complete",
		logging.String("module_id", cfg.ModuleID),
		logging.Int("entries", result.EntryCount),
		logging.Duration("elapsed", result.Elapsed))
	return result, nil
}

// extractPages fans page extraction out over cfg.Workers goroutines.
// Progress percent is derived from the completed count, so it is
// non-decreasing regardless of per-page completion order.
func (p *PDF) extractPages(ctx context.Context, cfg conversion.Config, hooks Hooks, cancelled func() bool, pages []int, journalDir string) ([]JournalEntry, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		done     int
		entries  = make([]JournalEntry, 0, len(pages))
	)
	sem := make(chan struct{}, cfg.Workers)

	stop := func() bool {
		if cancelled() {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		default:
		}
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	for _, page := range pages {
		if stop() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			defer func() { <-sem }()

			entry := JournalEntry{
				ID:   entryID(cfg, page),
				Page: page,
				File: filepath.Join("journal", fmt.Sprintf("page-%04d.txt", page)),
			}
			err := p.extract.ExtractPage(cfg.PDFPath, page, filepath.Join(journalDir, fmt.Sprintf("page-%04d.txt", page)))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			entries = append(entries, entry)
			done++
			percent := done * 100 / len(pages)
			hooks.Progress(percent, fmt.Sprintf("Converting page %d of %d", done, len(pages)))
		}(page)
	}
	wg.Wait()

	if cancelled() || ctx.Err() != nil {
		return nil, errs.Classify(context.Canceled)
	}
	if firstErr != nil {
		return nil, errs.Classify(firstErr)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Page < entries[j].Page })
	return entries, nil
}

func buildManifest(cfg conversion.Config, totalPages int, entries []JournalEntry) Manifest {
	m := Manifest{
		ID:        cfg.ModuleID,
		Title:     cfg.ModuleTitle,
		Author:    cfg.Author,
		License:   cfg.License,
		PageCount: totalPages,
		Options:   ManifestOpts{Tables: cfg.Tables, OCR: cfg.OCR},
		Entries:   entries,
	}
	if cfg.TOC {
		for _, entry := range entries {
			m.TOC = append(m.TOC, TOCEntry{
				Page:    entry.Page,
				EntryID: entry.ID,
				Title:   fmt.Sprintf("Page %d", entry.Page),
			})
		}
	}
	return m
}
