package conversion

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"bindery/internal/errs"
)

// TableMode selects how tables in the source PDF are handled.
type TableMode string

const (
	TableModeStructured TableMode = "structured"
	TableModeAuto       TableMode = "auto"
	TableModeImageOnly  TableMode = "image-only"
)

// ParseTableMode validates a table mode string from config or CLI flags.
func ParseTableMode(raw string) (TableMode, error) {
	switch TableMode(strings.ToLower(strings.TrimSpace(raw))) {
	case TableModeStructured:
		return TableModeStructured, nil
	case TableModeAuto, "":
		return TableModeAuto, nil
	case TableModeImageOnly:
		return TableModeImageOnly, nil
	default:
		return "", fmt.Errorf("unknown table mode %q", raw)
	}
}

// OCRMode selects whether scanned pages are run through OCR.
type OCRMode string

const (
	OCRModeAuto OCRMode = "auto"
	OCRModeOn   OCRMode = "on"
	OCRModeOff  OCRMode = "off"
)

// ParseOCRMode validates an OCR mode string from config or CLI flags.
func ParseOCRMode(raw string) (OCRMode, error) {
	switch OCRMode(strings.ToLower(strings.TrimSpace(raw))) {
	case OCRModeAuto, "":
		return OCRModeAuto, nil
	case OCRModeOn:
		return OCRModeOn, nil
	case OCRModeOff:
		return OCRModeOff, nil
	default:
		return "", fmt.Errorf("unknown ocr mode %q", raw)
	}
}

// Config describes one conversion job. Treated as an immutable value: the
// workflow layer copies it and never mutates a config it was handed.
type Config struct {
	PDFPath     string    `json:"pdf_path"`
	OutputDir   string    `json:"output_dir"`
	ModuleID    string    `json:"module_id"`
	ModuleTitle string    `json:"module_title"`
	Author      string    `json:"author,omitempty"`
	License     string    `json:"license,omitempty"`
	Tables      TableMode `json:"tables"`
	OCR         OCRMode   `json:"ocr"`
	Workers     int       `json:"workers"`
	TOC         bool      `json:"toc"`

	// DeterministicIDs derives page entry identifiers from content rather
	// than random UUIDs, so re-running a conversion yields a stable module.
	DeterministicIDs bool `json:"deterministic_ids"`

	// Pages optionally restricts conversion to a page selection such as
	// "1-10,12". Empty means all pages.
	Pages string `json:"pages,omitempty"`
}

// Normalize returns a copy with derived defaults filled in: module ID slug
// from the PDF filename, title-cased module title, default modes and worker
// count. The receiver is not modified.
func (c Config) Normalize() Config {
	out := c
	out.PDFPath = strings.TrimSpace(out.PDFPath)
	out.OutputDir = strings.TrimSpace(out.OutputDir)
	out.ModuleID = strings.TrimSpace(out.ModuleID)
	out.ModuleTitle = strings.TrimSpace(out.ModuleTitle)

	base := strings.TrimSuffix(filepath.Base(out.PDFPath), filepath.Ext(out.PDFPath))
	if out.ModuleID == "" {
		out.ModuleID = Slugify(base)
	} else {
		out.ModuleID = Slugify(out.ModuleID)
	}
	if out.ModuleTitle == "" && base != "" {
		out.ModuleTitle = TitleFromFilename(base)
	}
	if out.Tables == "" {
		out.Tables = TableModeAuto
	}
	if out.OCR == "" {
		out.OCR = OCRModeAuto
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	return out
}

// Validate checks that the config describes a runnable job. It does not
// touch the filesystem; existence checks belong to the backend.
func (c Config) Validate() error {
	if c.PDFPath == "" {
		return invalidInput("no input PDF specified", "pdf_path is empty")
	}
	if !strings.EqualFold(filepath.Ext(c.PDFPath), ".pdf") {
		return invalidInput("input file is not a PDF", fmt.Sprintf("pdf_path %q lacks a .pdf extension", c.PDFPath))
	}
	if c.OutputDir == "" {
		return invalidInput("no output directory specified", "output_dir is empty")
	}
	if c.ModuleID == "" {
		return invalidInput("module ID could not be derived", "module_id is empty after normalization")
	}
	if _, err := ParseTableMode(string(c.Tables)); err != nil {
		return invalidConfig("invalid table mode", err.Error())
	}
	if _, err := ParseOCRMode(string(c.OCR)); err != nil {
		return invalidConfig("invalid OCR mode", err.Error())
	}
	if c.Workers < 1 {
		return invalidConfig("worker count must be at least 1", fmt.Sprintf("workers = %d", c.Workers))
	}
	return nil
}

func invalidInput(message, detail string) *errs.AppError {
	err := errs.New(errs.KindValidation, errs.CodeInvalidInput, errs.SeverityMedium, false, message)
	err.Detail = detail
	return err
}

func invalidConfig(message, detail string) *errs.AppError {
	err := errs.New(errs.KindConfig, errs.CodeConfigInvalid, errs.SeverityMedium, false, message)
	err.Detail = detail
	return err
}

// NewJobID derives a job identifier from the module ID plus a short random
// suffix, so log lines stay readable while IDs remain unique per attempt set.
func NewJobID(moduleID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if moduleID == "" {
		return "job-" + suffix
	}
	return moduleID + "-" + suffix
}

// Slugify lowercases the input and collapses runs of non-alphanumerics into
// single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// TitleFromFilename turns a filename stem like "players_handbook-5e" into a
// display title ("Players Handbook 5e").
func TitleFromFilename(stem string) string {
	cleaned := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(stem)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return ""
	}
	return cases.Title(language.English, cases.NoLower).String(cleaned)
}
