package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"bindery/internal/conversion"
)

const manifestName = "module.json"

// Manifest is the module.json written at the root of a converted module.
type Manifest struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Author    string         `json:"author,omitempty"`
	License   string         `json:"license,omitempty"`
	PageCount int            `json:"page_count"`
	Options   ManifestOpts   `json:"options"`
	TOC       []TOCEntry     `json:"toc,omitempty"`
	Entries   []JournalEntry `json:"entries"`
}

// ManifestOpts records the conversion options the module was built with.
type ManifestOpts struct {
	Tables conversion.TableMode `json:"tables"`
	OCR    conversion.OCRMode   `json:"ocr"`
}

// TOCEntry links a page number to its journal entry.
type TOCEntry struct {
	Page    int    `json:"page"`
	EntryID string `json:"entry_id"`
	Title   string `json:"title"`
}

// JournalEntry describes one extracted page.
type JournalEntry struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
	File string `json:"file"`
}

// entryID produces the journal entry identifier for a page. Deterministic
// mode hashes the module ID and page number so repeated conversions agree.
func entryID(cfg conversion.Config, page int) string {
	if cfg.DeterministicIDs {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", cfg.ModuleID, page)))
		return hex.EncodeToString(sum[:8])
	}
	return uuid.NewString()
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := filepath.Join(dir, "."+manifestName+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestName)); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
