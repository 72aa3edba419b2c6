// Package catalog loads category packs from disk: the field rule schema,
// the source directory, the component database, and the product list with
// identity locks. A pack lives under <dir>/<category>/ as JSON files.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonesrussell/spechawk/internal/convergence"
	"github.com/jonesrussell/spechawk/internal/domain"
)

// Pack file names inside a category directory.
const (
	rulesFile      = "rules.json"
	directoryFile  = "directory.json"
	componentsFile = "components.json"
	productsFile   = "products.json"
)

// ErrProductNotFound is returned when a product ID is not in the pack.
var ErrProductNotFound = errors.New("catalog: product not found")

// ProductRecord pairs a product with its identity lock as stored on disk.
type ProductRecord struct {
	convergence.Product
	Lock domain.IdentityLock `json:"identity_lock"`
}

// Pack is one category's loaded configuration.
type Pack struct {
	Category   string
	Rules      *domain.RuleSet
	Components *domain.ComponentDB
	Directory  *convergence.Directory
	Products   []ProductRecord

	byID map[string]*ProductRecord
}

// Load reads the pack for one category. The rules and products files are
// required; the directory and component files are optional.
func Load(dir, category string) (*Pack, error) {
	base := filepath.Join(dir, category)

	pack := &Pack{
		Category:   category,
		Components: &domain.ComponentDB{},
	}

	if err := readJSONFile(filepath.Join(base, rulesFile), &pack.Rules); err != nil {
		return nil, fmt.Errorf("catalog: load rules for %s: %w", category, err)
	}
	if pack.Rules.Category == "" {
		pack.Rules.Category = category
	}

	if err := readJSONFile(filepath.Join(base, productsFile), &pack.Products); err != nil {
		return nil, fmt.Errorf("catalog: load products for %s: %w", category, err)
	}

	entries := make(map[string]convergence.DirectoryEntry)
	if err := readJSONFile(filepath.Join(base, directoryFile), &entries); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog: load directory for %s: %w", category, err)
	}
	pack.Directory = convergence.NewDirectory(entries)

	if err := readJSONFile(filepath.Join(base, componentsFile), pack.Components); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog: load components for %s: %w", category, err)
	}

	pack.byID = make(map[string]*ProductRecord, len(pack.Products))
	for i := range pack.Products {
		record := &pack.Products[i]
		if record.ID == "" {
			return nil, fmt.Errorf("catalog: product %d in %s has no id", i, category)
		}
		if record.Category == "" {
			record.Category = category
		}
		if record.Lock.ProductID == "" {
			record.Lock.ProductID = record.ID
		}
		if record.Lock.Brand == "" {
			record.Lock.Brand = record.Brand
		}
		if record.Lock.Model == "" {
			record.Lock.Model = record.Model
		}
		if record.Lock.Ambiguity == "" {
			record.Lock.Ambiguity = domain.AmbiguityMedium
		}
		pack.byID[record.ID] = record
	}

	return pack, nil
}

// Product returns one product record by ID.
func (p *Pack) Product(id string) (*ProductRecord, error) {
	record, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return record, nil
}

// readJSONFile decodes one JSON file into out. The raw os error is
// preserved so callers can test for a missing file.
func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if decodeErr := json.Unmarshal(data, out); decodeErr != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), decodeErr)
	}
	return nil
}
