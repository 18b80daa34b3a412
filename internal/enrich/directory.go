package enrich

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fundline/outreach/internal/domain"
)

// DirectorySource serves curated investor records keyed by firm name.
// It is the offline counterpart of the scraping sources: operators keep
// a reviewed directory file and enrichment folds it in first.
type DirectorySource struct {
	entries map[string]Partial
}

// NewDirectorySource creates a directory source from in-memory entries.
func NewDirectorySource(entries map[string]Partial) *DirectorySource {
	normalized := make(map[string]Partial, len(entries))
	for firm, p := range entries {
		normalized[strings.ToLower(firm)] = p
	}
	return &DirectorySource{entries: normalized}
}

// LoadDirectorySource reads a yaml directory file mapping firm names to
// partial profiles.
func LoadDirectorySource(path string) (*DirectorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var entries map[string]Partial
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	return NewDirectorySource(entries), nil
}

func (s *DirectorySource) Name() string { return "directory" }

func (s *DirectorySource) Enrich(ctx context.Context, seed *domain.InvestorProfile) (*Partial, error) {
	if seed.Firm == "" {
		return nil, ErrNotApplicable
	}
	entry, ok := s.entries[strings.ToLower(seed.Firm)]
	if !ok {
		return nil, ErrNotApplicable
	}
	return &entry, nil
}
