package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"codask/internal/extractor"
	"codask/internal/ir"
)

// Crawler scans a directory for source files in the configured languages.
type Crawler struct {
	extractors map[string]*extractor.Extractor
	ignored    []string
	logger     *slog.Logger
}

// NewCrawler creates a crawler with one extractor per language.
func NewCrawler(languages []string, logger *slog.Logger) (*Crawler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Crawler{
		extractors: make(map[string]*extractor.Extractor),
		ignored:    []string{".git", "vendor", "node_modules", "testdata", "__pycache__", ".venv", "venv"},
		logger:     logger,
	}
	for _, lang := range languages {
		ext, err := extractor.NewExtractor(lang)
		if err != nil {
			return nil, err
		}
		c.extractors[lang] = ext
	}
	if len(c.extractors) == 0 {
		return nil, fmt.Errorf("no languages configured")
	}
	return c, nil
}

// Languages lists the languages this crawler extracts, sorted.
func (c *Crawler) Languages() []string {
	out := make([]string, 0, len(c.extractors))
	for lang := range c.extractors {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// ScanProject walks the root directory and processes all relevant files.
// It uses a callback to stream CodeUnits, preventing large memory buildup.
func (c *Crawler) ScanProject(ctx context.Context, root string, onUnit func(ir.CodeUnit)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			for _, ign := range c.ignored {
				if d.Name() == ign {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if isTestFile(d.Name()) {
			return nil
		}
		ext, ok := c.extractors[extractor.LanguageForPath(path)]
		if !ok {
			return nil
		}

		units, err := ext.ExtractFromFile(path)
		if err != nil {
			// A broken file must not fail the whole scan.
			c.logger.Warn("skipping file", "path", path, "error", err)
			return nil
		}

		for _, unit := range units {
			onUnit(unit)
		}
		return nil
	})
}

func isTestFile(name string) bool {
	return strings.HasSuffix(name, "_test.go") ||
		(strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py")) ||
		strings.HasSuffix(name, "_test.py")
}
