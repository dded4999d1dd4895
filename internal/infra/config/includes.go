package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dispatch-ai/internal/domain"
)

const maxIncludeDepth = 10

// includeLoader overlays included files onto a Config. visited holds the
// absolute paths already read, so a cycle is reported instead of followed.
type includeLoader struct {
	visited map[string]bool
}

func newIncludeLoader(root string) *includeLoader {
	return &includeLoader{visited: map[string]bool{root: true}}
}

// apply merges every file named by cfg.Includes, in order, resolving
// patterns against baseDir. cfg.Includes is consumed.
func (l *includeLoader) apply(cfg *Config, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := l.mergeFile(cfg, p, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *includeLoader) mergeFile(cfg *Config, path string, depth int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config includes: abs path %q: %w", path, err)
	}
	if l.visited[abs] {
		return fmt.Errorf("config includes: circular include detected for %q", abs)
	}
	l.visited[abs] = true

	if err := validatePermissions(abs); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", abs, err)
	}
	if err := overlayYAML(cfg, data); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", abs, err)
	}

	if len(cfg.Includes) > 0 {
		return l.apply(cfg, filepath.Dir(abs), depth)
	}
	return nil
}

// resolveIncludePaths expands pattern relative to baseDir. Paths that escape
// baseDir are rejected. A literal path that does not exist is returned as-is
// so mergeFile reports it; a glob matching nothing yields no paths.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	return matches, nil
}

// overlayYAML unmarshals data onto cfg. Every section is overwritten field by
// field except catalog, which is merged with mergeCatalog so that models and
// bot lists can live in separate files.
func overlayYAML(cfg *Config, data []byte) error {
	base := cfg.Catalog
	cfg.Catalog = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg.Catalog = base
		return err
	}
	cfg.Catalog = mergeCatalog(base, cfg.Catalog)
	return nil
}

// mergeCatalog layers over onto base. Models are matched by id (over
// replaces, new ids append in order), bot lists are replaced per bot, and a
// non-empty default list replaces the base one. Neither input is modified.
func mergeCatalog(base, over *CatalogConfig) *CatalogConfig {
	if over == nil {
		return base
	}
	if base == nil {
		return over
	}

	out := &CatalogConfig{
		Models:  make([]domain.ModelDescriptor, len(base.Models), len(base.Models)+len(over.Models)),
		Default: base.Default,
		Bots:    make(map[string][]string, len(base.Bots)+len(over.Bots)),
	}
	copy(out.Models, base.Models)

	index := make(map[string]int, len(out.Models))
	for i, m := range out.Models {
		index[m.ID] = i
	}
	for _, m := range over.Models {
		if i, ok := index[m.ID]; ok {
			out.Models[i] = m
			continue
		}
		index[m.ID] = len(out.Models)
		out.Models = append(out.Models, m)
	}

	if len(over.Default) > 0 {
		out.Default = over.Default
	}
	for bot, list := range base.Bots {
		out.Bots[bot] = list
	}
	for bot, list := range over.Bots {
		out.Bots[bot] = list
	}
	return out
}
