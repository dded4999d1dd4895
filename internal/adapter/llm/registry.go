package llm

import (
	"fmt"
	"sort"
	"strings"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

// minCandidates is the list length the registry pads bot lists towards.
const minCandidates = 3

// Catalog is the static description the registry is built from. Bot lists
// and the default list reference models by ID.
type Catalog struct {
	Models  []domain.ModelDescriptor
	Default []string
	Bots    map[string][]string
}

// CatalogFromConfig converts a config catalog section. A nil section yields
// the built-in catalog.
func CatalogFromConfig(cfg *config.CatalogConfig) Catalog {
	if cfg == nil {
		return DefaultCatalog()
	}
	return Catalog{
		Models:  cfg.Models,
		Default: cfg.Default,
		Bots:    cfg.Bots,
	}
}

// Registry resolves bot identities to ordered candidate lists. It is built
// once and never mutated, so concurrent reads need no locking.
type Registry struct {
	models   []domain.ModelDescriptor
	fallback []domain.ModelDescriptor
	lists    map[string][]domain.ModelDescriptor
}

// NewRegistry validates catalog, stable-sorts every list by priority and pads
// every bot list from the default list up to three distinct models.
func NewRegistry(catalog Catalog) (*Registry, error) {
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	byID := make(map[string]domain.ModelDescriptor, len(catalog.Models))
	models := make([]domain.ModelDescriptor, len(catalog.Models))
	for i, m := range catalog.Models {
		byID[m.ID] = m
		models[i] = m
	}

	fallback := resolve(catalog.Default, byID)

	lists := make(map[string][]domain.ModelDescriptor, len(catalog.Bots))
	for bot, ids := range catalog.Bots {
		lists[bot] = pad(resolve(ids, byID), fallback)
	}

	return &Registry{
		models:   models,
		fallback: fallback,
		lists:    lists,
	}, nil
}

// resolve looks up ids and stable-sorts the result by ascending priority.
func resolve(ids []string, byID map[string]domain.ModelDescriptor) []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// pad appends distinct models from pool until list has minCandidates entries
// or pool is exhausted.
func pad(list, pool []domain.ModelDescriptor) []domain.ModelDescriptor {
	if len(list) >= minCandidates {
		return list
	}
	seen := make(map[string]bool, len(list))
	for _, m := range list {
		seen[m.ID] = true
	}
	for _, m := range pool {
		if len(list) >= minCandidates {
			break
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		list = append(list, m)
	}
	return list
}

// ListFor returns the candidate list for botIdentity, or the default list
// when the identity is not mapped. The result is never empty and is a fresh
// copy the caller may modify.
func (r *Registry) ListFor(botIdentity string) []domain.ModelDescriptor {
	list, ok := r.lists[botIdentity]
	if !ok {
		list = r.fallback
	}
	out := make([]domain.ModelDescriptor, len(list))
	copy(out, list)
	return out
}

// PrimaryFor returns the first candidate for botIdentity.
func (r *Registry) PrimaryFor(botIdentity string) domain.ModelDescriptor {
	if list, ok := r.lists[botIdentity]; ok {
		return list[0]
	}
	return r.fallback[0]
}

// Bots returns the configured bot identities, sorted.
func (r *Registry) Bots() []string {
	bots := make([]string, 0, len(r.lists))
	for b := range r.lists {
		bots = append(bots, b)
	}
	sort.Strings(bots)
	return bots
}

// Models returns every catalog model in catalog order.
func (r *Registry) Models() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}

// validateCatalog reports every structural problem at once.
func validateCatalog(c Catalog) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	ids := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		switch {
		case m.ID == "":
			add("models[%d]: empty id", i)
			continue
		case ids[m.ID]:
			add("models[%d]: duplicate id %q", i, m.ID)
		}
		ids[m.ID] = true

		if !m.Provider.Valid() {
			add("model %q: unknown provider %q", m.ID, m.Provider)
		}
		if m.BackendModelID == "" {
			add("model %q: empty backend_model_id", m.ID)
		}
		if m.MaxOutputTokens <= 0 {
			add("model %q: max_output_tokens must be > 0", m.ID)
		}
		if m.Priority < 1 {
			add("model %q: priority must be >= 1", m.ID)
		}
	}

	checkList := func(name string, list []string) {
		if len(list) == 0 {
			add("%s: list is empty", name)
			return
		}
		seen := make(map[string]bool, len(list))
		for _, id := range list {
			if !ids[id] {
				add("%s: unknown model %q", name, id)
			}
			if seen[id] {
				add("%s: model %q listed twice", name, id)
			}
			seen[id] = true
		}
	}

	checkList("default", c.Default)
	bots := make([]string, 0, len(c.Bots))
	for b := range c.Bots {
		bots = append(bots, b)
	}
	sort.Strings(bots)
	for _, b := range bots {
		if strings.TrimSpace(b) == "" {
			add("bots: empty bot identity")
			continue
		}
		checkList("bot "+b, c.Bots[b])
	}

	if len(problems) > 0 {
		return domain.NewDomainError("NewRegistry", domain.ErrCatalogInvalid, strings.Join(problems, "; "))
	}
	return nil
}

var _ domain.ModelCatalog = (*Registry)(nil)
