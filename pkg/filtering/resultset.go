package filtering

import (
	"slices"
	"sync"
)

// Batch collects the domains matched while scanning a single file.
type Batch map[*Category]map[string]struct{}

// Add records domain under category.
func (b Batch) Add(category *Category, domain string) {
	set, ok := b[category]
	if !ok {
		set = make(map[string]struct{})
		b[category] = set
	}
	set[domain] = struct{}{}
}

// Len returns the number of domains recorded for category.
func (b Batch) Len(category *Category) int {
	return len(b[category])
}

// ResultSet accumulates the domains of every category for a whole run.
// Merges are serialised by a mutex so archive members may be scanned concurrently.
type ResultSet struct {
	mu         sync.Mutex
	categories []*Category
	domains    map[*Category]map[string]struct{}
}

// NewResultSet creates an empty ResultSet tracking categories.
func NewResultSet(categories []*Category) *ResultSet {
	domains := make(map[*Category]map[string]struct{}, len(categories))
	for _, category := range categories {
		domains[category] = make(map[string]struct{})
	}
	return &ResultSet{
		categories: categories,
		domains:    domains,
	}
}

// Merge adds domains to the set of category.
func (r *ResultSet) Merge(category *Category, domains map[string]struct{}) {
	if len(domains) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.domains[category]
	if !ok {
		set = make(map[string]struct{}, len(domains))
		r.domains[category] = set
		r.categories = append(r.categories, category)
	}
	for domain := range domains {
		set[domain] = struct{}{}
	}
}

// MergeBatch merges every category of batch.
func (r *ResultSet) MergeBatch(batch Batch) {
	for category, domains := range batch {
		r.Merge(category, domains)
	}
}

// Categories returns the tracked categories in configuration order.
func (r *ResultSet) Categories() []*Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.categories)
}

// Len returns the number of unique domains in category.
func (r *ResultSet) Len(category *Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.domains[category])
}

// Domains returns a copy of the domains of category in unspecified order.
func (r *ResultSet) Domains(category *Category) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.domains[category]
	out := make([]string, 0, len(set))
	for domain := range set {
		out = append(out, domain)
	}
	return out
}
