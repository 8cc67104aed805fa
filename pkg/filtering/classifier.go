package filtering

import (
	"fmt"

	"github.com/miekg/dns"
)

// Classifier assigns domains to the categories whose pattern matches their line.
// It holds no per-call state and is safe for concurrent use.
type Classifier struct {
	categories []*Category
	whitelist  *Whitelist
}

// NewClassifier creates a Classifier for categories. whitelist applies to every
// category in addition to each category's own entries.
func NewClassifier(categories []*Category, whitelist *Whitelist) *Classifier {
	if whitelist == nil {
		whitelist = NewWhitelist()
	}
	return &Classifier{
		categories: categories,
		whitelist:  whitelist,
	}
}

// Categories returns the rules evaluated by the classifier.
func (c *Classifier) Categories() []*Category {
	return c.categories
}

// Whitelisted reports whether domain is exempt from category.
func (c *Classifier) Whitelisted(category *Category, domain string) bool {
	if c.whitelist.Contains(domain) {
		return true
	}
	return category.Whitelist.Contains(domain)
}

// Classify returns the categories matched by line. A line matches a category when
// domain is a non-empty, valid, non-whitelisted name and the category pattern
// matches anywhere in the full line. An empty domain yields no matches.
func (c *Classifier) Classify(line, domain string) ([]*Category, error) {
	if domain == "" {
		return nil, nil
	}
	if _, ok := dns.IsDomainName(domain); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}

	var matched []*Category
	for _, category := range c.categories {
		if c.Whitelisted(category, domain) {
			continue
		}
		if category.Pattern.MatchString(line) {
			matched = append(matched, category)
		}
	}
	return matched, nil
}
