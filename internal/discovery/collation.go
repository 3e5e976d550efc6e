package discovery

import (
	"fmt"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator orders strings the way a reader of the configured locale expects.
// collate.Collator keeps scratch buffers, so access is serialised.
type Collator struct {
	mu   sync.Mutex
	coll *collate.Collator
	tag  language.Tag
}

func NewCollator(locale string) (*Collator, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parsing locale %q: %w", locale, err)
	}
	return &Collator{coll: collate.New(tag), tag: tag}, nil
}

// DefaultCollator collates for English.
func DefaultCollator() *Collator {
	return &Collator{coll: collate.New(language.English), tag: language.English}
}

func (c *Collator) Locale() string { return c.tag.String() }

// Compare returns -1, 0 or 1.
func (c *Collator) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coll.CompareString(a, b)
}

// Sort orders ss in place.
func (c *Collator) Sort(ss []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coll.SortStrings(ss)
}
