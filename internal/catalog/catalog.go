// Package catalog maps document-type keys to their display label and portal
// entry URL. The table is data, not code: a compiled-in JSON default can be
// replaced with an external file at startup.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

//go:embed catalog.json
var defaultCatalog []byte

// Entry describes one document type.
type Entry struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Catalog is an immutable document-type lookup table.
type Catalog struct {
	entries map[string]Entry
}

// Load builds the catalog from path, or from the embedded default when path
// is empty. Every entry must carry a label and a URL.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		raw = b
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	for key, e := range entries {
		if e.Label == "" || e.URL == "" {
			return nil, fmt.Errorf("catalog entry %q: label and url are required", key)
		}
	}
	return &Catalog{entries: entries}, nil
}

// Lookup returns the entry for a document-type key.
func (c *Catalog) Lookup(key string) (Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// Has reports whether key is a known document type.
func (c *Catalog) Has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Keys returns the known document-type keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
