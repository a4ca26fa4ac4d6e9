package store

import (
	"fmt"
	"os"

	"token-reallocator/model"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	LineItems []model.LineItem `yaml:"lineItems"`
}

// ParseLineItems decodes a YAML line-item catalog. Status defaults to active.
func ParseLineItems(b []byte) ([]model.LineItem, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	for i := range f.LineItems {
		li := &f.LineItems[i]
		if li.BidderCode == "" || li.LineItemID == "" {
			return nil, fmt.Errorf("line item %d: bidderCode and lineItemId are required", i)
		}
		if li.Tokens < 0 {
			return nil, fmt.Errorf("line item %s: tokens must not be negative", li.Key())
		}
		if li.Status == "" {
			li.Status = model.LineItemStatusActive
		}
	}
	return f.LineItems, nil
}

// LoadLineItemsFile reads a catalog file into m.
func (m *Memory) LoadLineItemsFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	items, err := ParseLineItems(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	m.UpsertLineItems(items...)
	log.Info().Str("path", path).Int("lineItems", len(items)).Msg("store: line item catalog loaded")
	return len(items), nil
}
