// Package diff detects newly published items between two listings.
package diff

import "github.com/osawatch/osawatch/pkg/domain"

// NewItems returns the items of curr whose URL does not appear in prev,
// in curr order. An empty or nil prev makes every current item new.
func NewItems(prev, curr []domain.Item) []domain.Item {
	seen := make(map[string]struct{}, len(prev))
	for _, item := range prev {
		seen[item.URL] = struct{}{}
	}

	var res []domain.Item
	for _, item := range curr {
		if _, ok := seen[item.URL]; !ok {
			res = append(res, item)
		}
	}
	return res
}
