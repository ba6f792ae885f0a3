package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResourceHint is a declarative match over the asset pool: exact category,
// optional glob on sku_code, optional attribute containment on meta_spec.
type ResourceHint struct {
	SkuCategory string            `json:"sku_category"`
	SkuCode     *string           `json:"sku_code,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MinCount    int               `json:"min_count,omitempty"`
}

var errBlankCategory = errors.New("resource hint is missing sku_category")

// ParseHints normalizes the raw resource_hints column into an ordered hint
// list. The column may hold a structured JSON array or a JSON string that
// itself encodes the array.
func ParseHints(raw []byte) ([]ResourceHint, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	doc := raw
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		doc = []byte(nested)
	}

	var hints []ResourceHint
	if err := json.Unmarshal(doc, &hints); err != nil {
		return nil, fmt.Errorf("cannot parse resource hints: %w", err)
	}

	for i := range hints {
		if hints[i].SkuCategory == "" {
			return nil, errBlankCategory
		}
		if hints[i].MinCount < 1 {
			hints[i].MinCount = 1
		}
	}

	return hints, nil
}

// Matches reports whether the asset satisfies this hint. The predicate is
// pure and must agree with the store's SQL rendition of the same match.
func (h ResourceHint) Matches(asset Asset) bool {
	if asset.SkuCategory != h.SkuCategory {
		return false
	}

	if h.SkuCode != nil {
		if asset.SkuCode == nil {
			return false
		}
		if !globMatch(*h.SkuCode, *asset.SkuCode) {
			return false
		}
	}

	for k, v := range h.Attributes {
		if asset.MetaSpec[k] != v {
			return false
		}
	}

	return true
}

// likeEscaper protects LIKE metacharacters so only "*" acts as a wildcard,
// keeping the SQL predicate in agreement with globMatch.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern renders the hint's sku_code glob as a SQL LIKE pattern.
// A nil sku_code matches any code.
func (h ResourceHint) LikePattern() *string {
	if h.SkuCode == nil {
		return nil
	}

	p := strings.ReplaceAll(likeEscaper.Replace(*h.SkuCode), "*", "%")
	return &p
}

// globMatch treats "*" as a match-anything wildcard and every other
// character literally, mirroring LIKE after the "*" to "%" translation.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, parts[len(parts)-1])
}
