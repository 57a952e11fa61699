package preview

import "fmt"

// SearchMode selects the SearchRequest variant.
type SearchMode string

const (
	ModeIndexRange SearchMode = "index_range"
	ModeExactKey   SearchMode = "exact_key"
	ModePrefix     SearchMode = "prefix"
	ModePattern    SearchMode = "pattern"
)

// SearchRequest is the tagged query variant exposed to the UI layer. Only
// the members relevant to Mode are read: Offset/Limit for index_range, Key
// for exact_key, Prefix for prefix, Substring for pattern (the latter two
// also honor Limit).
type SearchRequest struct {
	Mode      SearchMode `json:"mode"`
	Offset    uint64     `json:"offset,omitempty"`
	Limit     uint64     `json:"limit,omitempty"`
	Key       string     `json:"key,omitempty"`
	Prefix    string     `json:"prefix,omitempty"`
	Substring string     `json:"substring,omitempty"`
}

// Constructors for the four variants.

func IndexRange(offset, limit uint64) SearchRequest {
	return SearchRequest{Mode: ModeIndexRange, Offset: offset, Limit: limit}
}

func ExactKey(key string) SearchRequest {
	return SearchRequest{Mode: ModeExactKey, Key: key}
}

func PrefixSearch(prefix string, limit uint64) SearchRequest {
	return SearchRequest{Mode: ModePrefix, Prefix: prefix, Limit: limit}
}

func PatternSearch(substring string, limit uint64) SearchRequest {
	return SearchRequest{Mode: ModePattern, Substring: substring, Limit: limit}
}

// Validate rejects structurally invalid requests before any store access.
func (r SearchRequest) Validate() error {
	switch r.Mode {
	case ModeIndexRange:
		return nil
	case ModeExactKey:
		if r.Key == "" {
			return fmt.Errorf("exact_key search requires a key")
		}
	case ModePrefix:
		if r.Prefix == "" {
			return fmt.Errorf("prefix search requires a prefix")
		}
	case ModePattern:
		if r.Substring == "" {
			return fmt.Errorf("pattern search requires a substring")
		}
	default:
		return fmt.Errorf("unknown search mode %q", r.Mode)
	}
	return nil
}
