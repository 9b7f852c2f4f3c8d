package filter

// Merge layers individual query-parameter filter fields over a base Filter decoded
// from a JSON-string `filter` parameter. Per the precedence decision recorded for this
// gateway, an individual parameter present on the request overrides the corresponding
// key of the JSON-string filter; absent individual parameters leave the base value
// untouched. override may be nil, in which case base is returned unmodified.
func Merge(base *Filter, override *Filter) *Filter {
	if override == nil {
		if base == nil {
			return &Filter{}
		}
		return base
	}
	if base == nil {
		base = &Filter{}
	}

	merged := *base

	if override.Where != nil {
		merged.Where = override.Where
	}
	if len(override.Include) > 0 {
		merged.Include = override.Include
	}
	if override.Limit != nil {
		merged.Limit = override.Limit
	}
	if override.Skip != nil {
		merged.Skip = override.Skip
	}
	if len(override.Order) > 0 {
		merged.Order = override.Order
	}
	if len(override.Distinct) > 0 {
		merged.Distinct = override.Distinct
	}

	return &merged
}
