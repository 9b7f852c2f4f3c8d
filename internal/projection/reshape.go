package projection

import (
	"errors"
	"fmt"
)

// ErrRecordDropped is returned internally by reshape when a field marked Required
// resolves to no value; the caller drops the whole record rather than emitting it with
// a missing field.
var ErrRecordDropped = errors.New("projection: record dropped, required field missing")

// Reshape converts one catalogue result row, rooted at searchEntity's mapped catalogue
// entity, into Search-schema JSON. Relation fields recurse into the target Search
// entity's own mapping; to-many hops fan out into arrays; a relation field whose value
// is absent is omitted unless marked Required, in which case the whole record is
// dropped (ErrRecordDropped).
func Reshape(m Mapping, searchEntity string, row map[string]any) (map[string]any, error) {
	return reshape(m, searchEntity, row, map[string]bool{searchEntity: true})
}

// ReshapeAll reshapes every row, silently excluding rows dropped by a missing Required
// field. dropped reports how many rows were excluded so callers can log it.
func ReshapeAll(m Mapping, searchEntity string, rows []map[string]any) (out []map[string]any, dropped int, err error) {
	for _, row := range rows {
		reshaped, rerr := Reshape(m, searchEntity, row)
		if rerr != nil {
			if errors.Is(rerr, ErrRecordDropped) {
				dropped++
				continue
			}
			return nil, dropped, rerr
		}
		out = append(out, reshaped)
	}
	return out, dropped, nil
}

func reshape(m Mapping, searchEntity string, row map[string]any, onPath map[string]bool) (map[string]any, error) {
	em, ok := m[searchEntity]
	if !ok {
		return nil, fmt.Errorf("projection: unknown search entity %q", searchEntity)
	}

	out := make(map[string]any, len(em.Fields))
	for field, fm := range em.Fields {
		if fm.HasConstant {
			out[field] = fm.Constant
			continue
		}

		segments := splitPath(fm.Path)
		val, found := traverse(row, segments)

		if fm.All {
			if found {
				out[field] = val
			}
			continue
		}

		if !found || val == nil {
			if fm.Required {
				return nil, ErrRecordDropped
			}
			continue
		}

		if fm.TargetEntity == "" {
			out[field] = val
			continue
		}

		if onPath[fm.TargetEntity] {
			// Cycle guard: refuse to re-enter an entity already on this projection
			// path. Omit rather than error, so a self-referential mapping still
			// terminates.
			continue
		}
		nextPath := make(map[string]bool, len(onPath)+1)
		for k := range onPath {
			nextPath[k] = true
		}
		nextPath[fm.TargetEntity] = true

		switch v := val.(type) {
		case []any:
			arr := make([]any, 0, len(v))
			for _, elem := range v {
				sub, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				reshaped, err := reshape(m, fm.TargetEntity, sub, nextPath)
				if err != nil {
					if errors.Is(err, ErrRecordDropped) {
						continue
					}
					return nil, err
				}
				arr = append(arr, reshaped)
			}
			out[field] = arr
		case map[string]any:
			reshaped, err := reshape(m, fm.TargetEntity, v, nextPath)
			if err != nil {
				if errors.Is(err, ErrRecordDropped) {
					if fm.Required {
						return nil, ErrRecordDropped
					}
					continue
				}
				return nil, err
			}
			out[field] = reshaped
		}
	}
	return out, nil
}

// traverse walks value through segments, reading successive map keys. When it crosses
// a to-many hop (a []any) mid-path, it broadcasts the remaining segments across every
// element and collects the results into an array, so a path through a to-many relation
// naturally produces a slice at the field it's assigned to.
func traverse(value any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return value, value != nil
	}
	switch v := value.(type) {
	case map[string]any:
		next, ok := v[segments[0]]
		if !ok || next == nil {
			return nil, false
		}
		return traverse(next, segments[1:])
	case []any:
		// A path crossing more than one to-many hop yields nested arrays from the
		// recursion; flatten them so the field's value is always a single level of
		// elements regardless of how many to-many relations the path traverses.
		results := make([]any, 0, len(v))
		for _, elem := range v {
			r, ok := traverse(elem, segments)
			if !ok {
				continue
			}
			if nested, isArr := r.([]any); isArr {
				results = append(results, nested...)
			} else {
				results = append(results, r)
			}
		}
		return results, true
	default:
		return nil, false
	}
}
