// Package projection translates between the PaNOSC Search API's entity schema and the
// catalogue's native entity schema: rewriting a Search-schema filter into one rooted at
// a catalogue entity before it reaches the query builder, and reshaping catalogue result
// rows back into Search-schema JSON afterwards.
//
// The mapping that drives both directions is data, not code: a JSON document pinning
// each Search entity to one catalogue "base" entity and declaring, field by field, how
// to reach the catalogue data that field projects. It is loaded once at startup and
// validated against the catalogue registry so a typo in the mapping file fails the
// gateway's startup, not an arbitrary request.
package projection

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/icatgateway/gateway/internal/catalogue"
)

// FieldMapping describes how one Search-schema field is produced from catalogue data.
//
// Exactly one of its modes applies, determined at unmarshal time from the JSON shape:
//
//   - a plain string names a dotted catalogue relation/attribute path, e.g. "doi" or
//     "investigation.title". Intermediate segments are catalogue relations; the final
//     segment is either a catalogue attribute (for a scalar Search field) or, when
//     TargetEntity is also set, a relation continuing into another Search entity's own
//     mapping.
//   - the literal string "ALL" means "project the whole catalogue subtree reached by
//     Path unchanged, with no further Search-schema translation."
//   - an object {"const": <value>} supplies a fixed value with no catalogue lookup.
type FieldMapping struct {
	// Path is the dotted catalogue relation/attribute chain this field is read from.
	// Empty when Constant is set.
	Path string
	// TargetEntity names the Search entity whose own mapping continues a path that
	// crosses into another entity (relation fields only; empty for scalar leaves and
	// for ALL fields).
	TargetEntity string
	// All marks a field whose catalogue subtree is projected unchanged.
	All bool
	// HasConstant and Constant hold a fixed value substituted with no catalogue lookup.
	HasConstant bool
	Constant    any
	// Required marks a field whose absence (a null intermediate relation) drops the
	// whole record from the result set rather than omitting just this field.
	Required bool
}

// UnmarshalJSON accepts the three field-mapping shapes described on FieldMapping.
func (f *FieldMapping) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString == "ALL" {
			f.All = true
			return nil
		}
		f.Path = asString
		return nil
	}

	var asObject struct {
		Path         string `json:"path"`
		TargetEntity string `json:"entity"`
		Const        any    `json:"const"`
		HasConst     bool   `json:"-"`
		Required     bool   `json:"required"`
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("field mapping must be a string or object: %w", err)
	}
	if v, ok := raw["const"]; ok {
		if err := json.Unmarshal(v, &asObject.Const); err != nil {
			return fmt.Errorf("decoding const field mapping: %w", err)
		}
		asObject.HasConst = true
	}
	if v, ok := raw["path"]; ok {
		if err := json.Unmarshal(v, &asObject.Path); err != nil {
			return fmt.Errorf("decoding path field mapping: %w", err)
		}
	}
	if v, ok := raw["entity"]; ok {
		if err := json.Unmarshal(v, &asObject.TargetEntity); err != nil {
			return fmt.Errorf("decoding entity field mapping: %w", err)
		}
	}
	if v, ok := raw["required"]; ok {
		if err := json.Unmarshal(v, &asObject.Required); err != nil {
			return fmt.Errorf("decoding required field mapping: %w", err)
		}
	}

	f.Path = asObject.Path
	f.TargetEntity = asObject.TargetEntity
	f.Required = asObject.Required
	if asObject.HasConst {
		f.HasConstant = true
		f.Constant = asObject.Const
	}
	return nil
}

// EntityMapping is the full mapping for one Search-schema entity: the catalogue entity
// it is rooted at, and a mapping per Search field.
type EntityMapping struct {
	BaseEntity string                  `json:"baseEntity"`
	Fields     map[string]FieldMapping `json:"fields"`
}

// Mapping is the whole loaded mapping document, keyed by Search entity name.
type Mapping map[string]EntityMapping

// Load reads and parses the mapping document at path, then validates it.
func Load(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading projection mapping %s: %w", path, err)
	}
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing projection mapping %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating projection mapping %s: %w", path, err)
	}
	return m, nil
}

// Validate checks every entity mapping's BaseEntity and field paths resolve against the
// catalogue registry, and that every TargetEntity names another entity declared in the
// same mapping document. It is meant to run once at startup; callers should treat any
// error here as a configuration defect, not a per-request condition.
func (m Mapping) Validate() error {
	for searchEntity, em := range m {
		base, err := catalogue.Lookup(em.BaseEntity)
		if err != nil {
			return fmt.Errorf("entity %s: baseEntity %q: %w", searchEntity, em.BaseEntity, err)
		}
		for field, fm := range em.Fields {
			if fm.HasConstant {
				continue
			}
			if fm.Path == "" && !fm.All {
				return fmt.Errorf("entity %s: field %s: mapping has no path, ALL marker, or const", searchEntity, field)
			}
			if fm.TargetEntity != "" {
				if _, ok := m[fm.TargetEntity]; !ok {
					return fmt.Errorf("entity %s: field %s: targets unknown Search entity %q", searchEntity, field, fm.TargetEntity)
				}
			}
			if fm.All {
				if _, _, err := resolveCatalogueRelationPath(base, fm.Path); err != nil {
					return fmt.Errorf("entity %s: field %s: %w", searchEntity, field, err)
				}
				continue
			}
			if _, _, err := resolveCataloguePath(base, fm.Path, fm.TargetEntity != ""); err != nil {
				return fmt.Errorf("entity %s: field %s: %w", searchEntity, field, err)
			}
		}
	}
	return nil
}

// resolveCataloguePath walks a dotted catalogue path from entity. If finalIsRelation is
// true the last segment must itself be a relation (the field continues into another
// Search entity's mapping); otherwise the last segment must be a scalar attribute.
func resolveCataloguePath(entity catalogue.EntityDescriptor, path string, finalIsRelation bool) (catalogue.EntityDescriptor, string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return catalogue.EntityDescriptor{}, "", fmt.Errorf("empty catalogue path")
	}
	current := entity
	for i, seg := range segments {
		last := i == len(segments)-1
		if last && !finalIsRelation {
			if !catalogue.HasAttribute(current.Name, seg) {
				return catalogue.EntityDescriptor{}, "", fmt.Errorf("unknown attribute %q on %s", seg, current.Name)
			}
			return current, seg, nil
		}
		next, _, err := catalogue.ResolveRelation(current.Name, seg)
		if err != nil {
			return catalogue.EntityDescriptor{}, "", err
		}
		current = next
	}
	return current, "", nil
}

// resolveCatalogueRelationPath walks a dotted path of relations only (used for ALL
// fields, which never terminate in a validated scalar attribute).
func resolveCatalogueRelationPath(entity catalogue.EntityDescriptor, path string) (catalogue.EntityDescriptor, string, error) {
	segments := splitPath(path)
	current := entity
	for _, seg := range segments {
		next, _, err := catalogue.ResolveRelation(current.Name, seg)
		if err != nil {
			return catalogue.EntityDescriptor{}, "", err
		}
		current = next
	}
	return current, "", nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}
