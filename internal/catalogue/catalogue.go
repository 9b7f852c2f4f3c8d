// Package catalogue holds the compiled-in entity descriptor registry: a static map of
// catalogue entity names to their relations and attributes. It has no network or file
// I/O and is consulted by the query builders to validate field paths and relation
// cardinality, and by the projection engine to validate mapping targets at load time.
package catalogue

import (
	"fmt"
	"sort"
)

// RelationKind distinguishes a to-one relation (joins without fan-out) from a to-many
// relation (joins that multiply result rows unless handled through include/aggregate).
type RelationKind int

const (
	ToOne RelationKind = iota
	ToMany
)

// AttributeKind is the scalar type of a leaf attribute. The ICAT query builder uses it
// to render numeric literals compared against integer attributes without a fractional
// part; whether a literal is quoted follows the literal's own JSON type.
type AttributeKind int

const (
	KindString AttributeKind = iota
	KindInt
	KindFloat
	KindBool
	KindDateTime
)

// Relation describes one named relation of an entity: its target entity and cardinality.
type Relation struct {
	Entity string
	Kind   RelationKind
}

// EntityDescriptor is the full shape of one catalogue entity known to the gateway.
type EntityDescriptor struct {
	Name string
	// Attributes maps scalar field name to its kind.
	Attributes map[string]AttributeKind
	// Relations maps relation field name to its target entity and cardinality.
	Relations map[string]Relation
	// TextSearchable lists the attributes eligible for the `text` operator (free-text
	// search across a curated attribute subset, rather than every string column).
	TextSearchable []string
}

// Registry is the full compiled-in set of entity descriptors, keyed by entity name as
// it appears in filter field paths and URL path segments (PascalCase, matching ICAT's
// own entity naming).
var Registry = map[string]EntityDescriptor{
	"Investigation": {
		Name: "Investigation",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "title": KindString,
			"summary": KindString, "doi": KindString, "startDate": KindDateTime,
			"endDate": KindDateTime, "visitId": KindString,
			"createTime": KindDateTime, "modTime": KindDateTime,
		},
		Relations: map[string]Relation{
			"facility":           {Entity: "Facility", Kind: ToOne},
			"investigationUsers": {Entity: "InvestigationUser", Kind: ToMany},
			"datasets":           {Entity: "Dataset", Kind: ToMany},
			"samples":            {Entity: "Sample", Kind: ToMany},
			"investigationGroups": {Entity: "InvestigationGroup", Kind: ToMany},
			"studyInvestigations": {Entity: "Study", Kind: ToMany},
			"keywords":           {Entity: "Keyword", Kind: ToMany},
			"facilityCycle":      {Entity: "FacilityCycle", Kind: ToOne},
		},
		TextSearchable: []string{"name", "title", "summary"},
	},
	"Dataset": {
		Name: "Dataset",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "description": KindString,
			"doi": KindString, "location": KindString, "complete": KindBool,
			"startDate": KindDateTime, "endDate": KindDateTime,
			"createTime": KindDateTime, "modTime": KindDateTime,
		},
		Relations: map[string]Relation{
			"investigation": {Entity: "Investigation", Kind: ToOne},
			"datafiles":     {Entity: "Datafile", Kind: ToMany},
			"technique":     {Entity: "Technique", Kind: ToMany},
		},
		TextSearchable: []string{"name", "description"},
	},
	"Datafile": {
		Name: "Datafile",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "location": KindString,
			"fileSize": KindInt, "datafileCreateTime": KindDateTime,
			"datafileModTime": KindDateTime, "createTime": KindDateTime,
			"modTime": KindDateTime,
		},
		Relations: map[string]Relation{
			"dataset":    {Entity: "Dataset", Kind: ToOne},
			"parameters": {Entity: "Parameter", Kind: ToMany},
		},
		TextSearchable: []string{"name"},
	},
	"Instrument": {
		Name: "Instrument",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "fullName": KindString,
			"description": KindString, "url": KindString,
		},
		Relations: map[string]Relation{
			"facility":      {Entity: "Facility", Kind: ToOne},
			"investigations": {Entity: "Investigation", Kind: ToMany},
		},
		TextSearchable: []string{"name", "fullName", "description"},
	},
	"Facility": {
		Name: "Facility",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "fullName": KindString,
			"description": KindString, "url": KindString,
			"daysUntilRelease": KindInt,
		},
		Relations: map[string]Relation{
			"investigations": {Entity: "Investigation", Kind: ToMany},
			"instruments":    {Entity: "Instrument", Kind: ToMany},
			"facilityCycles": {Entity: "FacilityCycle", Kind: ToMany},
		},
		TextSearchable: []string{"name", "fullName"},
	},
	"InvestigationUser": {
		Name: "InvestigationUser",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "role": KindString,
		},
		Relations: map[string]Relation{
			"investigation": {Entity: "Investigation", Kind: ToOne},
			"user":          {Entity: "User", Kind: ToOne},
		},
	},
	"Sample": {
		Name: "Sample",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString,
		},
		Relations: map[string]Relation{
			"investigation": {Entity: "Investigation", Kind: ToOne},
		},
		TextSearchable: []string{"name"},
	},
	"Technique": {
		Name: "Technique",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "description": KindString,
			"pid": KindString,
		},
		TextSearchable: []string{"name", "description"},
	},
	"Parameter": {
		Name: "Parameter",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "stringValue": KindString,
			"numericValue": KindFloat, "dateTimeValue": KindDateTime,
		},
		Relations: map[string]Relation{
			"datafile": {Entity: "Datafile", Kind: ToOne},
		},
	},
	"InvestigationGroup": {
		Name: "InvestigationGroup",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "role": KindString,
		},
		Relations: map[string]Relation{
			"investigation": {Entity: "Investigation", Kind: ToOne},
			"members":       {Entity: "InvestigationGroupMember", Kind: ToMany},
		},
	},
	"InvestigationGroupMember": {
		Name: "InvestigationGroupMember",
		Attributes: map[string]AttributeKind{
			"id": KindInt,
		},
		Relations: map[string]Relation{
			"user": {Entity: "User", Kind: ToOne},
		},
	},
	"User": {
		Name: "User",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString, "fullName": KindString,
			"email": KindString, "orcidId": KindString,
		},
		Relations: map[string]Relation{
			"affiliations": {Entity: "Affiliation", Kind: ToMany},
		},
		TextSearchable: []string{"name", "fullName"},
	},
	"Affiliation": {
		Name: "Affiliation",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString,
		},
		Relations: map[string]Relation{
			"user": {Entity: "User", Kind: ToOne},
		},
	},
	"Study": {
		Name: "Study",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "pid": KindString, "name": KindString,
			"description": KindString, "startDate": KindDateTime,
			"endDate": KindDateTime,
		},
		Relations: map[string]Relation{
			"investigations": {Entity: "Investigation", Kind: ToMany},
		},
		TextSearchable: []string{"name", "description"},
	},
	"Keyword": {
		Name: "Keyword",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString,
		},
		Relations: map[string]Relation{
			"investigation": {Entity: "Investigation", Kind: ToOne},
		},
		TextSearchable: []string{"name"},
	},
	"FacilityCycle": {
		Name: "FacilityCycle",
		Attributes: map[string]AttributeKind{
			"id": KindInt, "name": KindString,
			"startDate": KindDateTime, "endDate": KindDateTime,
		},
		Relations: map[string]Relation{
			"facility": {Entity: "Facility", Kind: ToOne},
		},
		TextSearchable: []string{"name"},
	},
}

// Lookup returns the descriptor for entity, or an error naming the unknown entity.
func Lookup(entity string) (EntityDescriptor, error) {
	d, ok := Registry[entity]
	if !ok {
		return EntityDescriptor{}, fmt.Errorf("catalogue: unknown entity %q", entity)
	}
	return d, nil
}

// ResolveRelation follows a relation field on entity and returns the target
// descriptor plus the relation's cardinality.
func ResolveRelation(entity, relationField string) (EntityDescriptor, RelationKind, error) {
	d, err := Lookup(entity)
	if err != nil {
		return EntityDescriptor{}, 0, err
	}
	rel, ok := d.Relations[relationField]
	if !ok {
		return EntityDescriptor{}, 0, fmt.Errorf("catalogue: %s has no relation %q", entity, relationField)
	}
	target, err := Lookup(rel.Entity)
	if err != nil {
		return EntityDescriptor{}, 0, err
	}
	return target, rel.Kind, nil
}

// HasAttribute reports whether entity declares attribute as a scalar field.
func HasAttribute(entity, attribute string) bool {
	d, ok := Registry[entity]
	if !ok {
		return false
	}
	_, ok = d.Attributes[attribute]
	return ok
}

// Names returns every registered entity name in sorted order, used by the HTTP
// surface to build its lookup from URL path segment to entity name.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
