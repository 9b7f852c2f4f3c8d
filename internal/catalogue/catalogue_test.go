package catalogue

import "testing"

func TestLookupKnownEntity(t *testing.T) {
	d, err := Lookup("Dataset")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "Dataset" {
		t.Fatalf("Name = %q, want Dataset", d.Name)
	}
	if _, ok := d.Attributes["name"]; !ok {
		t.Fatalf("Dataset descriptor missing name attribute")
	}
}

func TestLookupUnknownEntity(t *testing.T) {
	if _, err := Lookup("NotAnEntity"); err == nil {
		t.Fatalf("expected error for unknown entity")
	}
}

func TestResolveRelationToMany(t *testing.T) {
	target, kind, err := ResolveRelation("Investigation", "datasets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Name != "Dataset" {
		t.Fatalf("target = %q, want Dataset", target.Name)
	}
	if kind != ToMany {
		t.Fatalf("kind = %v, want ToMany", kind)
	}
}

func TestResolveRelationToOne(t *testing.T) {
	target, kind, err := ResolveRelation("Dataset", "investigation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Name != "Investigation" {
		t.Fatalf("target = %q, want Investigation", target.Name)
	}
	if kind != ToOne {
		t.Fatalf("kind = %v, want ToOne", kind)
	}
}

func TestResolveRelationUnknown(t *testing.T) {
	if _, _, err := ResolveRelation("Dataset", "noSuchRelation"); err == nil {
		t.Fatalf("expected error for unknown relation")
	}
}

func TestHasAttribute(t *testing.T) {
	if !HasAttribute("Datafile", "fileSize") {
		t.Fatalf("expected Datafile.fileSize to be a known attribute")
	}
	if HasAttribute("Datafile", "bogus") {
		t.Fatalf("did not expect Datafile.bogus to be known")
	}
	if HasAttribute("NoEntity", "name") {
		t.Fatalf("did not expect unknown entity to report attributes")
	}
}

// Every relation's target entity must itself be registered; a dangling relation
// target would silently break query building and projection mapping validation.
func TestRegistryRelationsResolve(t *testing.T) {
	for name, d := range Registry {
		for field, rel := range d.Relations {
			if _, ok := Registry[rel.Entity]; !ok {
				t.Fatalf("%s.%s targets unregistered entity %q", name, field, rel.Entity)
			}
		}
	}
}
