package version

import (
	"testing"

	"github.com/sjnewbury/ldsim/internal/model"
)

func TestValidateSkipsDefinitionEntries(t *testing.T) {
	o := &model.Object{
		Path:     "/lib/libfoo.so",
		Versions: []model.VersionEntry{{}, {Name: "FOO_1.0", Hash: 1}}, // no Filename: a definition, not a requirement
	}
	objs := model.NewLoadedObjects()
	objs.Add(o)

	if err := Validate(o, objs, false); err != nil {
		t.Errorf("Validate must ignore definition-only entries, got %v", err)
	}
}

func TestValidateFailsWhenDependencyNotLoaded(t *testing.T) {
	o := &model.Object{
		Path:     "/bin/app",
		Versions: []model.VersionEntry{{}, {Name: "GLIBC_2.17", Hash: 99, Filename: "libc.so.6"}},
	}
	objs := model.NewLoadedObjects()
	objs.Add(o)

	if err := Validate(o, objs, false); err == nil {
		t.Error("Validate must fail when a required dependency is not loaded and the run isn't trace-only")
	}
	if err := Validate(o, objs, true); err != nil {
		t.Errorf("Validate must not fail on a missing dependency during a trace-only run, got %v", err)
	}
}

func TestValidateDoesNotFailOnWeakReference(t *testing.T) {
	o := &model.Object{
		Path:     "/bin/app",
		Versions: []model.VersionEntry{{}, {Name: "GLIBC_2.17", Hash: 99, Filename: "libc.so.6", Weak: true}},
	}
	objs := model.NewLoadedObjects()
	objs.Add(o)

	if err := Validate(o, objs, false); err != nil {
		t.Errorf("Validate must not fail on a VER_FLG_WEAK reference even outside a trace-only run, got %v", err)
	}
}

func TestValidateFailsWhenVersionNotDefinedByDependency(t *testing.T) {
	o := &model.Object{
		Path:     "/bin/app",
		Versions: []model.VersionEntry{{}, {Name: "GLIBC_2.99", Hash: 12345, Filename: "libc.so.6"}},
	}
	dep := &model.Object{
		Path:     "/lib/libc.so.6",
		SONAME:   "libc.so.6",
		Versions: []model.VersionEntry{{}, {Name: "GLIBC_2.17", Hash: 1}}, // different version
	}
	objs := model.NewLoadedObjects()
	objs.Add(o)
	objs.Add(dep)

	if err := Validate(o, objs, false); err == nil {
		t.Error("Validate must fail when the dependency defines no matching (hash, name) version")
	}
}

func TestValidateSucceedsWhenDependencyDefinesMatchingVersion(t *testing.T) {
	o := &model.Object{
		Path:     "/bin/app",
		Versions: []model.VersionEntry{{}, {Name: "GLIBC_2.17", Hash: 42, Filename: "libc.so.6"}},
	}
	dep := &model.Object{
		Path:     "/lib/libc.so.6",
		SONAME:   "libc.so.6",
		Versions: []model.VersionEntry{{}, {Name: "GLIBC_2.17", Hash: 42}},
	}
	objs := model.NewLoadedObjects()
	objs.Add(o)
	objs.Add(dep)

	if err := Validate(o, objs, false); err != nil {
		t.Errorf("Validate should succeed when the dependency defines a matching version, got %v", err)
	}
}
