package config

import "testing"

func TestDefaultsFillsZeroValues(t *testing.T) {
	o := Options{}.Defaults()
	if o.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", o.PageSize, DefaultPageSize)
	}
	if o.Degree != DefaultDegree {
		t.Errorf("Degree = %d, want %d", o.Degree, DefaultDegree)
	}
	if o.CacheNodes != DefaultCacheNodes {
		t.Errorf("CacheNodes = %d, want %d", o.CacheNodes, DefaultCacheNodes)
	}
	if o.Logger == nil {
		t.Error("expected Defaults to install a discard logger")
	}
}

func TestDefaultsPreservesExplicitValues(t *testing.T) {
	o := Options{Degree: 8, PageSize: 8192}.Defaults()
	if o.Degree != 8 {
		t.Errorf("Degree = %d, want 8", o.Degree)
	}
	if o.PageSize != 8192 {
		t.Errorf("PageSize = %d, want 8192", o.PageSize)
	}
}

func TestValidateRejectsSmallDegree(t *testing.T) {
	o := Options{Degree: 2, PageSize: 4096}
	if err := o.Validate(); err == nil {
		t.Error("expected an error for degree < 3")
	}
}

func TestValidateRejectsNonPositivePageSize(t *testing.T) {
	o := Options{Degree: 4, PageSize: 0}
	if err := o.Validate(); err == nil {
		t.Error("expected an error for a non-positive page size")
	}
}

func TestValidateRejectsReadOnlyMissingFile(t *testing.T) {
	o := Options{Degree: 4, PageSize: 4096, Path: "/nonexistent/path/to/db", ReadOnly: true}
	if err := o.Validate(); err == nil {
		t.Error("expected an error opening a missing file read-only")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	o := Options{}.Defaults()
	if err := o.Validate(); err != nil {
		t.Errorf("expected defaulted options to validate, got %v", err)
	}
}
