package dataset

import (
	"testing"

	"github.com/saelay/trdp-ladder/internal/config"
)

// TestNewCache_ResolvesNestedReference verifies that a dataset referencing
// another dataset by id gets its Nested pointer populated and shared from
// the cache rather than re-resolved.
func TestNewCache_ResolvesNestedReference(t *testing.T) {
	inner := config.DatasetConfig{
		DatasetID: 2,
		Elements:  []config.DatasetElementConfig{{Type: config.TypeUINT32, Count: 1}},
	}
	outer := config.DatasetConfig{
		DatasetID: 1,
		Elements:  []config.DatasetElementConfig{{Type: config.TypeDataset, Count: 1, DatasetRef: 2}},
	}

	cache, err := NewCache([]config.DatasetConfig{outer, inner})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	schema, ok := cache.Lookup(1)
	if !ok {
		t.Fatal("expected dataset 1 to resolve")
	}
	if schema.Elements[0].Nested == nil {
		t.Fatal("expected nested schema to be resolved")
	}
	if schema.Elements[0].Nested.ID != 2 {
		t.Fatalf("expected nested schema id 2, got %d", schema.Elements[0].Nested.ID)
	}
}

// TestNewCache_RejectsCyclicReference verifies a dataset that references
// itself (directly or transitively) is a fatal configuration error rather
// than an infinite recursion.
func TestNewCache_RejectsCyclicReference(t *testing.T) {
	a := config.DatasetConfig{
		DatasetID: 1,
		Elements:  []config.DatasetElementConfig{{Type: config.TypeDataset, DatasetRef: 2}},
	}
	b := config.DatasetConfig{
		DatasetID: 2,
		Elements:  []config.DatasetElementConfig{{Type: config.TypeDataset, DatasetRef: 1}},
	}

	if _, err := NewCache([]config.DatasetConfig{a, b}); err == nil {
		t.Fatal("expected an error for a cyclic dataset reference")
	}
}

// TestNewCache_RejectsUnknownReference verifies a dataset referencing a
// datasetId absent from the configuration list fails at build time rather
// than producing a schema with a nil Nested pointer that dereferences later.
func TestNewCache_RejectsUnknownReference(t *testing.T) {
	a := config.DatasetConfig{
		DatasetID: 1,
		Elements:  []config.DatasetElementConfig{{Type: config.TypeDataset, DatasetRef: 99}},
	}

	if _, err := NewCache([]config.DatasetConfig{a}); err == nil {
		t.Fatal("expected an error for an unknown dataset reference")
	}
}

// TestLookup_UnknownDatasetReportsFalse verifies Lookup's ok return lets
// callers surface UnknownDatasetErr instead of a nil-pointer schema.
func TestLookup_UnknownDatasetReportsFalse(t *testing.T) {
	cache, err := NewCache(nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if _, ok := cache.Lookup(42); ok {
		t.Fatal("expected Lookup to report false for an unknown datasetId")
	}
}

// TestWireSize_KnownPrimitives verifies the fixed wire sizes spec §4.2's
// table specifies for a representative sample of primitive types.
func TestWireSize_KnownPrimitives(t *testing.T) {
	cases := []struct {
		typ  config.PrimitiveType
		size int
	}{
		{config.TypeBOOL8, 1},
		{config.TypeUINT16, 2},
		{config.TypeUINT32, 4},
		{config.TypeTIMEDATE48, 6},
		{config.TypeUINT64, 8},
		{config.TypeDataset, 0},
	}
	for _, c := range cases {
		if got := WireSize(c.typ); got != c.size {
			t.Errorf("WireSize(%v) = %d, want %d", c.typ, got, c.size)
		}
	}
}

// TestIsUnsignedInt_OnlyUnsignedIntegersQualify verifies the predicate that
// gates which element types may drive a variable-length array.
func TestIsUnsignedInt_OnlyUnsignedIntegersQualify(t *testing.T) {
	if !IsUnsignedInt(config.TypeUINT32) {
		t.Error("expected UINT32 to qualify as a variable-length driver")
	}
	if IsUnsignedInt(config.TypeINT32) {
		t.Error("expected signed INT32 not to qualify")
	}
	if IsUnsignedInt(config.TypeREAL32) {
		t.Error("expected REAL32 not to qualify")
	}
}
