// Package dataset describes the recursive DatasetSchema of spec §3.1 and
// resolves the configuration loader's flat DatasetConfig records into a
// schema graph the marshalling engine (internal/wire) can walk.
//
// The recursive cached-dataset-pointer mutation used by the original C
// implementation is a caching device, not part of the contract (spec §9
// Design Notes) — here the cache is a separate memoization map keyed by
// datasetId, and schemas themselves are immutable once built.
package dataset

import (
	"fmt"

	"github.com/saelay/trdp-ladder/internal/config"
)

// Element is one (type, count) pair of a DatasetSchema.
type Element struct {
	Type    config.PrimitiveType
	Count   uint32 // 0 = variable length, driven by the immediately preceding element
	RefID   uint32 // valid when Type == config.TypeDataset
	Nested  *Schema // resolved by NewCache when Type == config.TypeDataset, nil otherwise
}

// Schema is an immutable, ordered list of elements. Shared by reference once
// built; never mutated after NewCache returns.
type Schema struct {
	ID       uint32
	Elements []Element
}

// MaxDepth bounds the nested-dataset reference graph (spec §3.1: "depth is
// bounded (16 suffices)").
const MaxDepth = 16

// Cache resolves DatasetConfig records into a graph of *Schema, memoizing by
// datasetId so repeated references share the same Schema instance and so
// resolution never re-walks a subgraph twice.
type Cache struct {
	byID map[uint32]*Schema
}

// NewCache builds an immutable Cache from the configuration loader's flat
// DatasetConfig list. It validates that the reference graph is acyclic and
// within MaxDepth (spec §3.1 invariant); a cyclic schema is a fatal
// configuration error (spec §7 Fatal conditions).
func NewCache(configs []config.DatasetConfig) (*Cache, error) {
	raw := make(map[uint32]config.DatasetConfig, len(configs))
	for _, c := range configs {
		raw[c.DatasetID] = c
	}

	c := &Cache{byID: make(map[uint32]*Schema, len(configs))}
	for _, cfg := range configs {
		if _, err := c.build(cfg.DatasetID, raw, nil); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Lookup returns the schema for datasetId, or (nil, false) if unknown —
// callers surface this as UnknownDatasetErr (spec §4.2).
func (c *Cache) Lookup(datasetID uint32) (*Schema, bool) {
	s, ok := c.byID[datasetID]
	return s, ok
}

func (c *Cache) build(id uint32, raw map[uint32]config.DatasetConfig, stack []uint32) (*Schema, error) {
	if s, ok := c.byID[id]; ok {
		return s, nil
	}
	if len(stack) >= MaxDepth {
		return nil, fmt.Errorf("dataset %d: depth exceeds %d", id, MaxDepth)
	}
	for _, seen := range stack {
		if seen == id {
			return nil, fmt.Errorf("dataset %d: cyclic reference", id)
		}
	}
	cfg, ok := raw[id]
	if !ok {
		return nil, fmt.Errorf("dataset %d: unknown", id)
	}

	schema := &Schema{ID: id, Elements: make([]Element, len(cfg.Elements))}

	// Register only after the elements resolve: a dataset still being built
	// is on the stack, not in byID, so a reference back to it reaches the
	// cycle check above instead of the memo lookup.
	stack = append(stack, id)
	for i, ec := range cfg.Elements {
		el := Element{Type: ec.Type, Count: ec.Count, RefID: ec.DatasetRef}
		if ec.Type == config.TypeDataset {
			nested, err := c.build(ec.DatasetRef, raw, stack)
			if err != nil {
				return nil, err
			}
			el.Nested = nested
		}
		schema.Elements[i] = el
	}
	c.byID[id] = schema
	return schema, nil
}

// WireSize returns the fixed wire size of a primitive type (spec §4.2 table),
// or 0 for types whose size is not fixed (TypeDataset, and any array whose
// per-element size still needs to be multiplied by a runtime count).
func WireSize(t config.PrimitiveType) int {
	switch t {
	case config.TypeBOOL8, config.TypeCHAR8, config.TypeINT8, config.TypeUINT8:
		return 1
	case config.TypeUTF16, config.TypeINT16, config.TypeUINT16:
		return 2
	case config.TypeINT32, config.TypeUINT32, config.TypeREAL32, config.TypeTIMEDATE32:
		return 4
	case config.TypeTIMEDATE48:
		return 6
	case config.TypeINT64, config.TypeUINT64, config.TypeREAL64, config.TypeTIMEDATE64:
		return 8
	default:
		return 0
	}
}

// WireAlign returns the wire alignment of a primitive type (spec §4.2
// table). TIMEDATE48 has a compound alignment (4 then 2) handled specially
// by internal/wire; WireAlign returns the alignment of its first part.
func WireAlign(t config.PrimitiveType) int {
	switch t {
	case config.TypeBOOL8, config.TypeCHAR8, config.TypeINT8, config.TypeUINT8:
		return 1
	case config.TypeUTF16, config.TypeINT16, config.TypeUINT16:
		return 2
	case config.TypeINT64, config.TypeUINT64, config.TypeREAL64, config.TypeTIMEDATE64:
		return 4 // pair of 32-bit words
	default:
		return 4
	}
}

// IsUnsignedInt reports whether t is one of the unsigned integer primitives
// — the only types allowed to drive a variable-length element (spec §4.2
// "must be unsigned integer").
func IsUnsignedInt(t config.PrimitiveType) bool {
	switch t {
	case config.TypeUINT8, config.TypeUINT16, config.TypeUINT32, config.TypeUINT64:
		return true
	default:
		return false
	}
}
