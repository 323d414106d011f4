/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"fmt"

	"github.com/trustbloc/sdjwt-go/common"
)

// ClaimKind tags a ClaimEntry variant.
type ClaimKind int

const (
	// ClaimKindPlain emits the value in place, always disclosed.
	ClaimKindPlain = ClaimKind(iota)
	// ClaimKindSelectivelyDisclosable hides the claim behind a digest in the enclosing _sd array.
	ClaimKindSelectivelyDisclosable
	// ClaimKindStructured keeps the claim key visible and recurses into the object value.
	ClaimKindStructured
	// ClaimKindRecursive recurses into the object value and additionally hides the claim's own key
	// behind one more digest.
	ClaimKindRecursive
	// ClaimKindArray emits an array whose elements are individually plain or hidden.
	ClaimKindArray
	// ClaimKindRecursiveArray builds the array as ClaimKindArray does, then hides the whole array
	// behind one more digest.
	ClaimKindRecursiveArray
)

// ClaimEntry is a single named node of a claim specification.
type ClaimEntry struct {
	Name string
	Kind ClaimKind

	// Value is set for plain and selectively disclosable claims.
	Value interface{}

	// Children is set for structured and recursive object claims.
	Children []*ClaimEntry

	// Elements is set for array claims.
	Elements []*ArrayElementSpec
}

// ArrayElementKind tags an array element variant.
type ArrayElementKind int

const (
	// ArrayElementKindPlain emits the element in place.
	ArrayElementKindPlain = ArrayElementKind(iota)
	// ArrayElementKindSelectivelyDisclosable hides the element behind a {"...": digest} marker.
	ArrayElementKindSelectivelyDisclosable
)

// ArrayElementSpec is a single element of an array claim specification.
type ArrayElementSpec struct {
	Kind  ArrayElementKind
	Value interface{}
}

// ClaimSpec is a finite tree describing which claims of a document are hidden and how.
// Entries keep declaration order; that order is the canonical order of the produced disclosures.
type ClaimSpec struct {
	entries []*ClaimEntry
}

// Entries returns the top-level entries in declaration order.
func (s *ClaimSpec) Entries() []*ClaimEntry {
	return s.entries
}

// SpecBuilder builds a ClaimSpec. All methods return the builder for chaining; the first
// error (reserved or duplicate claim name) is kept and returned by Build.
type SpecBuilder struct {
	entries []*ClaimEntry
	names   map[string]bool
	err     error
}

// NewSpecBuilder creates an empty claim specification builder.
func NewSpecBuilder() *SpecBuilder {
	return &SpecBuilder{names: make(map[string]bool)}
}

// Plain adds a claim that is always disclosed.
func (b *SpecBuilder) Plain(name string, value interface{}) *SpecBuilder {
	return b.add(&ClaimEntry{Name: name, Kind: ClaimKindPlain, Value: value})
}

// Disclosable adds a selectively disclosable claim.
func (b *SpecBuilder) Disclosable(name string, value interface{}) *SpecBuilder {
	return b.add(&ClaimEntry{Name: name, Kind: ClaimKindSelectivelyDisclosable, Value: value})
}

// Structured adds an object claim whose key stays visible while its children follow
// the nested specification.
func (b *SpecBuilder) Structured(name string, build func(*SpecBuilder)) *SpecBuilder {
	return b.addObject(name, ClaimKindStructured, build)
}

// Recursive adds an object claim built like Structured and then hidden, key included,
// behind one more digest.
func (b *SpecBuilder) Recursive(name string, build func(*SpecBuilder)) *SpecBuilder {
	return b.addObject(name, ClaimKindRecursive, build)
}

// Array adds an array claim whose elements are declared through the array builder.
func (b *SpecBuilder) Array(name string, build func(*ArrayBuilder)) *SpecBuilder {
	return b.addArray(name, ClaimKindArray, build)
}

// RecursiveArray adds an array claim built like Array and then hidden, key included,
// behind one more digest.
func (b *SpecBuilder) RecursiveArray(name string, build func(*ArrayBuilder)) *SpecBuilder {
	return b.addArray(name, ClaimKindRecursiveArray, build)
}

// Build returns the claim specification or the first construction error.
func (b *SpecBuilder) Build() (*ClaimSpec, error) {
	if b.err != nil {
		return nil, b.err
	}

	return &ClaimSpec{entries: b.entries}, nil
}

func (b *SpecBuilder) addObject(name string, kind ClaimKind, build func(*SpecBuilder)) *SpecBuilder {
	nested := NewSpecBuilder()
	build(nested)

	if nested.err != nil && b.err == nil {
		b.err = nested.err
	}

	return b.add(&ClaimEntry{Name: name, Kind: kind, Children: nested.entries})
}

func (b *SpecBuilder) addArray(name string, kind ClaimKind, build func(*ArrayBuilder)) *SpecBuilder {
	nested := &ArrayBuilder{}
	build(nested)

	return b.add(&ClaimEntry{Name: name, Kind: kind, Elements: nested.elements})
}

func (b *SpecBuilder) add(entry *ClaimEntry) *SpecBuilder {
	if b.err != nil {
		return b
	}

	// An empty name would make the disclosure wire form indistinguishable from an
	// array element disclosure.
	if entry.Name == "" {
		b.err = fmt.Errorf("claim name cannot be empty")

		return b
	}

	if common.ReservedClaimNames[entry.Name] {
		b.err = fmt.Errorf("%w: '%s' cannot be used as a claim name", common.ErrReservedClaimName, entry.Name)

		return b
	}

	if b.names[entry.Name] {
		b.err = fmt.Errorf("duplicate claim name '%s'", entry.Name)

		return b
	}

	b.names[entry.Name] = true
	b.entries = append(b.entries, entry)

	return b
}

// ArrayBuilder builds the element list of an array claim.
type ArrayBuilder struct {
	elements []*ArrayElementSpec
}

// Plain adds an element that is always disclosed.
func (ab *ArrayBuilder) Plain(value interface{}) *ArrayBuilder {
	ab.elements = append(ab.elements, &ArrayElementSpec{Kind: ArrayElementKindPlain, Value: value})

	return ab
}

// Disclosable adds a selectively disclosable element.
func (ab *ArrayBuilder) Disclosable(value interface{}) *ArrayBuilder {
	ab.elements = append(ab.elements, &ArrayElementSpec{Kind: ArrayElementKindSelectivelyDisclosable, Value: value})

	return ab
}
