// Package segment parses resource paths into a chain of segment descriptors.
package segment

import (
	"github.com/nlstn/go-odata-classic/internal/metadata"
)

// Descriptor is one resolved segment of a resource path. Descriptors form a
// doubly linked chain and carry the result the segment resolved to.
type Descriptor struct {
	Identifier string
	Kind       TargetKind
	Source     TargetSource
	Single     bool
	Key        *KeyDescriptor
	// ResourceSetWrapper is the set entities of this segment belong to.
	ResourceSetWrapper *metadata.ResourceSetWrapper
	// ResourceType is the type of the value the segment yields.
	ResourceType *metadata.ResourceType
	// Property is the property a property-sourced segment reads.
	Property *metadata.ResourceProperty

	prev   *Descriptor
	next   *Descriptor
	result Result
}

// Prev returns the previous segment, nil for the first.
func (d *Descriptor) Prev() *Descriptor {
	return d.prev
}

// Next returns the following segment, nil for the last.
func (d *Descriptor) Next() *Descriptor {
	return d.next
}

// Result returns what the segment resolved to.
func (d *Descriptor) Result() Result {
	return d.result
}

// SetResult stores what the segment resolved to.
func (d *Descriptor) SetResult(r Result) {
	d.result = r
}

// HasKey reports whether the segment carried a key predicate.
func (d *Descriptor) HasKey() bool {
	return d.Key != nil
}

// IsNextCount reports whether the segment is followed by $count.
func (d *Descriptor) IsNextCount() bool {
	return d.next != nil && d.next.Kind == KindCount
}

// Link connects a slice of descriptors into a chain and returns it.
func Link(descriptors []*Descriptor) []*Descriptor {
	for i, d := range descriptors {
		d.prev, d.next = nil, nil
		if i > 0 {
			d.prev = descriptors[i-1]
			descriptors[i-1].next = d
		}
	}
	return descriptors
}
