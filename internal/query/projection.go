package query

import (
	"github.com/nlstn/go-odata-classic/internal/metadata"
)

// Node is a child of an expanded projection node: either a selected property
// or a nested expansion.
type Node interface {
	PropertyName() string
	ResourceProperty() *metadata.ResourceProperty
}

// ProjectionNode is a property selected with $select.
type ProjectionNode struct {
	name     string
	property *metadata.ResourceProperty
}

// NewProjectionNode creates a selection node for property.
func NewProjectionNode(name string, property *metadata.ResourceProperty) *ProjectionNode {
	return &ProjectionNode{name: name, property: property}
}

func (n *ProjectionNode) PropertyName() string {
	return n.name
}

func (n *ProjectionNode) ResourceProperty() *metadata.ResourceProperty {
	return n.property
}

// ExpandedProjectionNode is a navigation property named in $expand, holding the
// selections and expansions that apply below it.
type ExpandedProjectionNode struct {
	ProjectionNode
	wrapper     *metadata.ResourceSetWrapper
	orderBy     *OrderByInfo
	children    []Node
	selectAll   bool
	mentionedAt int
}

// NewExpandedProjectionNode creates an expansion of property into the entities of wrapper.
func NewExpandedProjectionNode(name string, property *metadata.ResourceProperty, wrapper *metadata.ResourceSetWrapper) *ExpandedProjectionNode {
	return &ExpandedProjectionNode{
		ProjectionNode: ProjectionNode{name: name, property: property},
		wrapper:        wrapper,
		selectAll:      true,
		mentionedAt:    -1,
	}
}

// ResourceSetWrapper returns the set the expanded entities belong to.
func (n *ExpandedProjectionNode) ResourceSetWrapper() *metadata.ResourceSetWrapper {
	return n.wrapper
}

// ResourceType returns the type of the expanded entities.
func (n *ExpandedProjectionNode) ResourceType() *metadata.ResourceType {
	return n.wrapper.ResourceType
}

// InternalOrderByInfo returns the ordering used to page this node, nil when unpaged.
func (n *ExpandedProjectionNode) InternalOrderByInfo() *OrderByInfo {
	return n.orderBy
}

// SetInternalOrderByInfo sets the ordering used to page this node.
func (n *ExpandedProjectionNode) SetInternalOrderByInfo(info *OrderByInfo) {
	n.orderBy = info
}

// ChildNodes returns the children in canonical order.
func (n *ExpandedProjectionNode) ChildNodes() []Node {
	return n.children
}

// FindNode returns the child for a property name, or nil.
func (n *ExpandedProjectionNode) FindNode(name string) Node {
	for _, child := range n.children {
		if child.PropertyName() == name {
			return child
		}
	}
	return nil
}

// FindExpandedNode returns the expanded child for a property name, or nil.
func (n *ExpandedProjectionNode) FindExpandedNode(name string) *ExpandedProjectionNode {
	if expanded, ok := n.FindNode(name).(*ExpandedProjectionNode); ok {
		return expanded
	}
	return nil
}

// AddNode appends child unless a node for the same property exists.
func (n *ExpandedProjectionNode) AddNode(child Node) {
	if n.FindNode(child.PropertyName()) == nil {
		n.children = append(n.children, child)
	}
}

// CanSelectAllProperties reports whether every property of the entity is projected.
func (n *ExpandedProjectionNode) CanSelectAllProperties() bool {
	return n.selectAll
}

// SetSelectAllProperties marks whether every property is projected.
func (n *ExpandedProjectionNode) SetSelectAllProperties(all bool) {
	n.selectAll = all
}

// RootProjectionNode is the root of the projection tree of a request.
type RootProjectionNode struct {
	ExpandedProjectionNode
	expansionSpecified bool
	selectionSpecified bool
}

// NewRootProjectionNode creates the root for requests against wrapper.
func NewRootProjectionNode(wrapper *metadata.ResourceSetWrapper, orderBy *OrderByInfo) *RootProjectionNode {
	root := &RootProjectionNode{ExpandedProjectionNode: *NewExpandedProjectionNode(wrapper.Name, nil, wrapper)}
	root.orderBy = orderBy
	return root
}

// IsExpansionSpecified reports whether the request carried $expand.
func (r *RootProjectionNode) IsExpansionSpecified() bool {
	return r.expansionSpecified
}

// IsSelectionSpecified reports whether the request carried $select.
func (r *RootProjectionNode) IsSelectionSpecified() bool {
	return r.selectionSpecified
}

// Node returns the root as an expanded projection node.
func (r *RootProjectionNode) Node() *ExpandedProjectionNode {
	return &r.ExpandedProjectionNode
}
