// Package traversal tracks the navigation path taken while walking an expanded
// result tree, for both the execution and the serialization of a request.
package traversal

import (
	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
)

// Stack is the segment stack of one walk over a result tree. Segments are only
// tracked when the request specifies an expansion; otherwise every push is a no-op.
// A Stack must not be shared between walks.
type Stack struct {
	root          *query.RootProjectionNode
	target        *metadata.ResourceSetWrapper
	containerName string

	names    []string
	wrappers []*metadata.ResourceSetWrapper
	counts   []int
}

// New creates a stack for a request targeting the given set. root may be nil.
func New(root *query.RootProjectionNode, target *metadata.ResourceSetWrapper, containerName string) *Stack {
	return &Stack{root: root, target: target, containerName: containerName}
}

func (s *Stack) tracking() bool {
	return s.root != nil && s.root.IsExpansionSpecified()
}

// PushRoot pushes the segment of the resource the request path targets.
// It reports whether a segment was pushed.
func (s *Stack) PushRoot() bool {
	return s.push(s.containerName, s.target)
}

// PushForNavigationProperty pushes the segment reached by following prop from the
// current set. It reports whether a segment was pushed.
func (s *Stack) PushForNavigationProperty(prop *metadata.ResourceProperty, resolver query.NavigationResolver) (bool, error) {
	if !prop.IsNavigation() {
		return false, odataerr.InternalServerError("A segment can only be pushed for a navigation property, '%s' is not one", prop.Name)
	}
	if !s.tracking() {
		return false, nil
	}
	if len(s.names) == 0 {
		return false, odataerr.Unexpected("a root segment to be pushed")
	}
	current := s.CurrentResourceSetWrapper()
	wrapper, err := resolver.ResourceSetWrapperForNavigationProperty(current, current.ResourceType, prop)
	if err != nil {
		return false, odataerr.Wrap(err, "Cannot resolve the target set of '%s'", prop.Name)
	}
	if wrapper == nil {
		return false, odataerr.Unexpected("a resource set for navigation property " + prop.Name)
	}
	return s.push(prop.Name, wrapper), nil
}

func (s *Stack) push(name string, wrapper *metadata.ResourceSetWrapper) bool {
	if !s.tracking() {
		return false
	}
	s.names = append(s.names, name)
	s.wrappers = append(s.wrappers, wrapper)
	s.counts = append(s.counts, 0)
	return true
}

// Pop removes the top segment if needPop is set.
func (s *Stack) Pop(needPop bool) error {
	if !needPop {
		return nil
	}
	if len(s.names) == 0 {
		return odataerr.InternalServerError("Found non-balanced call to push and pop of segments")
	}
	n := len(s.names) - 1
	s.names = s.names[:n]
	s.wrappers = s.wrappers[:n]
	s.counts = s.counts[:n]
	return nil
}

// Descend pushes the segment for prop, runs fn and pops the segment again on every
// exit path.
func (s *Stack) Descend(prop *metadata.ResourceProperty, resolver query.NavigationResolver, fn func() error) error {
	pushed, err := s.PushForNavigationProperty(prop, resolver)
	if err != nil {
		return err
	}
	fnErr := fn()
	if err := s.Pop(pushed); err != nil {
		return err
	}
	return fnErr
}

// Depth returns the number of pushed segments.
func (s *Stack) Depth() int {
	return len(s.names)
}

// Names returns the pushed segment names, bottom first.
func (s *Stack) Names() []string {
	return append([]string(nil), s.names...)
}

// IsRoot reports whether the walk is at the resource the request path targets.
func (s *Stack) IsRoot() bool {
	return len(s.names) <= 1
}

// CurrentResourceSetWrapper returns the set of the entities being walked.
func (s *Stack) CurrentResourceSetWrapper() *metadata.ResourceSetWrapper {
	if len(s.wrappers) == 0 {
		return s.target
	}
	return s.wrappers[len(s.wrappers)-1]
}

// IncrementResultCount counts one more entity written at the current depth and returns the total.
func (s *Stack) IncrementResultCount() int {
	if len(s.counts) == 0 {
		return 0
	}
	s.counts[len(s.counts)-1]++
	return s.counts[len(s.counts)-1]
}

// CurrentExpandedProjectionNode returns the projection node matching the current
// depth: the root for depth 0 or 1, one level further down for every deeper segment.
// It returns nil when the request has no projection tree.
func (s *Stack) CurrentExpandedProjectionNode() (*query.ExpandedProjectionNode, error) {
	if s.root == nil {
		return nil, nil
	}
	node := s.root.Node()
	for i := 1; i < len(s.names); i++ {
		child := node.FindNode(s.names[i])
		if child == nil {
			return nil, odataerr.Unexpected("a projection node for segment " + s.names[i])
		}
		expanded, ok := child.(*query.ExpandedProjectionNode)
		if !ok {
			return nil, odataerr.Unexpected("segment " + s.names[i] + " to be an expanded projection node")
		}
		node = expanded
	}
	return node, nil
}

// ExpandedProjectionNodes returns the expansions below the current projection node.
func (s *Stack) ExpandedProjectionNodes() ([]*query.ExpandedProjectionNode, error) {
	node, err := s.CurrentExpandedProjectionNode()
	if err != nil || node == nil {
		return nil, err
	}
	var expanded []*query.ExpandedProjectionNode
	for _, child := range node.ChildNodes() {
		if e, ok := child.(*query.ExpandedProjectionNode); ok {
			expanded = append(expanded, e)
		}
	}
	return expanded, nil
}

// ProjectionNodes returns the children of the current projection node, or nil when
// every property is to be written.
func (s *Stack) ProjectionNodes() ([]query.Node, error) {
	node, err := s.CurrentExpandedProjectionNode()
	if err != nil || node == nil || node.CanSelectAllProperties() {
		return nil, err
	}
	return node.ChildNodes(), nil
}

// ShouldExpandSegment reports whether the navigation property name is expanded at the current depth.
func (s *Stack) ShouldExpandSegment(name string) (bool, error) {
	node, err := s.CurrentExpandedProjectionNode()
	if err != nil || node == nil {
		return false, err
	}
	return node.FindExpandedNode(name) != nil, nil
}
