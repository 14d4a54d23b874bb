package query

import (
	"sort"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// NavigationResolver resolves the resource set a navigation property leads to.
type NavigationResolver interface {
	ResourceSetWrapperForNavigationProperty(set *metadata.ResourceSetWrapper, rt *metadata.ResourceType, prop *metadata.ResourceProperty) (*metadata.ResourceSetWrapper, error)
}

// ApplyExpandAndSelect builds the projection tree below root from $expand and $select.
// Expanded sets that are paged get a key ordering so nested next links can be built.
// When $select is present, children are ordered by their first mention in it and
// expansions it does not mention are dropped.
func ApplyExpandAndSelect(root *RootProjectionNode, expand, sel string, resolver NavigationResolver, maxDepth int) error {
	if strings.TrimSpace(expand) != "" {
		root.expansionSpecified = true
		for _, path := range strings.Split(expand, ",") {
			if err := addExpandPath(root.Node(), strings.TrimSpace(path), resolver, maxDepth); err != nil {
				return err
			}
		}
	}

	if strings.TrimSpace(sel) == "" {
		return nil
	}
	root.selectionSpecified = true
	resetSelection(root.Node())
	mention := 0
	for _, path := range strings.Split(sel, ",") {
		if err := addSelectPath(root.Node(), strings.TrimSpace(path), &mention); err != nil {
			return err
		}
	}
	pruneAndOrder(root.Node())
	return nil
}

func addExpandPath(node *ExpandedProjectionNode, path string, resolver NavigationResolver, maxDepth int) error {
	if path == "" {
		return odataerr.BadRequest("Empty path in $expand")
	}
	names := strings.Split(path, "/")
	if maxDepth > 0 && len(names) > maxDepth {
		return odataerr.BadRequest("$expand path '%s' exceeds the maximum expand depth of %d", path, maxDepth)
	}
	current := node
	for _, name := range names {
		rt := current.ResourceType()
		prop := rt.Property(name)
		if prop == nil {
			return odataerr.BadRequest("No property '%s' exists in type '%s'", name, rt.FullName())
		}
		if !prop.IsNavigation() {
			return odataerr.BadRequest("Property '%s' in $expand path '%s' is not a navigation property", name, path)
		}
		child := current.FindExpandedNode(name)
		if child == nil {
			target, err := resolver.ResourceSetWrapperForNavigationProperty(current.ResourceSetWrapper(), rt, prop)
			if err != nil {
				return odataerr.Wrap(err, "Cannot expand '%s'", name)
			}
			child = NewExpandedProjectionNode(name, prop, target)
			if target.IsPaged() {
				child.SetInternalOrderByInfo(KeyOrderBy(target.ResourceType))
			}
			current.AddNode(child)
		}
		current = child
	}
	return nil
}

func resetSelection(node *ExpandedProjectionNode) {
	node.selectAll = false
	node.mentionedAt = -1
	for _, child := range node.children {
		if expanded, ok := child.(*ExpandedProjectionNode); ok {
			resetSelection(expanded)
		}
	}
}

func mark(node *ExpandedProjectionNode, mention *int) {
	if node.mentionedAt < 0 {
		node.mentionedAt = *mention
		*mention++
	}
}

func addSelectPath(root *ExpandedProjectionNode, path string, mention *int) error {
	if path == "" {
		return odataerr.BadRequest("Empty path in $select")
	}
	names := strings.Split(path, "/")
	current := root
	for i, name := range names {
		last := i == len(names)-1
		if name == "*" {
			if !last {
				return odataerr.BadRequest("Wildcard must be the last segment of $select path '%s'", path)
			}
			current.selectAll = true
			return nil
		}
		rt := current.ResourceType()
		prop := rt.Property(name)
		if prop == nil {
			return odataerr.BadRequest("No property '%s' exists in type '%s'", name, rt.FullName())
		}
		expanded := current.FindExpandedNode(name)
		if !last {
			if expanded == nil {
				return odataerr.BadRequest("Only navigation properties that are expanded can appear in the middle of $select path '%s'", path)
			}
			mark(expanded, mention)
			current = expanded
			continue
		}
		if expanded != nil {
			mark(expanded, mention)
			expanded.selectAll = true
			return nil
		}
		if current.FindNode(name) == nil {
			node := &selectedNode{ProjectionNode: ProjectionNode{name: name, property: prop}, mentionedAt: *mention}
			*mention++
			current.children = append(current.children, node)
		}
	}
	return nil
}

// selectedNode remembers when a selection was mentioned so children can be ordered.
type selectedNode struct {
	ProjectionNode
	mentionedAt int
}

func mentionOf(n Node) int {
	switch v := n.(type) {
	case *ExpandedProjectionNode:
		return v.mentionedAt
	case *selectedNode:
		return v.mentionedAt
	}
	return -1
}

func pruneAndOrder(node *ExpandedProjectionNode) {
	order := make(map[string]int, len(node.children))
	for _, child := range node.children {
		order[child.PropertyName()] = mentionOf(child)
	}
	kept := make([]Node, 0, len(node.children))
	for _, child := range node.children {
		switch v := child.(type) {
		case *ExpandedProjectionNode:
			if v.mentionedAt < 0 {
				continue
			}
			pruneAndOrder(v)
			kept = append(kept, v)
		case *selectedNode:
			if node.selectAll {
				continue
			}
			kept = append(kept, &ProjectionNode{name: v.name, property: v.property})
		default:
			kept = append(kept, child)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return order[kept[i].PropertyName()] < order[kept[j].PropertyName()]
	})
	node.children = kept
}
