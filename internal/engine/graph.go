package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/splunk-stack/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resources.
// It resolves both explicit DependsOn and implicit ptr:// references; either
// one naming an undeclared resource is an error.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	edges := make(map[string][]string, len(resources))
	for _, res := range resources {
		addr := res.Address()
		if _, dup := edges[addr]; dup {
			return nil, fmt.Errorf("duplicate resource %s", addr)
		}
		edges[addr] = nil
	}

	for _, res := range resources {
		addr := res.Address()
		for _, dep := range res.DependsOn {
			if _, ok := edges[dep]; !ok {
				return nil, fmt.Errorf("%s depends on undeclared resource %s", addr, dep)
			}
			edges[addr] = append(edges[addr], dep)
		}
		for _, ref := range extractPtrRefs(res.Properties) {
			dep := ptrRefToAddr(ref)
			if dep == "" {
				return nil, fmt.Errorf("%s has malformed reference %q", addr, ref)
			}
			if _, ok := edges[dep]; !ok {
				return nil, fmt.Errorf("%s references undeclared resource %s", addr, dep)
			}
			edges[addr] = append(edges[addr], dep)
		}
	}

	return newDAG(edges)
}

// BuildDAGFromState constructs a dependency graph from deployed resources.
// Recorded dependencies that are no longer in state are ignored.
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	edges := make(map[string][]string, len(resources))
	for _, res := range resources {
		edges[res.Address()] = nil
	}
	for _, res := range resources {
		addr := res.Address()
		for _, dep := range res.Dependencies {
			if _, ok := edges[dep]; ok {
				edges[addr] = append(edges[addr], dep)
			}
		}
	}
	return newDAG(edges)
}

func newDAG(edges map[string][]string) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(edges))}
	for addr, deps := range edges {
		dag.nodes[addr] = &dagNode{addr: addr, edges: dedupe(deps)}
	}
	for addr, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}
	for _, node := range dag.nodes {
		sort.Strings(node.revEdges)
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	dag.revOrder = make([]string, len(order))
	for i, addr := range order {
		dag.revOrder[len(order)-1-i] = addr
	}
	return dag, nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// topoSort is Kahn's algorithm. Among ready nodes the smallest address goes
// first, so the order is a pure function of the graph.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var ready []string
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
		if len(node.edges) == 0 {
			ready = append(ready, addr)
		}
	}
	sort.Strings(ready)

	sorted := make([]string, 0, len(d.nodes))
	for len(ready) > 0 {
		addr := ready[0]
		ready = ready[1:]
		sorted = append(sorted, addr)

		released := false
		for _, dependent := range d.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(sorted) != len(d.nodes) {
		var stuck []string
		for addr, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, addr)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle detected in resource graph: %s", strings.Join(stuck, ", "))
	}

	return sorted, nil
}

// Dependencies returns the direct dependencies of addr.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that directly depend on addr.
func (d *DAG) Dependents(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns every resource addr depends on, directly or not.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(a string) {
		for _, dep := range d.Dependencies(a) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// Edges returns every (from, to) pair where from depends on to, sorted.
func (d *DAG) Edges() [][2]string {
	var out [][2]string
	for _, addr := range d.order {
		for _, dep := range d.nodes[addr].edges {
			out = append(out, [2]string{addr, dep})
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// extractPtrRefs extracts all ptr:// references from a property value.
func extractPtrRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if ir.IsRef(val) {
			refs = append(refs, val)
		}
	case []string:
		for _, s := range val {
			refs = append(refs, extractPtrRefs(s)...)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case map[string]string:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	}
	return refs
}

// ptrRefToAddr converts a ptr:// reference to a resource address.
// ptr://aws:EC2.Vpc/my-vpc/id -> aws:EC2.Vpc.my-vpc
func ptrRefToAddr(ref string) string {
	return ir.RefAddr(ref)
}
