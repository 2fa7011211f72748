// Package graph builds and validates the work-item dependency graph: cycle
// detection, dependency depth, parallel wave partitioning, and the ready set.
// Traversals are iterative so very large backlogs cannot exhaust the stack.
package graph

import (
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"crewboard/internal/domain"
)

// Graph is an adjacency map from item ID to its dependency IDs. Dependencies
// on unknown IDs are tolerated: they count as depth 0 and are reported as
// MISSING_DEPENDENCY diagnostics, never hard errors.
type Graph struct {
	adj   map[string][]string
	nodes []string
}

// MissingDep flags a dependency referencing a nonexistent item.
type MissingDep struct {
	ItemID    string `json:"item_id"`
	DependsOn string `json:"depends_on"`
}

// Report is the full structural validation result.
type Report struct {
	Valid   bool             `json:"valid"`
	Cycles  [][]string       `json:"cycles,omitempty"`
	Missing []MissingDep     `json:"missing,omitempty"`
	Depths  map[string]int   `json:"depths"`
	Waves   [][]string       `json:"waves"`
	Order   []string         `json:"order,omitempty"`
}

// Build constructs a Graph from an adjacency map (typically the board's
// cached dependency_graph).
func Build(adj map[string][]string) *Graph {
	g := &Graph{adj: make(map[string][]string, len(adj))}
	for id, deps := range adj {
		g.adj[id] = append([]string(nil), deps...)
		g.nodes = append(g.nodes, id)
	}
	sort.Strings(g.nodes)
	return g
}

func (g *Graph) known(id string) bool {
	_, ok := g.adj[id]
	return ok
}

// Missing lists dependencies referencing nonexistent item IDs.
func (g *Graph) Missing() []MissingDep {
	var missing []MissingDep
	for _, id := range g.nodes {
		for _, dep := range g.adj[id] {
			if !g.known(dep) {
				missing = append(missing, MissingDep{ItemID: id, DependsOn: dep})
			}
		}
	}
	return missing
}

// Cycles finds every cycle in the graph via iterative depth-first traversal
// with an on-stack set. Each cycle is reported once as a closed path
// [n0, n1, ..., n0] covering exactly the cyclic nodes.
func (g *Graph) Cycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	onPath := make(map[string]int, len(g.nodes)) // node -> index in path
	seen := map[string]bool{}
	var cycles [][]string

	type frame struct {
		node string
		next int
	}

	for _, start := range g.nodes {
		if color[start] != white {
			continue
		}
		stack := []frame{{node: start}}
		path := []string{start}
		color[start] = gray
		onPath[start] = 0
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			deps := g.adj[f.node]
			advanced := false
			for f.next < len(deps) {
				dep := deps[f.next]
				f.next++
				if !g.known(dep) {
					continue
				}
				switch color[dep] {
				case white:
					color[dep] = gray
					onPath[dep] = len(path)
					path = append(path, dep)
					stack = append(stack, frame{node: dep})
					advanced = true
				case gray:
					// The contiguous sub-path from dep's first occurrence
					// through the repeat is the minimal cycle.
					cycle := append([]string(nil), path[onPath[dep]:]...)
					cycle = append(cycle, dep)
					if key := cycleKey(cycle); !seen[key] {
						seen[key] = true
						cycles = append(cycles, cycle)
					}
				}
				if advanced {
					break
				}
			}
			if !advanced && f.next >= len(deps) {
				color[f.node] = black
				delete(onPath, f.node)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
			}
		}
	}
	return cycles
}

// cycleKey normalizes a closed cycle path so rotations compare equal.
func cycleKey(cycle []string) string {
	nodes := cycle[:len(cycle)-1]
	min := 0
	for i, n := range nodes {
		if n < nodes[min] {
			min = i
		}
	}
	rotated := make([]string, 0, len(nodes))
	for i := 0; i < len(nodes); i++ {
		rotated = append(rotated, nodes[(min+i)%len(nodes)])
	}
	return strings.Join(rotated, "->")
}

// Depths computes each item's dependency depth: 0 with no dependencies,
// otherwise 1 + the maximum depth among its dependencies. Unknown
// dependencies contribute depth 0; nodes on a cycle resolve to a stable
// value rather than recursing forever. Results are memoized and idempotent.
func (g *Graph) Depths() map[string]int {
	memo := make(map[string]int, len(g.nodes))
	state := make(map[string]int, len(g.nodes)) // 0 new, 1 visiting, 2 done

	type frame struct {
		node string
		next int
		best int
	}

	for _, start := range g.nodes {
		if state[start] == 2 {
			continue
		}
		stack := []frame{{node: start, best: -1}}
		state[start] = 1
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			deps := g.adj[f.node]
			advanced := false
			for f.next < len(deps) {
				dep := deps[f.next]
				f.next++
				if !g.known(dep) {
					// Unknown dependency counts as depth 0.
					if f.best < 0 {
						f.best = 0
					}
					continue
				}
				switch state[dep] {
				case 2:
					if memo[dep] > f.best {
						f.best = memo[dep]
					}
				case 1:
					// Back edge; cycles are reported by Cycles, here the
					// contribution is pinned to 0 so computation terminates.
					if f.best < 0 {
						f.best = 0
					}
				default:
					state[dep] = 1
					stack = append(stack, frame{node: dep, best: -1})
					advanced = true
				}
				if advanced {
					break
				}
			}
			if advanced {
				continue
			}
			depth := 0
			if len(deps) > 0 {
				depth = f.best + 1
			}
			memo[f.node] = depth
			state[f.node] = 2
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := &stack[len(stack)-1]
				if depth > parent.best {
					parent.best = depth
				}
			}
		}
	}
	return memo
}

// Waves partitions item IDs by dependency depth. Every item in a wave could
// run in parallel; the wave count is the minimum number of sequential rounds.
func (g *Graph) Waves() [][]string {
	depths := g.Depths()
	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(depths) == 0 {
		return nil
	}
	waves := make([][]string, maxDepth+1)
	for _, id := range g.nodes {
		d := depths[id]
		waves[d] = append(waves[d], id)
	}
	for _, wave := range waves {
		sort.Strings(wave)
	}
	return waves
}

// Order returns a topological execution order, or nil when the graph has a
// cycle. Unknown dependencies are ignored for ordering purposes.
func (g *Graph) Order() []string {
	var edges []toposort.Edge
	for _, id := range g.nodes {
		hasKnownDep := false
		for _, dep := range g.adj[id] {
			if g.known(dep) {
				edges = append(edges, toposort.Edge{dep, id})
				hasKnownDep = true
			}
		}
		if !hasKnownDep {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil
	}
	order := make([]string, 0, len(g.nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order
}

// Validate runs the full structural check. Valid requires no cycles and no
// missing dependencies; depth and wave computation proceed regardless.
func (g *Graph) Validate() Report {
	cycles := g.Cycles()
	missing := g.Missing()
	report := Report{
		Valid:   len(cycles) == 0 && len(missing) == 0,
		Cycles:  cycles,
		Missing: missing,
		Depths:  g.Depths(),
		Waves:   g.Waves(),
	}
	if len(cycles) == 0 {
		report.Order = g.Order()
	}
	return report
}

// ReadySet lists items still in the intake stage whose dependencies are all
// done (or that have no dependencies), in intake arrival order.
func ReadySet(board *domain.Board) []string {
	done := make(map[string]bool, len(board.Phases[domain.StageDone]))
	for _, id := range board.Phases[domain.StageDone] {
		done[id] = true
	}
	var ready []string
	for _, id := range board.Phases[domain.StageIntake] {
		satisfied := true
		for _, dep := range board.DependencyGraph[id] {
			if !done[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// Pending lists the dependencies of id that are not yet done.
func Pending(board *domain.Board, id string) []string {
	done := make(map[string]bool, len(board.Phases[domain.StageDone]))
	for _, did := range board.Phases[domain.StageDone] {
		done[did] = true
	}
	var pending []string
	for _, dep := range board.DependencyGraph[id] {
		if !done[dep] {
			pending = append(pending, dep)
		}
	}
	return pending
}
