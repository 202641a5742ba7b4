// Package graph implements the in-memory typed entity graph (G): a
// homogeneous entity store with complement-maintained edges, lookup
// indexes, and BFS lineage traversal.
//
// Graph performs no internal locking. The sole writer is the raft state
// machine's Apply loop, which holds the state machine's write lock for the
// duration of one command; callers reading concurrently hold its read lock.
package graph

import (
	"fmt"
	"sort"

	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/rerrors"
)

type adjacency struct {
	outgoing map[model.EdgeKind]map[string]struct{}
	incoming map[model.EdgeKind]map[string]struct{}
}

func newAdjacency() *adjacency {
	return &adjacency{
		outgoing: make(map[model.EdgeKind]map[string]struct{}),
		incoming: make(map[model.EdgeKind]map[string]struct{}),
	}
}

func (a *adjacency) addOut(kind model.EdgeKind, to string) {
	if a.outgoing[kind] == nil {
		a.outgoing[kind] = make(map[string]struct{})
	}
	a.outgoing[kind][to] = struct{}{}
}

func (a *adjacency) addIn(kind model.EdgeKind, from string) {
	if a.incoming[kind] == nil {
		a.incoming[kind] = make(map[string]struct{})
	}
	a.incoming[kind][from] = struct{}{}
}

func (a *adjacency) removeOut(kind model.EdgeKind, to string) {
	delete(a.outgoing[kind], to)
}

func (a *adjacency) removeIn(kind model.EdgeKind, from string) {
	delete(a.incoming[kind], from)
}

// allowedEdges encodes the valid (from.Kind, EdgeKind, to.Kind) triples.
// Only the "forward" half of each complementary pair is listed; the
// complement is always valid once the forward edge is. Anchor--Consumes-->
// Source is a deliberate extension alongside Anchor--Contains-->
// AnchorFeature: an anchor also references the source it reads from, and
// that reference is itself a Consumes edge like any other upstream
// dependency.
var allowedEdges = map[model.Kind]map[model.EdgeKind][]model.Kind{
	model.KindProject: {
		model.EdgeContains: {model.KindSource, model.KindAnchor, model.KindDerivedFeature},
	},
	model.KindAnchor: {
		model.EdgeContains: {model.KindAnchorFeature},
		model.EdgeConsumes: {model.KindSource},
	},
	model.KindDerivedFeature: {
		model.EdgeConsumes: {model.KindAnchorFeature, model.KindDerivedFeature},
	},
}

// Graph is the entity-and-relationship store.
type Graph struct {
	byID     map[string]*model.Entity
	byQName  map[string]string // qualifiedName -> id
	adj      map[string]*adjacency
	projKind map[string]map[model.Kind]map[string]struct{} // projectID -> kind -> ids
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		byID:     make(map[string]*model.Entity),
		byQName:  make(map[string]string),
		adj:      make(map[string]*adjacency),
		projKind: make(map[string]map[model.Kind]map[string]struct{}),
	}
}

// InsertEntity adds e to the graph, failing if its ID or qualified_name is
// already present.
func (g *Graph) InsertEntity(e *model.Entity) error {
	if _, exists := g.byID[e.ID]; exists {
		return rerrors.Conflictf("entity id %q already exists", e.ID)
	}
	if _, exists := g.byQName[e.QualifiedName]; exists {
		return rerrors.Conflictf("qualified name %q already exists", e.QualifiedName)
	}
	g.byID[e.ID] = e
	g.byQName[e.QualifiedName] = e.ID
	g.adj[e.ID] = newAdjacency()
	return nil
}

// projectOf resolves the owning project ID for id by walking BelongsTo
// edges: one hop for direct children of a project, two hops for an
// AnchorFeature (AnchorFeature -> Anchor -> Project).
func (g *Graph) projectOf(id string) string {
	e, ok := g.byID[id]
	if !ok {
		return ""
	}
	if e.Kind == model.KindProject {
		return e.ID
	}
	a := g.adj[id]
	if a == nil {
		return ""
	}
	for parent := range a.outgoing[model.EdgeBelongsTo] {
		if pe, ok := g.byID[parent]; ok {
			if pe.Kind == model.KindProject {
				return pe.ID
			}
			return g.projectOf(parent)
		}
	}
	return ""
}

func (g *Graph) indexProjectKind(projectID string, kind model.Kind, id string) {
	if projectID == "" {
		return
	}
	if g.projKind[projectID] == nil {
		g.projKind[projectID] = make(map[model.Kind]map[string]struct{})
	}
	if g.projKind[projectID][kind] == nil {
		g.projKind[projectID][kind] = make(map[string]struct{})
	}
	g.projKind[projectID][kind][id] = struct{}{}
}

func (g *Graph) unindexProjectKind(projectID string, kind model.Kind, id string) {
	if projectID == "" || g.projKind[projectID] == nil {
		return
	}
	delete(g.projKind[projectID][kind], id)
}

// InsertEdge records kind(from,to) and its complement, validating endpoint
// kinds (invariant 4) and, for Consumes, acyclicity (invariant 5).
func (g *Graph) InsertEdge(from, to string, kind model.EdgeKind) error {
	fe, ok := g.byID[from]
	if !ok {
		return rerrors.NotFoundf("entity %q not found", from)
	}
	te, ok := g.byID[to]
	if !ok {
		return rerrors.NotFoundf("entity %q not found", to)
	}

	if !g.isAllowed(fe.Kind, kind, te.Kind) {
		return rerrors.BadRequestf("invalid edge %s: %s -%s-> %s", kind, fe.Kind, kind, te.Kind)
	}

	if kind == model.EdgeConsumes {
		if g.reaches(to, from) {
			return rerrors.BadRequestf("edge %s -Consumes-> %s would form a cycle", from, to)
		}
	}

	g.addEdgePair(from, to, kind)

	if kind == model.EdgeContains {
		g.indexProjectKind(g.projectOf(from), te.Kind, te.ID)
	}
	return nil
}

func (g *Graph) isAllowed(fromKind model.Kind, kind model.EdgeKind, toKind model.Kind) bool {
	byKind, ok := allowedEdges[fromKind]
	if !ok {
		return false
	}
	targets, ok := byKind[kind]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == toKind {
			return true
		}
	}
	return false
}

func (g *Graph) addEdgePair(from, to string, kind model.EdgeKind) {
	g.adj[from].addOut(kind, to)
	g.adj[to].addIn(kind, from)

	comp := kind.Complement()
	g.adj[to].addOut(comp, from)
	g.adj[from].addIn(comp, to)
}

func (g *Graph) removeEdgePair(from, to string, kind model.EdgeKind) {
	g.adj[from].removeOut(kind, to)
	g.adj[to].removeIn(kind, from)

	comp := kind.Complement()
	g.adj[to].removeOut(comp, from)
	g.adj[from].removeIn(comp, to)
}

// reaches reports whether target is reachable from 'from' by following Consumes
// edges (used to detect the cycle that inserting Consumes(from,to) — i.e.
// checking reachability from the prospective producer back to the prospective
// consumer — would create).
func (g *Graph) reaches(from, target string) bool {
	if from == target {
		return true
	}
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		a := g.adj[cur]
		if a == nil {
			continue
		}
		for next := range a.outgoing[model.EdgeConsumes] {
			if next == target {
				return true
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// DeleteEntity removes id, failing DeleteInUse-style BadRequest if anything
// still Consumes it or it still Contains anything.
func (g *Graph) DeleteEntity(id string) error {
	e, ok := g.byID[id]
	if !ok {
		return rerrors.NotFoundf("entity %q not found", id)
	}
	a := g.adj[id]
	if len(a.incoming[model.EdgeConsumes]) > 0 {
		return rerrors.BadRequestf("entity %q is still consumed by %d entities", id, len(a.incoming[model.EdgeConsumes]))
	}
	if len(a.outgoing[model.EdgeContains]) > 0 {
		return rerrors.BadRequestf("entity %q still contains %d entities", id, len(a.outgoing[model.EdgeContains]))
	}

	projectID := g.projectOf(id)

	for parent := range a.outgoing[model.EdgeBelongsTo] {
		g.removeEdgePair(id, parent, model.EdgeBelongsTo)
	}
	for producer := range a.outgoing[model.EdgeConsumes] {
		g.removeEdgePair(id, producer, model.EdgeConsumes)
	}

	g.unindexProjectKind(projectID, e.Kind, id)
	delete(g.byID, id)
	delete(g.byQName, e.QualifiedName)
	delete(g.adj, id)
	return nil
}

// Get returns the entity with the given ID.
func (g *Graph) Get(id string) (*model.Entity, error) {
	e, ok := g.byID[id]
	if !ok {
		return nil, rerrors.NotFoundf("entity %q not found", id)
	}
	return e, nil
}

// GetByQualifiedName returns the entity with the given qualified name.
func (g *Graph) GetByQualifiedName(name string) (*model.Entity, error) {
	id, ok := g.byQName[name]
	if !ok {
		return nil, rerrors.NotFoundf("qualified name %q not found", name)
	}
	return g.byID[id], nil
}

// Children returns the Contains-children of id, optionally filtered by kind.
func (g *Graph) Children(id string, kindFilter model.Kind) ([]*model.Entity, error) {
	a, ok := g.adj[id]
	if !ok {
		return nil, rerrors.NotFoundf("entity %q not found", id)
	}
	var out []*model.Entity
	for childID := range a.outgoing[model.EdgeContains] {
		c := g.byID[childID]
		if c == nil {
			continue
		}
		if kindFilter != "" && c.Kind != kindFilter {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out, nil
}

// Neighbors returns the IDs at the other end of id's edges of the given kind.
func (g *Graph) Neighbors(id string, kind model.EdgeKind) ([]string, error) {
	a, ok := g.adj[id]
	if !ok {
		return nil, rerrors.NotFoundf("entity %q not found", id)
	}
	var out []string
	for n := range a.outgoing[kind] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// ProjectEntities returns every entity transitively contained in projectID,
// across all kinds, read from the project-kind index without a graph walk.
func (g *Graph) ProjectEntities(projectID string) []*model.Entity {
	kinds := g.projKind[projectID]
	var out []*model.Entity
	for _, ids := range kinds {
		for id := range ids {
			if e, ok := g.byID[id]; ok {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// Direction selects which edge kind lineage traversal follows.
type Direction string

const (
	DirUpstream   Direction = "upstream"   // follow Consumes
	DirDownstream Direction = "downstream" // follow Produces
	DirBoth       Direction = "both"
)

// Lineage is the reachable subgraph returned by lineage traversal.
type Lineage struct {
	Entities []*model.Entity
	Edges    []model.Edge
}

// Lineage performs a BFS traversal from id following the edge kinds implied
// by dir, bounded by depthLimit (0 = unlimited), with a visited set keyed by
// ID guaranteeing termination regardless of graph shape.
func (g *Graph) Lineage(id string, dir Direction, depthLimit int) (*Lineage, error) {
	root, ok := g.byID[id]
	if !ok {
		return nil, rerrors.NotFoundf("entity %q not found", id)
	}

	var kinds []model.EdgeKind
	switch dir {
	case DirUpstream:
		kinds = []model.EdgeKind{model.EdgeConsumes}
	case DirDownstream:
		kinds = []model.EdgeKind{model.EdgeProduces}
	case DirBoth, "":
		kinds = []model.EdgeKind{model.EdgeConsumes, model.EdgeProduces}
	default:
		return nil, rerrors.BadRequestf("invalid lineage direction %q", dir)
	}

	visited := map[string]struct{}{id: {}}
	type queued struct {
		id    string
		depth int
	}
	queue := []queued{{id: id, depth: 0}}
	nodeSet := map[string]*model.Entity{id: root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depthLimit > 0 && cur.depth >= depthLimit {
			continue
		}
		a := g.adj[cur.id]
		if a == nil {
			continue
		}
		for _, k := range kinds {
			for next := range a.outgoing[k] {
				if _, seen := visited[next]; seen {
					continue
				}
				visited[next] = struct{}{}
				if e, ok := g.byID[next]; ok {
					nodeSet[next] = e
				}
				queue = append(queue, queued{id: next, depth: cur.depth + 1})
			}
		}
	}

	var entities []*model.Entity
	for _, e := range nodeSet {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].QualifiedName < entities[j].QualifiedName })

	var edges []model.Edge
	for nid := range nodeSet {
		a := g.adj[nid]
		if a == nil {
			continue
		}
		for k, targets := range a.outgoing {
			for t := range targets {
				if _, ok := nodeSet[t]; ok {
					edges = append(edges, model.Edge{From: nid, To: t, Kind: k})
				}
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		return edges[i].To < edges[j].To
	})

	return &Lineage{Entities: entities, Edges: edges}, nil
}

// ProjectLineage returns every entity/edge transitively Contain-reachable
// from a project, used by GET /projects/{id}/lineage.
func (g *Graph) ProjectLineage(projectID string) (*Lineage, error) {
	root, ok := g.byID[projectID]
	if !ok {
		return nil, rerrors.NotFoundf("entity %q not found", projectID)
	}
	visited := map[string]struct{}{projectID: {}}
	queue := []string{projectID}
	nodeSet := map[string]*model.Entity{projectID: root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		a := g.adj[cur]
		if a == nil {
			continue
		}
		for next := range a.outgoing[model.EdgeContains] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			if e, ok := g.byID[next]; ok {
				nodeSet[next] = e
			}
			queue = append(queue, next)
		}
	}

	var entities []*model.Entity
	for _, e := range nodeSet {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].QualifiedName < entities[j].QualifiedName })

	var edges []model.Edge
	for nid := range nodeSet {
		a := g.adj[nid]
		if a == nil {
			continue
		}
		for _, k := range []model.EdgeKind{model.EdgeContains, model.EdgeBelongsTo} {
			for t := range a.outgoing[k] {
				if _, ok := nodeSet[t]; ok {
					edges = append(edges, model.Edge{From: nid, To: t, Kind: k})
				}
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		return edges[i].To < edges[j].To
	})

	return &Lineage{Entities: entities, Edges: edges}, nil
}

// All returns every entity in the graph, used by snapshot serialization.
func (g *Graph) All() []*model.Entity {
	out := make([]*model.Entity, 0, len(g.byID))
	for _, e := range g.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllEdges returns every distinct forward edge in the graph (complements
// excluded — they are regenerated on Restore via RestoreEdge), used by
// snapshot serialization.
func (g *Graph) AllEdges() []model.Edge {
	var out []model.Edge
	for from, a := range g.adj {
		for _, k := range []model.EdgeKind{model.EdgeContains, model.EdgeConsumes} {
			for to := range a.outgoing[k] {
				out = append(out, model.Edge{From: from, To: to, Kind: k})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].To < out[j].To
	})
	return out
}

// Reset discards all state, used by Restore before replaying a snapshot.
func (g *Graph) Reset() {
	g.byID = make(map[string]*model.Entity)
	g.byQName = make(map[string]string)
	g.adj = make(map[string]*adjacency)
	g.projKind = make(map[string]map[model.Kind]map[string]struct{})
}

// RestoreEntity inserts e during snapshot restore without re-validating
// qualified-name collisions against an already-flushed graph (callers are
// expected to Reset first).
func (g *Graph) RestoreEntity(e *model.Entity) {
	g.byID[e.ID] = e
	g.byQName[e.QualifiedName] = e.ID
	g.adj[e.ID] = newAdjacency()
}

// RestoreEdge re-adds a forward edge (and its complement) during snapshot
// restore, re-deriving the project-kind index along the way. The index entry
// for a Contains edge is only recorded if the source's own project is
// already resolvable, so a project's edges must be restored before those of
// its anchors.
func (g *Graph) RestoreEdge(from, to string, kind model.EdgeKind) error {
	if _, ok := g.byID[from]; !ok {
		return fmt.Errorf("restore: unknown entity %q", from)
	}
	if _, ok := g.byID[to]; !ok {
		return fmt.Errorf("restore: unknown entity %q", to)
	}
	g.addEdgePair(from, to, kind)
	if kind == model.EdgeContains {
		if te, ok := g.byID[to]; ok {
			g.indexProjectKind(g.projectOf(from), te.Kind, te.ID)
		}
	}
	return nil
}
