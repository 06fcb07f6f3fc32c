package services

import (
	"context"
	"errors"
	"fmt"

	"attack-graph/internal/domain/models"
)

// memStore is an in-memory GraphStore with the semantics of the Cypher the
// Neo4j repository runs: nodes MERGE by (label, mitre_id), edges MATCH both
// endpoints and MERGE by (from, kind, to).
type memStore struct {
	constraints map[models.NodeLabel]bool
	nodes       map[models.NodeRef]map[string]any
	edges       map[models.Edge]struct{}

	calls       []string
	nodeBatches []int
	edgeBatches []int
	unmatched   int

	failConstraints error
	failNodes       error
	failEdges       error
}

func newMemStore() *memStore {
	return &memStore{
		constraints: make(map[models.NodeLabel]bool),
		nodes:       make(map[models.NodeRef]map[string]any),
		edges:       make(map[models.Edge]struct{}),
	}
}

func (s *memStore) EnsureConstraints(_ context.Context, labels []models.NodeLabel) error {
	s.calls = append(s.calls, "constraints")
	if s.failConstraints != nil {
		return s.failConstraints
	}
	for _, l := range labels {
		s.constraints[l] = true
	}
	return nil
}

func (s *memStore) MergeNodes(_ context.Context, label models.NodeLabel, nodes []models.MITRENode) (int, error) {
	s.calls = append(s.calls, "nodes:"+string(label))
	if s.failNodes != nil {
		return 0, s.failNodes
	}
	if !s.constraints[label] {
		return 0, fmt.Errorf("no constraint for %s", label)
	}

	s.nodeBatches = append(s.nodeBatches, len(nodes))
	for _, n := range nodes {
		ref := n.Ref()
		if ref.Label != label {
			return 0, fmt.Errorf("node %s sent in %s batch", ref, label)
		}
		props := make(map[string]any)
		for k, v := range n.Properties() {
			props[k] = v
		}
		s.nodes[ref] = props
	}
	return len(nodes), nil
}

func (s *memStore) MergeEdges(_ context.Context, edges []models.Edge) (int, error) {
	s.calls = append(s.calls, "edges")
	if s.failEdges != nil {
		return 0, s.failEdges
	}

	s.edgeBatches = append(s.edgeBatches, len(edges))
	merged := 0
	for _, e := range edges {
		_, fromOK := s.nodes[e.From]
		_, toOK := s.nodes[e.To]
		if !fromOK || !toOK {
			s.unmatched++
			continue
		}
		s.edges[e] = struct{}{}
		merged++
	}
	return merged, nil
}

func (s *memStore) edgesOfKind(kind models.EdgeKind) []models.Edge {
	var out []models.Edge
	for e := range s.edges {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) hasEdge(kind models.EdgeKind, from, to models.NodeRef) bool {
	_, ok := s.edges[models.Edge{Kind: kind, From: from, To: to}]
	return ok
}

var errStoreDown = errors.New("connection refused")

// recordingProgress remembers the phases it was started with
type recordingProgress struct {
	phases   []Phase
	totals   []int
	advanced int
	done     int
}

func (p *recordingProgress) Start(phase Phase, total int) {
	p.phases = append(p.phases, phase)
	p.totals = append(p.totals, total)
}

func (p *recordingProgress) Advance(n int) { p.advanced += n }
func (p *recordingProgress) Done()         { p.done++ }

// STIX object helpers

func mitreRef(id string) []models.ExternalReference {
	return []models.ExternalReference{{SourceName: "mitre-attack", ExternalID: id}}
}

func techniqueObj(stixID, mitreID string, phases ...string) *models.STIXObject {
	obj := &models.STIXObject{
		ID:                 stixID,
		Type:               models.STIXTypeAttackPattern,
		Name:               "technique " + mitreID,
		ExternalReferences: mitreRef(mitreID),
	}
	for _, p := range phases {
		obj.KillChainPhases = append(obj.KillChainPhases, models.KillChainPhase{KillChainName: "mitre-attack", PhaseName: p})
	}
	return obj
}

func tacticObj(stixID, mitreID, shortname string) *models.STIXObject {
	return &models.STIXObject{
		ID:                 stixID,
		Type:               models.STIXTypeTactic,
		Name:               shortname,
		ShortName:          shortname,
		ExternalReferences: mitreRef(mitreID),
	}
}

func entityObj(t models.STIXType, stixID, mitreID string) *models.STIXObject {
	return &models.STIXObject{
		ID:                 stixID,
		Type:               t,
		Name:               "entity " + mitreID,
		ExternalReferences: mitreRef(mitreID),
	}
}

func relationshipObj(stixID, relType, source, target string) *models.STIXObject {
	return &models.STIXObject{
		ID:               stixID,
		Type:             models.STIXTypeRelationship,
		RelationshipType: relType,
		SourceRef:        source,
		TargetRef:        target,
	}
}

func ref(label models.NodeLabel, mitreID string) models.NodeRef {
	return models.NodeRef{Label: label, MITREID: mitreID}
}
