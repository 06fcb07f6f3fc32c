package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"attack-graph/internal/domain/models"
	"attack-graph/pkg/logger"
)

// GraphRepository writes the ATT&CK graph to Neo4j
type GraphRepository struct {
	client *Neo4jClient
	logger *logger.Logger
}

// NewGraphRepository creates a new graph repository
func NewGraphRepository(client *Neo4jClient, log *logger.Logger) *GraphRepository {
	return &GraphRepository{
		client: client,
		logger: log.WithComponent("graph-repo"),
	}
}

// EnsureConstraints creates the mitre_id uniqueness constraint of every label.
// Existing constraints are left alone.
func (r *GraphRepository) EnsureConstraints(ctx context.Context, labels []models.NodeLabel) error {
	statements := make([]string, 0, len(labels))
	for _, label := range labels {
		statements = append(statements, models.CypherCreateConstraint(label))
	}

	if err := r.client.RunSchema(ctx, statements...); err != nil {
		return models.NewStoreError("create constraints", err)
	}
	return nil
}

// MergeNodes upserts a batch of nodes of one label in a single transaction
func (r *GraphRepository) MergeNodes(ctx context.Context, label models.NodeLabel, nodes []models.MITRENode) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}

	batch, err := nodeRows(label, nodes)
	if err != nil {
		return 0, models.NewStoreError("merge "+string(label)+" nodes", err)
	}
	cypher := models.CypherMergeNodes(label)

	result, err := r.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, map[string]interface{}{"batch": batch})
		if err != nil {
			return 0, err
		}
		return singleCount(ctx, res, "merged")
	})
	if err != nil {
		return 0, models.NewStoreError("merge "+string(label)+" nodes", err)
	}

	merged := result.(int)
	r.logger.Debug().Str("label", string(label)).Int("sent", len(batch)).Int("merged", merged).Msg("node batch merged")
	return merged, nil
}

// MergeEdges upserts a batch of edges in a single transaction. Edges are
// grouped by (from label, kind, to label) since none of the three can be a
// query parameter; each group is one UNWIND statement.
func (r *GraphRepository) MergeEdges(ctx context.Context, edges []models.Edge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	groups := groupEdges(edges)

	result, err := r.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		total := 0
		for _, g := range groups {
			res, err := tx.Run(ctx, g.cypher(), map[string]interface{}{"batch": g.rows})
			if err != nil {
				return 0, err
			}
			merged, err := singleCount(ctx, res, "merged")
			if err != nil {
				return 0, err
			}
			total += merged
		}
		return total, nil
	})
	if err != nil {
		return 0, models.NewStoreError("merge edges", err)
	}

	merged := result.(int)
	r.logger.Debug().Int("groups", len(groups)).Int("sent", len(edges)).Int("merged", merged).Msg("edge batch merged")
	return merged, nil
}

// GraphTotals counts the nodes of every label and the edges of every kind
// currently in the database.
func (r *GraphRepository) GraphTotals(ctx context.Context) (map[string]int64, error) {
	queries := make(map[string]string, len(models.NodeLabels)+len(models.EdgeKinds))
	for _, label := range models.NodeLabels {
		queries[string(label)] = models.CypherCountNodes(label)
	}
	for _, kind := range models.EdgeKinds {
		queries[string(kind)] = models.CypherCountEdges(kind)
	}

	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		totals := make(map[string]int64, len(queries))
		for key, cypher := range queries {
			res, err := tx.Run(ctx, cypher, nil)
			if err != nil {
				return nil, err
			}
			count, err := singleCount(ctx, res, "count")
			if err != nil {
				return nil, err
			}
			totals[key] = int64(count)
		}
		return totals, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count graph: %w", err)
	}

	return result.(map[string]int64), nil
}

// nodeRows builds the UNWIND rows of a node batch
func nodeRows(label models.NodeLabel, nodes []models.MITRENode) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		ref := n.Ref()
		if ref.Label != label {
			return nil, fmt.Errorf("node %s in %s batch", ref, label)
		}
		if ref.MITREID == "" {
			return nil, fmt.Errorf("node %s has no mitre_id", n.STIXID())
		}
		props := n.Properties()
		props["mitre_id"] = ref.MITREID
		rows = append(rows, props)
	}
	return rows, nil
}

// edgeGroup is the set of edges sharing one Cypher statement
type edgeGroup struct {
	from models.NodeLabel
	kind models.EdgeKind
	to   models.NodeLabel
	rows []map[string]interface{}
}

func (g *edgeGroup) cypher() string {
	return models.CypherMergeEdges(g.from, g.kind, g.to)
}

// groupEdges splits edges by shape, keeping first-seen order of the groups
func groupEdges(edges []models.Edge) []*edgeGroup {
	type shape struct {
		from models.NodeLabel
		kind models.EdgeKind
		to   models.NodeLabel
	}

	index := make(map[shape]*edgeGroup)
	var groups []*edgeGroup
	for _, e := range edges {
		key := shape{e.From.Label, e.Kind, e.To.Label}
		g, ok := index[key]
		if !ok {
			g = &edgeGroup{from: e.From.Label, kind: e.Kind, to: e.To.Label}
			index[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, map[string]interface{}{
			"source": e.From.MITREID,
			"target": e.To.MITREID,
		})
	}
	return groups
}

// singleCount reads an integer column of the single row an aggregate returns
func singleCount(ctx context.Context, res neo4j.ResultWithContext, key string) (int, error) {
	record, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	value, ok := record.Get(key)
	if !ok {
		return 0, fmt.Errorf("result has no %q column", key)
	}
	count, ok := value.(int64)
	if !ok {
		return 0, fmt.Errorf("column %q is %T, not an integer", key, value)
	}
	return int(count), nil
}
