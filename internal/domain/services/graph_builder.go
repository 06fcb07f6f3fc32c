package services

import (
	"context"
	"errors"
	"time"

	"attack-graph/internal/domain/models"
	"attack-graph/internal/stix"
	"attack-graph/pkg/logger"
)

// GraphStore is the write side of the graph database. Every method is a
// blocking round trip; MergeNodes and MergeEdges run one transaction per call
// and return how many rows the store merged.
type GraphStore interface {
	EnsureConstraints(ctx context.Context, labels []models.NodeLabel) error
	MergeNodes(ctx context.Context, label models.NodeLabel, nodes []models.MITRENode) (int, error)
	MergeEdges(ctx context.Context, edges []models.Edge) (int, error)
}

// Phase names a step of the build
type Phase string

const (
	PhaseConstraints   Phase = "constraints"
	PhaseNodes         Phase = "nodes"
	PhaseRelationships Phase = "relationships"
	PhaseTactics       Phase = "tactics"
)

// Progress observes a build. Start is called once per phase with the number
// of items the phase walks, Advance once per item.
type Progress interface {
	Start(phase Phase, total int)
	Advance(n int)
	Done()
}

type noopProgress struct{}

func (noopProgress) Start(Phase, int) {}
func (noopProgress) Advance(int)      {}
func (noopProgress) Done()            {}

// DefaultBatchSize is the number of rows written per transaction
const DefaultBatchSize = 500

// GraphBuilder turns a STIX catalog into graph upserts
type GraphBuilder struct {
	store     GraphStore
	logger    *logger.Logger
	batchSize int
	progress  Progress
}

// BuilderOption configures a GraphBuilder
type BuilderOption func(*GraphBuilder)

// WithBatchSize sets the rows per transaction. Values below 1 are ignored.
func WithBatchSize(n int) BuilderOption {
	return func(b *GraphBuilder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithProgress attaches a progress observer
func WithProgress(p Progress) BuilderOption {
	return func(b *GraphBuilder) {
		if p != nil {
			b.progress = p
		}
	}
}

// NewGraphBuilder creates a new graph builder
func NewGraphBuilder(store GraphStore, log *logger.Logger, opts ...BuilderOption) *GraphBuilder {
	b := &GraphBuilder{
		store:     store,
		logger:    log.WithComponent("graph-builder"),
		batchSize: DefaultBatchSize,
		progress:  noopProgress{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// buildRun holds the state of one Build call
type buildRun struct {
	*GraphBuilder
	catalog *stix.Catalog
	stats   *models.IngestStats

	nodes      map[string]models.NodeRef // stix id -> node
	merged     map[models.NodeRef]struct{}
	tactics    map[string]models.NodeRef // shortname -> tactic node
	techniques map[models.NodeRef]*models.MITRETechnique
	techOrder  []models.NodeRef
	edges      map[models.Edge]struct{}
}

// Build writes the catalog into the store: constraints, then nodes, then
// explicit relationships, then derived tactic relationships. Recoverable
// problems are logged and counted. The first fatal error stops the build;
// the stats gathered so far are returned with it.
func (b *GraphBuilder) Build(ctx context.Context, catalog *stix.Catalog) (*models.IngestStats, error) {
	start := time.Now()

	run := &buildRun{
		GraphBuilder: b,
		catalog:      catalog,
		stats:        models.NewIngestStats(),
		nodes:        make(map[string]models.NodeRef),
		merged:       make(map[models.NodeRef]struct{}),
		tactics:      make(map[string]models.NodeRef),
		techniques:   make(map[models.NodeRef]*models.MITRETechnique),
		edges:        make(map[models.Edge]struct{}),
	}
	run.stats.Objects = catalog.Len()

	steps := []func(context.Context) error{
		run.createConstraints,
		run.mergeNodes,
		run.mergeRelationships,
		run.mergeTacticRelationships,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return run.finish(start), models.NewStoreError("build", err)
		}
		if err := step(ctx); err != nil {
			return run.finish(start), err
		}
	}

	stats := run.finish(start)
	b.logger.Info().
		Int("objects", stats.Objects).
		Int("nodes", stats.Nodes.TotalCreated()).
		Int("nodes_skipped", stats.Nodes.Skipped).
		Int("edges", stats.Relationships.TotalCreated()).
		Int("edges_skipped", stats.Relationships.TotalSkipped()).
		Dur("duration", stats.Duration).
		Msg("graph build completed")

	return stats, nil
}

func (r *buildRun) finish(start time.Time) *models.IngestStats {
	r.stats.Duration = time.Since(start)
	return r.stats
}

func (r *buildRun) createConstraints(ctx context.Context) error {
	r.progress.Start(PhaseConstraints, len(models.NodeLabels))
	defer r.progress.Done()

	if err := r.store.EnsureConstraints(ctx, models.NodeLabels); err != nil {
		return storeError("create constraints", err)
	}
	r.progress.Advance(len(models.NodeLabels))

	r.logger.Info().Int("labels", len(models.NodeLabels)).Msg("uniqueness constraints ensured")
	return nil
}

func (r *buildRun) mergeNodes(ctx context.Context) error {
	log := r.logger.WithPhase(string(PhaseNodes))

	total := 0
	for _, label := range models.NodeLabels {
		total += len(r.catalog.OfType(models.STIXTypeForLabel(label)))
	}
	r.progress.Start(PhaseNodes, total)
	defer r.progress.Done()

	stats := &r.stats.Nodes
	for _, label := range models.NodeLabels {
		batch := make([]models.MITRENode, 0, r.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if _, err := r.store.MergeNodes(ctx, label, batch); err != nil {
				return storeError("merge "+string(label)+" nodes", err)
			}
			batch = batch[:0]
			return nil
		}

		for _, obj := range r.catalog.OfType(models.STIXTypeForLabel(label)) {
			r.progress.Advance(1)

			if obj.Inactive() {
				stats.Filtered++
				log.Debug().Str("stix_id", obj.ID).Bool("revoked", obj.Revoked).Msg("skipping inactive object")
				continue
			}

			node, err := MapNode(obj)
			if err != nil {
				if models.IsFatal(err) {
					return err
				}
				stats.Skipped++
				log.Warn().Err(err).Str("stix_id", obj.ID).Str("name", obj.Name).Msg("skipping unmapped object")
				continue
			}

			r.index(node)
			batch = append(batch, node)
			if len(batch) >= r.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}

		log.Info().Str("label", string(label)).Int("merged", stats.Created[label]).Msg("nodes merged")
	}

	return nil
}

// index records a mapped node for endpoint resolution. A repeated mitre_id
// within a label is the same graph node; the later object wins.
func (r *buildRun) index(node models.MITRENode) {
	ref := node.Ref()
	r.nodes[node.STIXID()] = ref

	if _, dup := r.merged[ref]; dup {
		r.logger.Debug().Str("node", ref.String()).Str("stix_id", node.STIXID()).Msg("duplicate mitre_id, last object wins")
	} else {
		r.merged[ref] = struct{}{}
		r.stats.Nodes.Created[ref.Label]++
	}

	switch n := node.(type) {
	case *models.MITRETactic:
		if n.ShortName != "" {
			r.tactics[n.ShortName] = ref
		}
	case *models.MITRETechnique:
		if _, seen := r.techniques[ref]; !seen {
			r.techOrder = append(r.techOrder, ref)
		}
		r.techniques[ref] = n
	}
}

func (r *buildRun) mergeRelationships(ctx context.Context) error {
	log := r.logger.WithPhase(string(PhaseRelationships))
	rels := r.catalog.Relationships()

	r.progress.Start(PhaseRelationships, len(rels))
	defer r.progress.Done()

	stats := &r.stats.Relationships
	w := r.newEdgeWriter(ctx, "merge relationships")
	for _, rel := range rels {
		r.progress.Advance(1)

		if rel.Inactive() {
			stats.Filtered++
			log.Debug().Str("stix_id", rel.ID).Msg("skipping inactive relationship")
			continue
		}

		edge, err := r.resolveRelationship(rel)
		if err != nil {
			var classErr *models.ClassificationError
			if errors.As(err, &classErr) {
				stats.SkippedUnclassified++
			} else {
				stats.SkippedDangling++
			}
			log.Warn().Err(err).Str("stix_id", rel.ID).Str("relationship_type", rel.RelationshipType).Msg("skipping relationship")
			continue
		}

		if err := w.add(edge); err != nil {
			return err
		}
	}
	if err := w.flush(); err != nil {
		return err
	}

	log.Info().
		Int("merged", stats.TotalCreated()).
		Int("duplicates", stats.Duplicates).
		Int("dangling", stats.SkippedDangling).
		Int("unclassified", stats.SkippedUnclassified).
		Int("filtered", stats.Filtered).
		Msg("relationships merged")
	return nil
}

// resolveRelationship maps both endpoints to nodes of this run and classifies
// the relationship.
func (r *buildRun) resolveRelationship(rel *models.STIXObject) (models.Edge, error) {
	from, fromReason := r.resolve(rel.SourceRef)
	to, toReason := r.resolve(rel.TargetRef)

	if fromReason == models.SkipUnsupportedType || toReason == models.SkipUnsupportedType {
		return models.Edge{}, &models.ClassificationError{
			RelationshipID:   rel.ID,
			RelationshipType: rel.RelationshipType,
			SourceType:       models.TypeFromID(rel.SourceRef),
			TargetType:       models.TypeFromID(rel.TargetRef),
			Reason:           models.SkipUnsupportedType,
		}
	}
	if fromReason != "" {
		return models.Edge{}, &models.ReferenceError{RelationshipID: rel.ID, Ref: rel.SourceRef, Reason: fromReason}
	}
	if toReason != "" {
		return models.Edge{}, &models.ReferenceError{RelationshipID: rel.ID, Ref: rel.TargetRef, Reason: toReason}
	}

	kind, err := Classify(rel, from.Label, to.Label)
	if err != nil {
		return models.Edge{}, err
	}
	return models.Edge{Kind: kind, From: from, To: to}, nil
}

// resolve looks up the node built for a STIX id. When there is none, the
// reason says why.
func (r *buildRun) resolve(stixID string) (models.NodeRef, models.SkipReason) {
	if ref, ok := r.nodes[stixID]; ok {
		return ref, ""
	}

	obj, ok := r.catalog.Get(stixID)
	switch {
	case !ok:
		if _, known := models.LabelForSTIXType[models.TypeFromID(stixID)]; !known {
			return models.NodeRef{}, models.SkipUnsupportedType
		}
		return models.NodeRef{}, models.SkipMissingRef
	case !isNodeType(obj.Type):
		return models.NodeRef{}, models.SkipUnsupportedType
	case obj.Inactive():
		return models.NodeRef{}, models.SkipInactiveRef
	default:
		return models.NodeRef{}, models.SkipUnmappedRef
	}
}

func isNodeType(t models.STIXType) bool {
	_, ok := models.LabelForSTIXType[t]
	return ok
}

func (r *buildRun) mergeTacticRelationships(ctx context.Context) error {
	log := r.logger.WithPhase(string(PhaseTactics))

	r.progress.Start(PhaseTactics, len(r.techOrder))
	defer r.progress.Done()

	stats := &r.stats.Relationships
	w := r.newEdgeWriter(ctx, "merge tactic relationships")
	for _, ref := range r.techOrder {
		r.progress.Advance(1)
		technique := r.techniques[ref]

		for _, phase := range technique.Tactics {
			tactic, ok := r.tactics[phase]
			if !ok {
				stats.DerivedSkipped++
				err := &models.ReferenceError{RelationshipID: technique.StixID, Ref: phase, Reason: models.SkipUnknownTactic}
				log.Warn().Err(err).Str("technique", technique.ID).Msg("skipping kill-chain phase")
				continue
			}

			edge := models.Edge{Kind: models.EdgeRequiresTactic, From: ref, To: tactic}
			if err := w.add(edge); err != nil {
				return err
			}
		}
	}
	if err := w.flush(); err != nil {
		return err
	}

	stats.DerivedCreated = stats.Created[models.EdgeRequiresTactic]
	log.Info().
		Int("merged", stats.DerivedCreated).
		Int("skipped", stats.DerivedSkipped).
		Msg("tactic relationships merged")
	return nil
}

// edgeWriter batches edges of one phase. Each flush is its own transaction,
// so no transaction ever spans two phases.
type edgeWriter struct {
	run   *buildRun
	ctx   context.Context
	op    string
	batch []models.Edge
}

func (r *buildRun) newEdgeWriter(ctx context.Context, op string) *edgeWriter {
	return &edgeWriter{run: r, ctx: ctx, op: op, batch: make([]models.Edge, 0, r.batchSize)}
}

func (w *edgeWriter) add(edge models.Edge) error {
	stats := &w.run.stats.Relationships
	if _, dup := w.run.edges[edge]; dup {
		stats.Duplicates++
		w.run.logger.Debug().Str("edge", edge.String()).Msg("duplicate edge")
		return nil
	}
	w.run.edges[edge] = struct{}{}

	w.batch = append(w.batch, edge)
	if len(w.batch) >= w.run.batchSize {
		return w.flush()
	}
	return nil
}

func (w *edgeWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}

	merged, err := w.run.store.MergeEdges(w.ctx, w.batch)
	if err != nil {
		return storeError(w.op, err)
	}
	if merged != len(w.batch) {
		w.run.logger.Warn().Int("sent", len(w.batch)).Int("merged", merged).Msg("store merged fewer edges than sent")
	}

	for _, edge := range w.batch {
		w.run.stats.Relationships.Created[edge.Kind]++
	}
	w.batch = w.batch[:0]
	return nil
}

// storeError keeps an existing StoreError and wraps anything else
func storeError(op string, err error) error {
	var se *models.StoreError
	if errors.As(err, &se) {
		return err
	}
	return models.NewStoreError(op, err)
}
