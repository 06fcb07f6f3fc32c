package models

import (
	"fmt"
	"strings"
)

// NodeLabel represents a node label in the ATT&CK graph
type NodeLabel string

const (
	LabelTechnique  NodeLabel = "Technique"
	LabelTactic     NodeLabel = "Tactic"
	LabelGroup      NodeLabel = "Group"
	LabelTool       NodeLabel = "Tool"
	LabelMalware    NodeLabel = "Malware"
	LabelMitigation NodeLabel = "Mitigation"
	LabelCampaign   NodeLabel = "Campaign"
)

// NodeLabels lists every label in node-phase order. Tactics come first so
// technique kill-chain phases can always be resolved.
var NodeLabels = []NodeLabel{
	LabelTactic,
	LabelTechnique,
	LabelGroup,
	LabelTool,
	LabelMalware,
	LabelMitigation,
	LabelCampaign,
}

// LabelForSTIXType maps the STIX object types that become nodes to their label
var LabelForSTIXType = map[STIXType]NodeLabel{
	STIXTypeAttackPattern:  LabelTechnique,
	STIXTypeTactic:         LabelTactic,
	STIXTypeIntrusionSet:   LabelGroup,
	STIXTypeTool:           LabelTool,
	STIXTypeMalware:        LabelMalware,
	STIXTypeCourseOfAction: LabelMitigation,
	STIXTypeCampaign:       LabelCampaign,
}

// STIXTypeForLabel is the inverse of LabelForSTIXType
func STIXTypeForLabel(label NodeLabel) STIXType {
	for t, l := range LabelForSTIXType {
		if l == label {
			return t
		}
	}
	return ""
}

// EdgeKind represents a relationship type in the ATT&CK graph
type EdgeKind string

const (
	EdgeUses           EdgeKind = "USES"
	EdgeMitigates      EdgeKind = "MITIGATES"
	EdgeSubtechniqueOf EdgeKind = "SUBTECHNIQUE_OF"
	EdgeRequiresTactic EdgeKind = "REQUIRES_TACTIC"
	EdgeAttributedTo   EdgeKind = "ATTRIBUTED_TO"
)

// EdgeKinds lists every relationship type written by the ingester
var EdgeKinds = []EdgeKind{
	EdgeUses,
	EdgeMitigates,
	EdgeSubtechniqueOf,
	EdgeRequiresTactic,
	EdgeAttributedTo,
}

// Edge is a directed, typed relationship between two nodes. Edges are
// identified by (From, To, Kind) and carry no properties.
type Edge struct {
	Kind EdgeKind
	From NodeRef
	To   NodeRef
}

func (e Edge) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", e.From, e.Kind, e.To)
}

// Neo4j Cypher query templates. Labels and relationship types cannot be
// parameterized, so they are formatted in from the constants above.
const (
	// Uniqueness of mitre_id per label
	cypherCreateConstraint = `CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.mitre_id IS UNIQUE`

	// Merge a batch of nodes by mitre_id, overwriting attributes
	cypherMergeNodes = `
		UNWIND $batch AS row
		MERGE (n:%s {mitre_id: row.mitre_id})
		SET n += row
		RETURN count(n) AS merged`

	// Merge a batch of edges between existing nodes. MATCH (not MERGE) on the
	// endpoints so a missing node never turns into a placeholder.
	cypherMergeEdges = `
		UNWIND $batch AS row
		MATCH (a:%s {mitre_id: row.source})
		MATCH (b:%s {mitre_id: row.target})
		MERGE (a)-[r:%s]->(b)
		RETURN count(r) AS merged`

	cypherCountNodes = `MATCH (n:%s) RETURN count(n) AS count`

	cypherCountEdges = `MATCH ()-[r:%s]->() RETURN count(r) AS count`
)

// ConstraintName returns the schema name of the mitre_id constraint for a label
func ConstraintName(label NodeLabel) string {
	return strings.ToLower(string(label)) + "_mitre_id_unique"
}

// CypherCreateConstraint returns the constraint statement for a label
func CypherCreateConstraint(label NodeLabel) string {
	return fmt.Sprintf(cypherCreateConstraint, ConstraintName(label), label)
}

// CypherMergeNodes returns the batched node upsert for a label
func CypherMergeNodes(label NodeLabel) string {
	return fmt.Sprintf(cypherMergeNodes, label)
}

// CypherMergeEdges returns the batched edge upsert for one (from, kind, to) shape
func CypherMergeEdges(from NodeLabel, kind EdgeKind, to NodeLabel) string {
	return fmt.Sprintf(cypherMergeEdges, from, to, kind)
}

// CypherCountNodes returns the node count query for a label
func CypherCountNodes(label NodeLabel) string {
	return fmt.Sprintf(cypherCountNodes, label)
}

// CypherCountEdges returns the relationship count query for a kind
func CypherCountEdges(kind EdgeKind) string {
	return fmt.Sprintf(cypherCountEdges, kind)
}
