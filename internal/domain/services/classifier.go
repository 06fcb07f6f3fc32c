package services

import "attack-graph/internal/domain/models"

type relationshipShape struct {
	relType string
	source  models.NodeLabel
	target  models.NodeLabel
}

// relationshipKinds maps (relationship_type, source label, target label) to
// the edge written for it. Anything else is skipped.
var relationshipKinds = map[relationshipShape]models.EdgeKind{
	{"uses", models.LabelGroup, models.LabelTechnique}:    models.EdgeUses,
	{"uses", models.LabelTool, models.LabelTechnique}:     models.EdgeUses,
	{"uses", models.LabelMalware, models.LabelTechnique}:  models.EdgeUses,
	{"uses", models.LabelCampaign, models.LabelTechnique}: models.EdgeUses,
	{"uses", models.LabelGroup, models.LabelTool}:         models.EdgeUses,
	{"uses", models.LabelGroup, models.LabelMalware}:      models.EdgeUses,

	{"mitigates", models.LabelMitigation, models.LabelTechnique}:      models.EdgeMitigates,
	{"subtechnique-of", models.LabelTechnique, models.LabelTechnique}: models.EdgeSubtechniqueOf,
	{"attributed-to", models.LabelCampaign, models.LabelGroup}:        models.EdgeAttributedTo,
}

// Classify returns the edge kind of a relationship between two resolved nodes
func Classify(rel *models.STIXObject, source, target models.NodeLabel) (models.EdgeKind, error) {
	kind, ok := relationshipKinds[relationshipShape{rel.RelationshipType, source, target}]
	if !ok {
		return "", &models.ClassificationError{
			RelationshipID:   rel.ID,
			RelationshipType: rel.RelationshipType,
			SourceType:       models.STIXTypeForLabel(source),
			TargetType:       models.STIXTypeForLabel(target),
			Reason:           models.SkipUnknownKind,
		}
	}
	return kind, nil
}
