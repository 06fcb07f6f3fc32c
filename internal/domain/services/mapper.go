package services

import "attack-graph/internal/domain/models"

// MITRESourceNames are the external reference sources that carry ATT&CK IDs
var MITRESourceNames = []string{
	"mitre-attack",
	"mitre-mobile-attack",
	"mitre-ics-attack",
}

func isMITRESource(name string) bool {
	for _, s := range MITRESourceNames {
		if s == name {
			return true
		}
	}
	return false
}

// ExtractMITREID returns the external_id (and url) of the first ATT&CK
// external reference. Later references with the same source are ignored.
func ExtractMITREID(obj *models.STIXObject) (id string, url string, err error) {
	for _, ref := range obj.ExternalReferences {
		if isMITRESource(ref.SourceName) && ref.ExternalID != "" {
			return ref.ExternalID, ref.URL, nil
		}
	}
	return "", "", &models.MappingError{StixID: obj.ID, Type: obj.Type, Reason: models.SkipNoMITREID}
}

// MapNode converts a STIX object to its domain node
func MapNode(obj *models.STIXObject) (models.MITRENode, error) {
	label, ok := models.LabelForSTIXType[obj.Type]
	if !ok {
		return nil, &models.ClassificationError{
			RelationshipID: obj.ID,
			SourceType:     obj.Type,
			Reason:         models.SkipUnsupportedType,
		}
	}

	mitreID, url, err := ExtractMITREID(obj)
	if err != nil {
		return nil, err
	}

	base := models.MITREBase{
		ID:          mitreID,
		StixID:      obj.ID,
		Name:        obj.Name,
		Description: obj.Description,
		URL:         url,
	}

	switch label {
	case models.LabelTechnique:
		return mapTechnique(base, obj), nil
	case models.LabelTactic:
		return &models.MITRETactic{
			MITREBase:      base,
			ShortName:      obj.ShortName,
			KillChainOrder: models.TacticOrder(obj.ShortName),
		}, nil
	case models.LabelMitigation:
		return &models.MITREMitigation{MITREBase: base}, nil
	default:
		return &models.MITREEntity{
			MITREBase: base,
			Label:     label,
			Aliases:   obj.Aliases,
		}, nil
	}
}

func mapTechnique(base models.MITREBase, obj *models.STIXObject) *models.MITRETechnique {
	tactics := obj.PhaseNames()
	orders := make([]int, 0, len(tactics))
	minOrder := models.UnknownTacticOrder
	for _, phase := range tactics {
		order := models.TacticOrder(phase)
		orders = append(orders, order)
		if order < minOrder {
			minOrder = order
		}
	}

	return &models.MITRETechnique{
		MITREBase:      base,
		IsSubTechnique: obj.IsSubtechnique,
		Platforms:      obj.Platforms,
		Tactics:        tactics,
		TacticOrders:   orders,
		MinTacticOrder: minOrder,
	}
}
