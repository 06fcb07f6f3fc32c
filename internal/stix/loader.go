// Package stix reads MITRE ATT&CK STIX bundles into an in-memory catalog.
package stix

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"attack-graph/internal/domain/models"
)

// bundleEnvelope is the top level bundle document
type bundleEnvelope struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Objects []json.RawMessage `json:"objects"`
}

// rawObject carries every attribute read from any object type
type rawObject struct {
	Type               models.STIXType            `json:"type"`
	ID                 string                     `json:"id"`
	Name               string                     `json:"name"`
	Description        string                     `json:"description"`
	ExternalReferences []models.ExternalReference `json:"external_references"`
	Revoked            bool                       `json:"revoked"`
	Deprecated         bool                       `json:"x_mitre_deprecated"`
	KillChainPhases    []models.KillChainPhase    `json:"kill_chain_phases"`
	Platforms          []string                   `json:"x_mitre_platforms"`
	IsSubtechnique     bool                       `json:"x_mitre_is_subtechnique"`
	ShortName          string                     `json:"x_mitre_shortname"`
	Aliases            []string                   `json:"aliases"`
	MITREAliases       []string                   `json:"x_mitre_aliases"`
	RelationshipType   string                     `json:"relationship_type"`
	SourceRef          string                     `json:"source_ref"`
	TargetRef          string                     `json:"target_ref"`
}

var (
	errNotBundle      = errors.New("document is not a STIX bundle")
	errMissingObjects = errors.New(`bundle has no "objects" array`)
	errMissingID      = errors.New(`object has no "id"`)
	errMissingType    = errors.New(`object has no "type"`)
	errMissingRefs    = errors.New("relationship needs relationship_type, source_ref and target_ref")
)

// LoadFile reads and indexes the bundle at path
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewParseError(path, -1, err)
	}
	defer f.Close()

	return load(f, path)
}

// Load reads and indexes a bundle. Any malformed input fails the whole load.
func Load(r io.Reader) (*Catalog, error) {
	return load(r, "<reader>")
}

func load(r io.Reader, source string) (*Catalog, error) {
	var bundle bundleEnvelope
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, models.NewParseError(source, -1, err)
	}
	if bundle.Type != string(models.STIXTypeBundle) {
		return nil, models.NewParseError(source, -1, fmt.Errorf("%w: type %q", errNotBundle, bundle.Type))
	}
	if bundle.Objects == nil {
		return nil, models.NewParseError(source, -1, errMissingObjects)
	}

	catalog := newCatalog(bundle.ID, len(bundle.Objects))
	for i, data := range bundle.Objects {
		obj, err := decodeObject(data)
		if err != nil {
			return nil, models.NewParseError(source, i, err)
		}
		catalog.add(obj)
	}

	return catalog, nil
}

func decodeObject(data json.RawMessage) (*models.STIXObject, error) {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	if raw.ID == "" {
		return nil, errMissingID
	}
	if raw.Type == "" {
		return nil, errMissingType
	}
	if prefix := models.TypeFromID(raw.ID); prefix != raw.Type {
		return nil, fmt.Errorf("id %q does not match type %q", raw.ID, raw.Type)
	}

	obj := &models.STIXObject{
		ID:                 raw.ID,
		Type:               raw.Type,
		Name:               raw.Name,
		Description:        raw.Description,
		ExternalReferences: raw.ExternalReferences,
		Revoked:            raw.Revoked,
		Deprecated:         raw.Deprecated,
	}

	switch raw.Type {
	case models.STIXTypeAttackPattern:
		obj.KillChainPhases = raw.KillChainPhases
		obj.Platforms = raw.Platforms
		obj.IsSubtechnique = raw.IsSubtechnique
	case models.STIXTypeTactic:
		obj.ShortName = raw.ShortName
	case models.STIXTypeIntrusionSet, models.STIXTypeCampaign:
		obj.Aliases = raw.Aliases
	case models.STIXTypeTool, models.STIXTypeMalware:
		obj.Aliases = raw.MITREAliases
		obj.Platforms = raw.Platforms
	case models.STIXTypeRelationship:
		if raw.RelationshipType == "" || raw.SourceRef == "" || raw.TargetRef == "" {
			return nil, errMissingRefs
		}
		obj.RelationshipType = raw.RelationshipType
		obj.SourceRef = raw.SourceRef
		obj.TargetRef = raw.TargetRef
	}

	return obj, nil
}
