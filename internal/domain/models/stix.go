package models

import "strings"

// STIX 2.x objects as published in the MITRE ATT&CK bundles.
// Only the fields the graph ingester consumes are modelled.

// STIXType represents the type of a STIX object
type STIXType string

const (
	STIXTypeAttackPattern  STIXType = "attack-pattern"
	STIXTypeTactic         STIXType = "x-mitre-tactic"
	STIXTypeIntrusionSet   STIXType = "intrusion-set"
	STIXTypeTool           STIXType = "tool"
	STIXTypeMalware        STIXType = "malware"
	STIXTypeCourseOfAction STIXType = "course-of-action"
	STIXTypeCampaign       STIXType = "campaign"
	STIXTypeRelationship   STIXType = "relationship"
	STIXTypeBundle         STIXType = "bundle"
)

// ExternalReference points at an identifier outside of STIX (e.g. an ATT&CK ID)
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// KillChainPhase names the tactic a technique belongs to
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

// STIXObject is one validated object of a bundle. Fields that only apply to
// some object types are left at their zero value for the others.
type STIXObject struct {
	ID          string
	Type        STIXType
	Name        string
	Description string

	ExternalReferences []ExternalReference
	Revoked            bool
	Deprecated         bool

	// attack-pattern
	KillChainPhases []KillChainPhase
	Platforms       []string
	IsSubtechnique  bool

	// x-mitre-tactic
	ShortName string

	// intrusion-set, campaign, tool, malware
	Aliases []string

	// relationship
	RelationshipType string
	SourceRef        string
	TargetRef        string
}

// Inactive reports whether the object is revoked or deprecated
func (o *STIXObject) Inactive() bool {
	return o.Revoked || o.Deprecated
}

// IsRelationship reports whether the object is a STIX relationship (SRO)
func (o *STIXObject) IsRelationship() bool {
	return o.Type == STIXTypeRelationship
}

// PhaseNames returns the kill-chain phase names in bundle order, without blanks
func (o *STIXObject) PhaseNames() []string {
	names := make([]string, 0, len(o.KillChainPhases))
	for _, p := range o.KillChainPhases {
		if p.PhaseName != "" {
			names = append(names, p.PhaseName)
		}
	}
	return names
}

// TypeFromID extracts the type prefix of a STIX identifier ("tool--<uuid>" -> "tool")
func TypeFromID(id string) STIXType {
	prefix, _, found := strings.Cut(id, "--")
	if !found {
		return ""
	}
	return STIXType(prefix)
}
