package models

// MITRE ATT&CK domain nodes as materialized in the graph

// MITRENode is a domain node that can be merged by (label, mitre_id)
type MITRENode interface {
	Ref() NodeRef
	STIXID() string
	// Properties returns every attribute written on merge, mitre_id included
	Properties() map[string]any
}

// NodeRef identifies a node in the graph
type NodeRef struct {
	Label   NodeLabel
	MITREID string
}

func (r NodeRef) String() string {
	return string(r.Label) + ":" + r.MITREID
}

// MITREBase holds the attributes shared by every ATT&CK node
type MITREBase struct {
	ID          string // e.g., T1059, TA0001, G0016
	StixID      string // e.g., attack-pattern--<uuid>
	Name        string
	Description string
	URL         string
}

func (b MITREBase) STIXID() string { return b.StixID }

func (b MITREBase) properties() map[string]any {
	return map[string]any{
		"mitre_id":    b.ID,
		"stix_id":     b.StixID,
		"name":        b.Name,
		"description": b.Description,
		"url":         b.URL,
	}
}

// MITRETechnique represents a technique or sub-technique
type MITRETechnique struct {
	MITREBase
	IsSubTechnique bool
	Platforms      []string
	Tactics        []string // kill-chain phase names
	TacticOrders   []int
	MinTacticOrder int
}

func (t *MITRETechnique) Ref() NodeRef { return NodeRef{Label: LabelTechnique, MITREID: t.ID} }

func (t *MITRETechnique) Properties() map[string]any {
	props := t.properties()
	props["is_subtechnique"] = t.IsSubTechnique
	props["platforms"] = nonNil(t.Platforms)
	props["tactics"] = nonNil(t.Tactics)
	props["tactic_orders"] = nonNilInts(t.TacticOrders)
	props["min_tactic_order"] = int64(t.MinTacticOrder)
	return props
}

// MITRETactic represents a tactic (kill-chain phase)
type MITRETactic struct {
	MITREBase
	ShortName      string // e.g., initial-access
	KillChainOrder int
}

func (t *MITRETactic) Ref() NodeRef { return NodeRef{Label: LabelTactic, MITREID: t.ID} }

func (t *MITRETactic) Properties() map[string]any {
	props := t.properties()
	props["shortname"] = t.ShortName
	props["kill_chain_order"] = int64(t.KillChainOrder)
	return props
}

// MITREEntity represents groups, software (tools and malware) and campaigns.
// They share the same attribute set and differ only by label.
type MITREEntity struct {
	MITREBase
	Label   NodeLabel
	Aliases []string
}

func (e *MITREEntity) Ref() NodeRef { return NodeRef{Label: e.Label, MITREID: e.ID} }

func (e *MITREEntity) Properties() map[string]any {
	props := e.properties()
	props["aliases"] = nonNil(e.Aliases)
	return props
}

// MITREMitigation represents a course of action
type MITREMitigation struct {
	MITREBase
}

func (m *MITREMitigation) Ref() NodeRef { return NodeRef{Label: LabelMitigation, MITREID: m.ID} }

func (m *MITREMitigation) Properties() map[string]any {
	return m.properties()
}

// UnknownTacticOrder is used for phases missing from TacticKillChainOrder
const UnknownTacticOrder = 999

// TacticKillChainOrder maps enterprise tactic shortnames to their lifecycle position
var TacticKillChainOrder = map[string]int{
	"reconnaissance":       1,
	"resource-development": 2,
	"initial-access":       3,
	"execution":            4,
	"persistence":          5,
	"privilege-escalation": 6,
	"defense-evasion":      7,
	"credential-access":    8,
	"discovery":            9,
	"lateral-movement":     10,
	"collection":           11,
	"command-and-control":  12,
	"exfiltration":         13,
	"impact":               14,
}

// TacticOrder returns the kill-chain position of a tactic shortname
func TacticOrder(shortname string) int {
	if order, ok := TacticKillChainOrder[shortname]; ok {
		return order
	}
	return UnknownTacticOrder
}

// A nil list would be sent as null, and SET with null removes the property
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int64 {
	out := make([]int64, len(s))
	for i, v := range s {
		out[i] = int64(v)
	}
	return out
}
