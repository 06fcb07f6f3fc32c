package stix

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attack-graph/internal/domain/models"
)

func TestLoadFile(t *testing.T) {
	catalog, err := LoadFile("testdata/bundle.json")
	require.NoError(t, err)

	assert.Equal(t, "bundle--0f1a2b3c-0000-4000-8000-000000000001", catalog.BundleID())
	assert.Equal(t, 25, catalog.Len())

	counts := catalog.Counts()
	assert.Equal(t, 2, counts[models.STIXTypeTactic])
	assert.Equal(t, 5, counts[models.STIXTypeAttackPattern])
	assert.Equal(t, 1, counts[models.STIXTypeIntrusionSet])
	assert.Equal(t, 1, counts[models.STIXTypeTool])
	assert.Equal(t, 1, counts[models.STIXTypeMalware])
	assert.Equal(t, 1, counts[models.STIXTypeCourseOfAction])
	assert.Equal(t, 1, counts[models.STIXTypeCampaign])
	assert.Equal(t, 11, counts[models.STIXTypeRelationship])
	assert.Len(t, catalog.Relationships(), 11)
}

func TestLoadFile_TypedFields(t *testing.T) {
	catalog, err := LoadFile("testdata/bundle.json")
	require.NoError(t, err)

	sub, ok := catalog.Get("attack-pattern--970a3432-3237-47ad-bcca-7d8cbb217736")
	require.True(t, ok)
	assert.Equal(t, models.STIXTypeAttackPattern, sub.Type)
	assert.True(t, sub.IsSubtechnique)
	assert.Equal(t, []string{"Windows"}, sub.Platforms)
	assert.Equal(t, []string{"execution"}, sub.PhaseNames())

	tactic, ok := catalog.Get("x-mitre-tactic--ffd5bcee-6e16-4dd2-8eca-7b3beedf33ca")
	require.True(t, ok)
	assert.Equal(t, "initial-access", tactic.ShortName)

	tool, ok := catalog.Get("tool--afc079f3-c0ea-4096-b75d-3f05338b7f60")
	require.True(t, ok)
	assert.Equal(t, []string{"Mimikatz"}, tool.Aliases)

	group, ok := catalog.Get("intrusion-set--899ce53f-13a0-479b-a0e4-67d46e241542")
	require.True(t, ok)
	assert.Equal(t, []string{"APT29", "Cozy Bear"}, group.Aliases)

	revoked, ok := catalog.Get("attack-pattern--0c2d00da-7742-49e7-9928-4514e5075d32")
	require.True(t, ok)
	assert.True(t, revoked.Inactive())

	rel, ok := catalog.Get("relationship--00000000-0000-4000-8000-000000000005")
	require.True(t, ok)
	assert.True(t, rel.IsRelationship())
	assert.Equal(t, "subtechnique-of", rel.RelationshipType)
	assert.Equal(t, "attack-pattern--970a3432-3237-47ad-bcca-7d8cbb217736", rel.SourceRef)
	assert.Equal(t, "attack-pattern--7385dfaf-6886-4229-9ecd-6fd678040830", rel.TargetRef)
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantIndex int
	}{
		{name: "not json", input: `{"type": "bundle", "objects": [`, wantIndex: -1},
		{name: "not a bundle", input: `{"type": "report", "objects": []}`, wantIndex: -1},
		{name: "missing objects", input: `{"type": "bundle", "id": "bundle--1"}`, wantIndex: -1},
		{name: "object without id", input: `{"type": "bundle", "objects": [{"type": "tool"}]}`, wantIndex: 0},
		{name: "object without type", input: `{"type": "bundle", "objects": [{"id": "tool--1"}]}`, wantIndex: 0},
		{
			name:      "id prefix mismatch",
			input:     `{"type": "bundle", "objects": [{"type": "tool", "id": "tool--1"}, {"type": "tool", "id": "malware--2"}]}`,
			wantIndex: 1,
		},
		{
			name:      "relationship without target",
			input:     `{"type": "bundle", "objects": [{"type": "relationship", "id": "relationship--1", "relationship_type": "uses", "source_ref": "tool--1"}]}`,
			wantIndex: 0,
		},
		{name: "object is not an object", input: `{"type": "bundle", "objects": [42]}`, wantIndex: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog, err := Load(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, catalog)

			var parseErr *models.ParseError
			require.True(t, errors.As(err, &parseErr), "expected ParseError, got %T", err)
			assert.Equal(t, tt.wantIndex, parseErr.Index)
			assert.True(t, models.IsFatal(err))
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/does-not-exist.json")
	var parseErr *models.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "testdata/does-not-exist.json", parseErr.Source)
}

func TestLoad_EmptyBundle(t *testing.T) {
	catalog, err := Load(strings.NewReader(`{"type": "bundle", "id": "bundle--1", "objects": []}`))
	require.NoError(t, err)
	assert.Equal(t, 0, catalog.Len())
	assert.Empty(t, catalog.Relationships())
}

func TestLoad_DuplicateIDLastWins(t *testing.T) {
	input := `{"type": "bundle", "objects": [
		{"type": "tool", "id": "tool--1", "name": "first"},
		{"type": "tool", "id": "tool--2", "name": "other"},
		{"type": "tool", "id": "tool--1", "name": "second"}
	]}`

	catalog, err := Load(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 2, catalog.Len())
	obj, ok := catalog.Get("tool--1")
	require.True(t, ok)
	assert.Equal(t, "second", obj.Name)

	tools := catalog.OfType(models.STIXTypeTool)
	require.Len(t, tools, 2)
	assert.Equal(t, "second", tools[0].Name)
	assert.Equal(t, "other", tools[1].Name)
}

func TestNewCatalog(t *testing.T) {
	catalog := NewCatalog("bundle--x",
		&models.STIXObject{ID: "tool--1", Type: models.STIXTypeTool},
		&models.STIXObject{ID: "campaign--1", Type: models.STIXTypeCampaign},
	)

	assert.Equal(t, 2, catalog.Len())
	_, ok := catalog.Get("campaign--1")
	assert.True(t, ok)
	_, ok = catalog.Get("campaign--2")
	assert.False(t, ok)
}
