package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"attack-graph/internal/domain/models"
	"attack-graph/internal/domain/services"
)

func TestPrintSummary(t *testing.T) {
	stats := models.NewIngestStats()
	stats.Objects = 26
	stats.Nodes.Created[models.LabelTechnique] = 3
	stats.Nodes.Skipped = 1
	stats.Relationships.Created[models.EdgeUses] = 4
	stats.Relationships.Created[models.EdgeRequiresTactic] = 3
	stats.Relationships.DerivedCreated = 3
	stats.Relationships.SkippedDangling = 2

	report := models.NewRunReport("bundle.json")
	report.GraphTotal = map[string]int64{"Technique": 3, "USES": 4}
	report.Finish(stats, nil)

	var buf bytes.Buffer
	printSummary(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "objects:        26")
	assert.Contains(t, out, "nodes:          3 (filtered 0, skipped 1)")
	assert.Contains(t, out, "relationships:  7")
	assert.Contains(t, out, "dangling 2")
	assert.Contains(t, out, "graph totals:")
}

func TestPrintSummary_FailedWithoutStats(t *testing.T) {
	report := models.NewRunReport("missing.json")
	report.Finish(nil, errors.New("bundle not found"))

	var buf bytes.Buffer
	printSummary(&buf, report)
	assert.Contains(t, buf.String(), "failed")
	assert.NotContains(t, buf.String(), "objects:")
}

func TestProgressBar(t *testing.T) {
	p := newProgressBar(io.Discard)

	p.Start(services.PhaseNodes, 3)
	p.Advance(1)
	p.Advance(2)
	p.Done()
	assert.Nil(t, p.bar)

	// empty phases render nothing
	p.Start(services.PhaseTactics, 0)
	p.Advance(1)
	p.Done()
	assert.Nil(t, p.bar)
}

func TestRun_BadFlag(t *testing.T) {
	assert.Equal(t, 2, run([]string{"--no-such-flag"}))
}
