package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attack-graph/internal/domain/models"
	"attack-graph/pkg/logger"
)

type fakeRecorder struct {
	name    string
	err     error
	reports []*models.RunReport
}

func (f *fakeRecorder) Name() string { return f.name }

func (f *fakeRecorder) Record(_ context.Context, report *models.RunReport) error {
	f.reports = append(f.reports, report)
	return f.err
}

func finishedReport(t *testing.T, runErr error) *models.RunReport {
	t.Helper()
	report := models.NewRunReport("enterprise-attack.json")
	stats := models.NewIngestStats()
	stats.Nodes.Created[models.LabelTechnique] = 3
	stats.Nodes.Created[models.LabelGroup] = 1
	stats.Relationships.Created[models.EdgeUses] = 2
	report.Finish(stats, runErr)
	return report
}

func TestMultiRecorder_AllSinks(t *testing.T) {
	a := &fakeRecorder{name: "a"}
	b := &fakeRecorder{name: "b"}
	m := NewMultiRecorder(logger.NewNop(), a, nil, b)
	assert.Equal(t, 2, m.Len())

	report := finishedReport(t, nil)
	require.NoError(t, m.Record(context.Background(), report))
	assert.Equal(t, []*models.RunReport{report}, a.reports)
	assert.Equal(t, []*models.RunReport{report}, b.reports)
}

func TestMultiRecorder_FailingSinkDoesNotStopOthers(t *testing.T) {
	boom := errors.New("connection reset")
	failing := &fakeRecorder{name: "postgres", err: boom}
	ok := &fakeRecorder{name: "redis"}

	err := NewMultiRecorder(logger.NewNop(), failing, ok).Record(context.Background(), finishedReport(t, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "postgres")
	assert.Len(t, ok.reports, 1)
}

func TestMultiRecorder_NoSinks(t *testing.T) {
	m := NewMultiRecorder(logger.NewNop())
	assert.Zero(t, m.Len())
	assert.NoError(t, m.Record(context.Background(), finishedReport(t, nil)))
}

func TestRunRow(t *testing.T) {
	report := finishedReport(t, nil)
	report.GraphTotal = map[string]int64{"Technique": 3}

	args, err := runRow(report)
	require.NoError(t, err)
	require.Len(t, args, 11)

	assert.Equal(t, report.ID.String(), args[0])
	assert.Equal(t, "enterprise-attack.json", args[1])
	assert.Nil(t, args[2].(*string), "empty bundle id is NULL")
	assert.Equal(t, "succeeded", args[5])
	assert.Nil(t, args[6].(*string), "no error text on success")
	assert.Equal(t, 4, args[7])
	assert.Equal(t, 2, args[8])

	var stats map[string]any
	require.NoError(t, json.Unmarshal(args[9].([]byte), &stats))
	assert.Contains(t, stats, "nodes")
	assert.Contains(t, stats, "relationships")
	assert.JSONEq(t, `{"Technique": 3}`, string(args[10].([]byte)))
}

func TestRunRow_Failed(t *testing.T) {
	report := models.NewRunReport("missing.json")
	report.Finish(nil, errors.New("parse missing.json: no such file"))

	args, err := runRow(report)
	require.NoError(t, err)

	assert.Equal(t, "failed", args[5])
	require.NotNil(t, args[6].(*string))
	assert.Equal(t, "parse missing.json: no such file", *args[6].(*string))
	assert.Equal(t, 0, args[7])
	assert.Nil(t, args[9].([]byte))
	assert.Nil(t, args[10].([]byte))
}

type fakeJSONStore struct {
	keys  []string
	ttl   time.Duration
	value any
}

func (f *fakeJSONStore) SetJSON(_ context.Context, value any, ttl time.Duration, keys ...string) error {
	f.value, f.ttl, f.keys = value, ttl, keys
	return nil
}

func TestRedisRecorder_Keys(t *testing.T) {
	store := &fakeJSONStore{}
	r := &RedisRecorder{store: store, ttl: time.Hour}
	report := finishedReport(t, nil)

	require.NoError(t, r.Record(context.Background(), report))
	assert.Equal(t, []string{"run:" + report.ID.String(), "run:last"}, store.keys)
	assert.Equal(t, time.Hour, store.ttl)
	assert.Same(t, report, store.value)
}
