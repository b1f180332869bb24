package insights

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/models"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	dataset  *models.Dataset
	columns  []models.DatasetColumn
	stats    map[string]models.ColumnStat
	preview  []models.PreviewRow
	replaced []models.Insight
}

func (f *fakeStore) GetDataset(ctx context.Context, datasetID string) (*models.Dataset, error) {
	if f.dataset == nil {
		return nil, models.ErrDatasetNotFound
	}
	return f.dataset, nil
}

func (f *fakeStore) ListColumns(ctx context.Context, datasetID string) ([]models.DatasetColumn, error) {
	return f.columns, nil
}

func (f *fakeStore) ListColumnStats(ctx context.Context, datasetID string) (map[string]models.ColumnStat, error) {
	if f.stats == nil {
		return map[string]models.ColumnStat{}, nil
	}
	return f.stats, nil
}

func (f *fakeStore) GetPreviewRows(ctx context.Context, datasetID string) ([]models.PreviewRow, error) {
	return f.preview, nil
}

func (f *fakeStore) ReplaceInsights(ctx context.Context, datasetID string, insights []models.Insight) error {
	f.replaced = insights
	return nil
}

func newTestEngine(store *fakeStore) *Engine {
	return NewEngine(store, clock.Fixed{T: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func codesOf(insights []models.Insight) map[string]models.Insight {
	out := make(map[string]models.Insight, len(insights))
	for _, ins := range insights {
		out[ins.Code] = ins
	}
	return out
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestRefreshDatasetNotFound(t *testing.T) {
	engine := newTestEngine(&fakeStore{})
	_, err := engine.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrDatasetNotFound)
}

func TestRefreshNullRatioSeverities(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "clean", Dtype: "float64", NullCount: 5, DistinctCount: 90},
			{ID: "c2", Name: "patchy", Dtype: "float64", NullCount: 25, DistinctCount: 60},
			{ID: "c3", Name: "hollow", Dtype: "float64", NullCount: 60, DistinctCount: 30},
		},
		preview: []models.PreviewRow{
			{"clean": 1.0}, {"clean": 2.0}, {"clean": 3.0},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	var nullInsights []models.Insight
	for _, ins := range insights {
		if ins.Code == models.CodeHighNullRatio {
			nullInsights = append(nullInsights, ins)
		}
	}
	require.Len(t, nullInsights, 2)

	bySeverity := map[string]string{}
	for _, ins := range nullInsights {
		require.NotNil(t, ins.ColumnID)
		bySeverity[*ins.ColumnID] = ins.Severity
	}
	assert.Equal(t, models.SeverityWarning, bySeverity["c2"])
	assert.Equal(t, models.SeverityCritical, bySeverity["c3"])

	// Replace received the same set.
	assert.Equal(t, insights, store.replaced)
}

func TestRefreshConstantAndLowCardinality(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "status", Dtype: "object", NullCount: 0, DistinctCount: 1},
			{ID: "c2", Name: "region", Dtype: "object", NullCount: 0, DistinctCount: 4},
		},
		preview: []models.PreviewRow{
			{"status": "ok", "region": "north"},
			{"status": "ok", "region": "south"},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	require.Contains(t, codes, models.CodeConstantColumn)
	require.Contains(t, codes, models.CodeLowCardinality)
	assert.Equal(t, models.SeverityWarning, codes[models.CodeConstantColumn].Severity)
	assert.Equal(t, models.SeverityInfo, codes[models.CodeLowCardinality].Severity)
}

func TestRefreshNumericAsStringSuppressesLowCardinality(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "amount", Dtype: "object", NullCount: 0, DistinctCount: 4},
		},
		preview: []models.PreviewRow{
			{"amount": "1,200"},
			{"amount": "3,400"},
			{"amount": "5,600"},
			{"amount": "7,800"},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	assert.Contains(t, codes, models.CodeNumericAsString)
	assert.NotContains(t, codes, models.CodeLowCardinality)
}

func TestRefreshHighCardinalityAndIdentifier(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "user_key", Dtype: "object", NullCount: 0, DistinctCount: 98},
			{ID: "c2", Name: "city", Dtype: "object", NullCount: 0, DistinctCount: 60},
		},
		preview: []models.PreviewRow{{"user_key": "a", "city": "x"}},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	counts := map[string]int{}
	for _, ins := range insights {
		counts[ins.Code]++
	}
	// Both columns clear the high-cardinality bar, only user_key looks like an id.
	assert.Equal(t, 2, counts[models.CodeHighCardinality])
	assert.Equal(t, 1, counts[models.CodeLikelyIdentifier])
}

func TestRefreshDateChecks(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "created_date", Dtype: "object", NullCount: 0, DistinctCount: 6},
		},
		preview: []models.PreviewRow{
			{"created_date": "2025-01-01"},
			{"created_date": "2025-01-02"},
			{"created_date": "2025-01-03"},
			{"created_date": "01/02/2025"},
			{"created_date": "02/02/2025"},
			{"created_date": "2030-01-01"},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	assert.Contains(t, codes, models.CodeMixedDateFormats)
	assert.Contains(t, codes, models.CodeFutureDatesInPreview)
	assert.NotContains(t, codes, models.CodeDateParseFailure)
	assert.Equal(t, models.SeverityInfo, codes[models.CodeFutureDatesInPreview].Severity)

	// The message names each format family with its count, most frequent first.
	assert.Contains(t, codes[models.CodeMixedDateFormats].Message, "ISO(4), EU_SLASH(2)")
}

func TestRefreshDateParseFailure(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "event_time", Dtype: "object", NullCount: 0, DistinctCount: 6},
		},
		preview: []models.PreviewRow{
			{"event_time": "2025-01-01"},
			{"event_time": "garbled"},
			{"event_time": "n/a"},
			{"event_time": "???"},
			{"event_time": "soon"},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	assert.Contains(t, codes, models.CodeDateParseFailure)
	assert.NotContains(t, codes, models.CodeMixedDateFormats)
}

func TestRefreshDuplicateRows(t *testing.T) {
	dup := models.PreviewRow{"a": "1", "b": "x"}
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "a", Dtype: "object", NullCount: 0, DistinctCount: 50},
		},
		preview: []models.PreviewRow{
			dup, dup, dup,
			{"a": "2", "b": "y"},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	require.Contains(t, codes, models.CodeDuplicateRowsInPreview)
	assert.Equal(t, models.SeverityWarning, codes[models.CodeDuplicateRowsInPreview].Severity)
}

func TestRefreshDuplicateRowsConstantColumnsDowngrade(t *testing.T) {
	dup := models.PreviewRow{"a": "1", "b": "x", "c": "same", "d": "same"}
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "a", Dtype: "object", NullCount: 0, DistinctCount: 50},
		},
		preview: []models.PreviewRow{dup, dup, dup},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	require.Contains(t, codes, models.CodeDuplicateRowsInPreview)
	assert.Equal(t, models.SeverityInfo, codes[models.CodeDuplicateRowsInPreview].Severity)
}

func TestRefreshEmptyPreview(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "amount", Dtype: "object", NullCount: 0, DistinctCount: 4},
		},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	codes := codesOf(insights)
	assert.Contains(t, codes, models.CodeEmptyPreview)
	// Preview-based checks must not run.
	assert.NotContains(t, codes, models.CodeNumericAsString)
	assert.NotContains(t, codes, models.CodeDuplicateRowsInPreview)
}

func TestRefreshStatsChecks(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 200},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "price", Dtype: "float64", NullCount: 0, DistinctCount: 150},
			{ID: "c2", Name: "offset", Dtype: "float64", NullCount: 0, DistinctCount: 80},
			{ID: "c3", Name: "flat", Dtype: "float64", NullCount: 0, DistinctCount: 2},
		},
		stats: map[string]models.ColumnStat{
			"c1": {ColumnID: "c1", OutlierRatio: floatPtr(0.25), OutlierCount: intPtr(50), Skewness: floatPtr(2.5)},
			"c2": {ColumnID: "c2", Min: floatPtr(-10), Max: floatPtr(-1), Skewness: floatPtr(1.2)},
			"c3": {ColumnID: "c3", Min: floatPtr(3), Max: floatPtr(3)},
		},
		preview: []models.PreviewRow{{"price": 1.0}},
	}
	engine := newTestEngine(store)

	insights, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	byCol := map[string][]models.Insight{}
	for _, ins := range insights {
		if ins.ColumnID != nil {
			byCol[*ins.ColumnID] = append(byCol[*ins.ColumnID], ins)
		}
	}

	c1codes := codesOf(byCol["c1"])
	require.Contains(t, c1codes, models.CodeOutliersDetected)
	assert.Equal(t, models.SeverityCritical, c1codes[models.CodeOutliersDetected].Severity)
	require.Contains(t, c1codes, models.CodeSkewedDistribution)
	assert.Equal(t, models.SeverityWarning, c1codes[models.CodeSkewedDistribution].Severity)

	c2codes := codesOf(byCol["c2"])
	require.Contains(t, c2codes, models.CodeNumericRangeSuspicious)
	assert.Equal(t, models.SeverityWarning, c2codes[models.CodeNumericRangeSuspicious].Severity)
	require.Contains(t, c2codes, models.CodeSkewedDistribution)
	assert.Equal(t, models.SeverityInfo, c2codes[models.CodeSkewedDistribution].Severity)

	c3codes := codesOf(byCol["c3"])
	require.Contains(t, c3codes, models.CodeNumericRangeSuspicious)
	assert.Equal(t, models.SeverityInfo, c3codes[models.CodeNumericRangeSuspicious].Severity)
}

func TestRefreshIdempotentCodes(t *testing.T) {
	store := &fakeStore{
		dataset: &models.Dataset{ID: "d1", RowCount: 100},
		columns: []models.DatasetColumn{
			{ID: "c1", Name: "patchy", Dtype: "float64", NullCount: 30, DistinctCount: 40},
		},
		preview: []models.PreviewRow{{"patchy": 1.0}, {"patchy": 2.0}},
	}
	engine := newTestEngine(store)

	first, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)
	second, err := engine.Refresh(context.Background(), "d1")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Code, second[i].Code)
		assert.Equal(t, first[i].Severity, second[i].Severity)
		assert.Equal(t, first[i].Message, second[i].Message)
	}
}
