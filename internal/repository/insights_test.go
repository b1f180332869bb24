package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insight-sentinel/internal/models"
)

func newInsightRepo(t *testing.T) (*InsightRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewInsightRepository(db, zap.NewNop()), mock
}

func TestInsightReplace(t *testing.T) {
	repo, mock := newInsightRepo(t)

	colID := "c1"
	insights := []models.Insight{
		{
			ID:        "i1",
			DatasetID: "d1",
			ColumnID:  &colID,
			Severity:  models.SeverityWarning,
			Code:      "HIGH_NULL_RATIO",
			Title:     "High null ratio",
			Message:   "Column 'amount' is 34.0% null",
			CreatedAt: testNow,
		},
		{
			ID:        "i2",
			DatasetID: "d1",
			Severity:  models.SeverityInfo,
			Code:      "DUPLICATE_ROWS_IN_PREVIEW",
			Title:     "Duplicate rows in preview",
			Message:   "2 duplicate rows found in the preview sample",
			CreatedAt: testNow,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM dataset_insights").
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO dataset_insights").
		WithArgs("i1", "d1", "c1", models.SeverityWarning, "HIGH_NULL_RATIO",
			"High null ratio", insights[0].Message, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dataset_insights").
		WithArgs("i2", "d1", nil, models.SeverityInfo, "DUPLICATE_ROWS_IN_PREVIEW",
			"Duplicate rows in preview", insights[1].Message, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Replace(context.Background(), "d1", insights)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsightReplaceEmptySetClears(t *testing.T) {
	repo, mock := newInsightRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM dataset_insights").
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	err := repo.Replace(context.Background(), "d1", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsightReplaceRollsBackOnInsertError(t *testing.T) {
	repo, mock := newInsightRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM dataset_insights").
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dataset_insights").
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := repo.Replace(context.Background(), "d1", []models.Insight{
		{ID: "i1", DatasetID: "d1", Code: "CONSTANT_COLUMN", CreatedAt: testNow},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONSTANT_COLUMN")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsightList(t *testing.T) {
	repo, mock := newInsightRepo(t)

	rows := sqlmock.NewRows([]string{
		"id", "dataset_id", "column_id", "severity", "code", "title", "message", "created_at",
	}).
		AddRow("i1", "d1", "c1", models.SeverityCritical, "OUTLIERS_DETECTED", "Outliers detected", "m1", testNow).
		AddRow("i2", "d1", nil, models.SeverityWarning, "EMPTY_PREVIEW", "Empty preview", "m2", testNow)
	mock.ExpectQuery("SELECT(.|\n)*FROM dataset_insights").WithArgs("d1").WillReturnRows(rows)

	insights, err := repo.List(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, insights, 2)
	require.NotNil(t, insights[0].ColumnID)
	assert.Equal(t, "c1", *insights[0].ColumnID)
	assert.Nil(t, insights[1].ColumnID)
}

func TestInsightCodeExists(t *testing.T) {
	repo, mock := newInsightRepo(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("d1", "HIGH_NULL_RATIO").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.CodeExists(context.Background(), "d1", "HIGH_NULL_RATIO")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.CodeExists(context.Background(), "d1", "")
	assert.EqualError(t, err, "code is required")
}
