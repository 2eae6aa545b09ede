package services

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/payfolio/src/logger"
	"github.com/username/payfolio/src/models"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

const reportSchema = `
CREATE TABLE reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	report_date TEXT NOT NULL DEFAULT '',
	total_amount TEXT NOT NULL DEFAULT '0',
	status TEXT NOT NULL,
	manager_comments TEXT NOT NULL DEFAULT '',
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE report_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id INTEGER NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_url TEXT NOT NULL DEFAULT '',
	file_kind TEXT NOT NULL DEFAULT 'csv',
	status TEXT NOT NULL,
	matched_column TEXT NOT NULL DEFAULT '',
	amount_count INTEGER NOT NULL DEFAULT 0,
	total_amount TEXT NOT NULL DEFAULT '0',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func newTestReportService(t *testing.T) (ReportService, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(reportSchema)
	require.NoError(t, err)

	storage := NewStorageService(t.TempDir())
	return NewReportService(db, storage, cache.New(cache.NoExpiration, 0)), db
}

func TestProcessUploadCreatesReport(t *testing.T) {
	svc, db := newTestReportService(t)
	ctx := context.Background()

	csvData := "Date,Total_Amount_Charged\n2024-06-01,100.50\n2024-06-02,200\n"
	outcome, err := svc.ProcessUpload(ctx, strings.NewReader(csvData), 1, 0, "june.csv", "2024-06-30")
	require.NoError(t, err)

	assert.Equal(t, models.FileStatusCompleted, outcome.File.Status)
	assert.Equal(t, "Total_Amount_Charged", outcome.File.MatchedColumn)
	assert.Equal(t, 2, outcome.File.AmountCount)
	assert.Equal(t, "300.5", outcome.File.TotalAmount.String())
	assert.Empty(t, outcome.Warning)

	var status, date string
	require.NoError(t, db.QueryRow(`SELECT status, report_date FROM reports WHERE id = ?`,
		outcome.File.ReportID).Scan(&status, &date))
	assert.Equal(t, string(models.ReportStatusProcessing), status)
	assert.Equal(t, "2024-06-30", date)
}

func TestProcessUploadAttachesToExistingReport(t *testing.T) {
	svc, _ := newTestReportService(t)
	ctx := context.Background()

	first, err := svc.ProcessUpload(ctx, strings.NewReader("x,amount\na,10\n"), 1, 0, "a.csv", "")
	require.NoError(t, err)

	second, err := svc.ProcessUpload(ctx, strings.NewReader("x,amount\nb,20\n"), 1, first.File.ReportID, "b.csv", "")
	require.NoError(t, err)
	assert.Equal(t, first.File.ReportID, second.File.ReportID)

	report, err := svc.GetReport(ctx, first.File.ReportID)
	require.NoError(t, err)
	assert.Len(t, report.Files, 2)
}

func TestProcessUploadRejectsForeignReport(t *testing.T) {
	svc, _ := newTestReportService(t)
	ctx := context.Background()

	mine, err := svc.ProcessUpload(ctx, strings.NewReader("x,amount\na,10\n"), 1, 0, "a.csv", "")
	require.NoError(t, err)

	_, err = svc.ProcessUpload(ctx, strings.NewReader("x,amount\nb,20\n"), 2, mine.File.ReportID, "b.csv", "")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestProcessUploadRejectsSubmittedReport(t *testing.T) {
	svc, db := newTestReportService(t)
	ctx := context.Background()

	outcome, err := svc.ProcessUpload(ctx, strings.NewReader("x,amount\na,10\n"), 1, 0, "a.csv", "")
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE reports SET status = ? WHERE id = ?`,
		string(models.ReportStatusPendingApproval), outcome.File.ReportID)
	require.NoError(t, err)

	_, err = svc.ProcessUpload(ctx, strings.NewReader("x,amount\nb,20\n"), 1, outcome.File.ReportID, "b.csv", "")
	assert.ErrorIs(t, err, ErrReportNotEditable)
}

func TestProcessUploadRecordsExtractionFailure(t *testing.T) {
	svc, db := newTestReportService(t)
	ctx := context.Background()

	outcome, err := svc.ProcessUpload(ctx, strings.NewReader("whatever"), 1, 0, "invoice.txt", "")
	require.Error(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, models.FileStatusError, outcome.File.Status)
	assert.NotEmpty(t, outcome.File.ErrorMessage)

	// The failure is recorded on the file row; the report itself stays
	// editable for replacement uploads.
	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM reports WHERE id = ?`,
		outcome.File.ReportID).Scan(&status))
	assert.Equal(t, string(models.ReportStatusProcessing), status)
}

func TestProcessUploadWarnsWhenNoColumnMatched(t *testing.T) {
	svc, _ := newTestReportService(t)

	outcome, err := svc.ProcessUpload(context.Background(),
		strings.NewReader("Date,Description\n2024-06-01,Lunch\n"), 1, 0, "notes.csv", "")
	require.NoError(t, err)

	assert.Equal(t, models.FileStatusCompleted, outcome.File.Status)
	assert.NotEmpty(t, outcome.Warning)
	assert.True(t, outcome.File.TotalAmount.IsZero())
}

func TestListReportsByUser(t *testing.T) {
	svc, _ := newTestReportService(t)
	ctx := context.Background()

	_, err := svc.ProcessUpload(ctx, strings.NewReader("x,amount\na,10\n"), 1, 0, "a.csv", "")
	require.NoError(t, err)
	_, err = svc.ProcessUpload(ctx, strings.NewReader("x,amount\nb,20\n"), 2, 0, "b.csv", "")
	require.NoError(t, err)

	reports, err := svc.ListReportsByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(1), reports[0].UserID)

	// Second read is served from cache and must agree.
	again, err := svc.ListReportsByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, reports, again)
}
