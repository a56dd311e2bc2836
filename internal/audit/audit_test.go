package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/store"
)

func TestMaskRedactsEmailAndIP(t *testing.T) {
	masked, count := mask("contact jane.doe@example.com from 10.0.0.5")
	assert.Contains(t, masked, "[masked:email]")
	assert.Contains(t, masked, "[masked:ip]")
	assert.Equal(t, 2, count)
}

func TestMaskLeavesCleanTextUntouched(t *testing.T) {
	masked, count := mask("no sensitive content here")
	assert.Equal(t, "no sensitive content here", masked)
	assert.Equal(t, 0, count)
}

func TestMaskEmptyStringIsNoop(t *testing.T) {
	masked, count := mask("")
	assert.Equal(t, "", masked)
	assert.Equal(t, 0, count)
}

func TestRecordEnqueuesAndWritesAsync(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	s := store.NewFromDB(sqlx.NewDb(db, "postgres"))

	mock.ExpectQuery("INSERT INTO audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	w := New(s, zap.NewNop())
	defer w.Shutdown()

	w.Record(context.Background(), Entry{
		TenantID: "t1",
		Action:   "deployments.rollback",
		RequestBody: "contact ops@example.com",
	})

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}
