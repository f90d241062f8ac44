package schema

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticLister struct {
	ids []string
}

func (s *staticLister) ListActiveTenantIDs(context.Context) ([]string, error) {
	return s.ids, nil
}

func TestDriftDetector_CheckAllSurvivesDriftedTenant(t *testing.T) {
	db, mock, v := setupMockValidator(t)
	defer db.Close()

	healthy := uuid.New().String()
	drifted := uuid.New().String()

	expectSchemaExists(mock, Name(healthy), true)
	rows := sqlmock.NewRows([]string{"table_name"})
	for _, name := range ManifestTableNames() {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT table_name").WithArgs(Name(healthy)).WillReturnRows(rows)

	// drifted tenant lost its schema entirely
	expectSchemaExists(mock, Name(drifted), false)

	d := NewDriftDetector(v, &staticLister{ids: []string{healthy, drifted}}, 0, zap.NewNop())
	d.CheckAll(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
}
