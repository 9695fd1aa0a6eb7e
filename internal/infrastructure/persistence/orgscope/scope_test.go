package orgscope

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// Scope Tests
// ============================================

func TestScope(t *testing.T) {
	orgID := uuid.New()

	t.Run("qualifies the column", func(t *testing.T) {
		db, mock, mockDB := setupMockDB(t, DefaultConfig())
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "scoped_rows" WHERE "scoped_rows"."organization_id" = \$1$`).
			WithArgs(orgID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}).
				AddRow(1, orgID.String(), "PAY-1"))

		var rows []scopedRow
		require.NoError(t, db.Scopes(Scope(orgID)).Find(&rows).Error)
		assert.Len(t, rows, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("applies after chained conditions", func(t *testing.T) {
		db, mock, mockDB := setupMockDB(t, DefaultConfig())
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "scoped_rows" WHERE number = \$1 AND "scoped_rows"."organization_id" = \$2 ORDER BY id ASC LIMIT \$3`).
			WithArgs("PAY-9", orgID, 10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}))

		var rows []scopedRow
		err := db.Scopes(Scope(orgID)).Where("number = ?", "PAY-9").Order("id ASC").Limit(10).Find(&rows).Error
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("explicit scope wins over context", func(t *testing.T) {
		db, mock, mockDB := setupMockDB(t, Config{Required: true})
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT count\(\*\) FROM "scoped_rows" WHERE "scoped_rows"."organization_id" = \$1$`).
			WithArgs(orgID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

		var count int64
		err := db.WithContext(orgContext(uuid.NewString())).Model(&scopedRow{}).Scopes(Scope(orgID)).Count(&count).Error
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
