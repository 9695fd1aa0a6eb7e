package orgscope

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type scopedRow struct {
	ID             uint
	OrganizationID string
	Number         string
}

type globalRow struct {
	ID   uint
	Name string
}

func setupMockDB(t *testing.T, cfg Config) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}),
		&gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, Register(db, cfg))
	return db, mock, mockDB
}

func orgContext(id string) context.Context {
	ctx := context.Background()
	ctx, _ = logger.WithOrganizationID(ctx, logger.FromContext(ctx), id)
	return ctx
}

func TestNewCallback_DefaultColumn(t *testing.T) {
	cb := NewCallback(Config{})
	assert.Equal(t, DefaultColumn, cb.column)
	assert.False(t, cb.required)

	custom := NewCallback(Config{Column: "org_id", Required: true})
	assert.Equal(t, "org_id", custom.column)
	assert.True(t, custom.required)
}

func TestCallback_AddsFilterFromContext(t *testing.T) {
	db, mock, mockDB := setupMockDB(t, DefaultConfig())
	defer mockDB.Close()

	orgID := uuid.New().String()
	mock.ExpectQuery(`SELECT \* FROM "scoped_rows" WHERE "scoped_rows"."organization_id" = \$1`).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}))

	var rows []scopedRow
	require.NoError(t, db.WithContext(orgContext(orgID)).Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_KeepsExplicitCondition(t *testing.T) {
	db, mock, mockDB := setupMockDB(t, DefaultConfig())
	defer mockDB.Close()

	ctxOrg := uuid.New().String()
	explicit := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM "scoped_rows" WHERE "scoped_rows"."organization_id" = \$1$`).
		WithArgs(explicit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}))

	var rows []scopedRow
	err := db.WithContext(orgContext(ctxOrg)).Scopes(Scope(explicit)).Find(&rows).Error
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_SkipsTablesWithoutColumn(t *testing.T) {
	db, mock, mockDB := setupMockDB(t, Config{Required: true})
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "global_rows"$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	var rows []globalRow
	require.NoError(t, db.WithContext(context.Background()).Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_Unscoped(t *testing.T) {
	db, mock, mockDB := setupMockDB(t, Config{Required: true})
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "scoped_rows"$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}))

	var rows []scopedRow
	require.NoError(t, db.WithContext(context.Background()).Unscoped().Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		ctx     context.Context
		wantErr error
	}{
		{"required but missing", Config{Required: true}, context.Background(), ErrOrganizationRequired},
		{"invalid uuid", DefaultConfig(), orgContext("not-a-uuid"), ErrInvalidOrganizationID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, mockDB := setupMockDB(t, tt.cfg)
			defer mockDB.Close()

			var rows []scopedRow
			err := db.WithContext(tt.ctx).Find(&rows).Error
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCallback_NotRequired(t *testing.T) {
	db, mock, mockDB := setupMockDB(t, DefaultConfig())
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "scoped_rows"$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}))

	var rows []scopedRow
	require.NoError(t, db.WithContext(context.Background()).Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnregister(t *testing.T) {
	db, mock, mockDB := setupMockDB(t, Config{Required: true})
	defer mockDB.Close()

	Unregister(db)

	mock.ExpectQuery(`SELECT \* FROM "scoped_rows"$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "number"}))

	var rows []scopedRow
	require.NoError(t, db.WithContext(context.Background()).Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
