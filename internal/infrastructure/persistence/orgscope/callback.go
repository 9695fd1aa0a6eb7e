package orgscope

import (
	"strings"

	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryCallback  = "orgscope:before_query"
	updateCallback = "orgscope:before_update"
	deleteCallback = "orgscope:before_delete"
	rowCallback    = "orgscope:before_row"
)

// Callback adds the organization filter to statements missing one
type Callback struct {
	column   string
	required bool
}

// NewCallback creates a callback for the given configuration
func NewCallback(cfg Config) *Callback {
	if cfg.Column == "" {
		cfg.Column = DefaultColumn
	}
	return &Callback{column: cfg.Column, required: cfg.Required}
}

// Register installs the organization callbacks on db
func Register(db *gorm.DB, cfg Config) error {
	cb := NewCallback(cfg)
	if err := db.Callback().Query().Before("gorm:query").Register(queryCallback, cb.apply); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register(updateCallback, cb.apply); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register(deleteCallback, cb.apply); err != nil {
		return err
	}
	// Create is left alone: aggregates always carry their organization id.
	return db.Callback().Row().Before("gorm:row").Register(rowCallback, cb.apply)
}

// Unregister removes the organization callbacks. Used by tests.
func Unregister(db *gorm.DB) {
	_ = db.Callback().Query().Remove(queryCallback)
	_ = db.Callback().Update().Remove(updateCallback)
	_ = db.Callback().Delete().Remove(deleteCallback)
	_ = db.Callback().Row().Remove(rowCallback)
}

func (c *Callback) apply(db *gorm.DB) {
	stmt := db.Statement
	if stmt.Context == nil || stmt.Unscoped {
		return
	}
	if stmt.Schema == nil || stmt.Schema.LookUpField(c.column) == nil {
		return
	}
	if c.hasCondition(db) {
		return
	}

	organizationID := logger.GetOrganizationID(stmt.Context)
	if organizationID == "" {
		if c.required {
			_ = db.AddError(ErrOrganizationRequired)
		}
		return
	}
	if _, err := uuid.Parse(organizationID); err != nil {
		_ = db.AddError(ErrInvalidOrganizationID)
		return
	}

	stmt.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: c.column},
				Value:  organizationID,
			},
		},
	})
}

func (c *Callback) hasCondition(db *gorm.DB) bool {
	if whereClause, ok := db.Statement.Clauses["WHERE"]; ok {
		if where, ok := whereClause.Expression.(clause.Where); ok {
			for _, expr := range where.Exprs {
				if c.mentions(expr) {
					return true
				}
			}
		}
	}
	sql := db.Statement.SQL.String()
	return sql != "" && strings.Contains(sql, c.column)
}

func (c *Callback) mentions(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == c.column
		}
	case clause.IN:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == c.column
		}
	case clause.Expr:
		return strings.Contains(e.SQL, c.column)
	case clause.NamedExpr:
		return strings.Contains(e.SQL, c.column)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if c.mentions(cond) {
				return true
			}
		}
	case clause.OrConditions:
		for _, cond := range e.Exprs {
			if c.mentions(cond) {
				return true
			}
		}
	}
	return false
}
