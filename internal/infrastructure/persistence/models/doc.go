// Package models contains GORM persistence models that map to ledger tables.
// They are kept apart from the domain aggregates so the domain layer stays free
// of ORM tags; every model has FromDomain and ToDomain mappers.
//
//   - base.go: BaseModel, AggregateModel, OrganizationAggregateModel
//   - ledger.go: organizations, payments, invoices
package models
