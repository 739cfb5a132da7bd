// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Structure:
// - lms.go: mapping tables, grade records and the sync log (lms_*)
// - sis.go: student information system tables read and written by the engine (sis_*)
package models
