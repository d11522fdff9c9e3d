// Package store persists users, linked oauth accounts, journal entries and
// password reset tokens in postgres through gorm.
//
// Lookups that find nothing return ErrNotFound and unique constraint
// violations return ErrConflict, so callers never have to import gorm.
package store
