// Package models defines the data structures (models) that map to database tables.
// GORM uses these structs to generate SQL queries and map database rows back to Go values.
// The struct field tags (the backtick strings like `gorm:"..."`) tell GORM how to handle
// each field: its column type, constraints, default values, and relationships.
//
// The data model is deliberately small:
//   - Users are synced lazily from the identity provider's tokens
//   - Companies group users together; each company is one chat group
//   - A Profile links a user to exactly one company
package models

import (
	"time"

	// uuid provides universally unique identifiers for primary keys.
	"github.com/google/uuid"
)

// UserRole represents a user's global permission level.
// Go doesn't have a built-in enum keyword, so we simulate one with a named string type.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin" // Can manage companies and profiles
	UserRoleUser  UserRole = "user"  // Regular chat participant
)

// User is a person who can authenticate. Rows are created on first sight of a
// valid token (see middleware.Auth).
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ExternalID *string   `gorm:"uniqueIndex"`          // The token subject ("sub")
	Username   string    `gorm:"not null;uniqueIndex"` // Display name used in chat
	Role       UserRole  `gorm:"type:varchar(16);not null;default:'user'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Profile *Profile `gorm:"foreignKey:UserID"` // Has-one: nil until an admin assigns a company
}

// Company is an organization. Everyone with a profile in the same company
// chats in the same group.
type Company struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string    `gorm:"type:varchar(100);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Profiles []Profile `gorm:"foreignKey:CompanyID"` // Has-many: the company's members
}

// Profile links one user to one company.
type Profile struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"` // One profile per user
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	User    User    `gorm:"foreignKey:UserID"`
	Company Company `gorm:"foreignKey:CompanyID"`
}
