package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntryType is how an entry was written
type EntryType string

const (
	EntryFreewrite EntryType = "FREEWRITE"
	EntryGuided    EntryType = "GUIDED"
)

// Visibility controls who may read an entry
type Visibility string

const (
	VisibilityPrivate   Visibility = "PRIVATE"
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityProtected Visibility = "PROTECTED"
)

// Valid reports whether v is one of the known visibilities
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityProtected:
		return true
	}
	return false
}

// counterColumn is the users column tracking entries of this visibility
func (v Visibility) counterColumn() string {
	switch v {
	case VisibilityPublic:
		return "public_entries_count"
	case VisibilityProtected:
		return "protected_entries_count"
	default:
		return "private_entries_count"
	}
}

type User struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	Email          string  `gorm:"uniqueIndex;not null"`
	Username       string  `gorm:"uniqueIndex;not null"`
	PasswordHash   string  `gorm:"not null;default:''"`
	FirstName      *string `gorm:"size:100"`
	LastName       *string `gorm:"size:100"`
	ProfilePicture *string `gorm:"size:2048"`

	JournalEntriesCount   int `gorm:"not null;default:0"`
	PrivateEntriesCount   int `gorm:"not null;default:0"`
	PublicEntriesCount    int `gorm:"not null;default:0"`
	ProtectedEntriesCount int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account is an oauth identity linked to a user. Tokens are stored as
// handed to the store, encryption happens above this layer.
type Account struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	UserID            string `gorm:"type:uuid;not null;index"`
	Provider          string `gorm:"not null;uniqueIndex:idx_account_provider"`
	ProviderAccountID string `gorm:"not null;uniqueIndex:idx_account_provider"`
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	TokenType         string
	Scope             string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location is a place visited during the day an entry describes
type Location struct {
	Lat  float64    `json:"lat"`
	Lng  float64    `json:"lng"`
	Name string     `json:"name,omitempty"`
	At   *time.Time `json:"at,omitempty"`
}

type Entry struct {
	ID           string     `gorm:"type:uuid;primaryKey"`
	UserID       string     `gorm:"type:uuid;not null;index:idx_entry_user_created,priority:1"`
	Type         EntryType  `gorm:"not null"`
	Content      string     `gorm:"type:text;not null"`
	Visibility   Visibility `gorm:"not null;default:PRIVATE"`
	QualityEmoji *string    `gorm:"size:10"`
	QualityScore *int
	MediaURLs    []string   `gorm:"serializer:json;type:jsonb"`
	Locations    []Location `gorm:"serializer:json;type:jsonb"`

	CreatedAt time.Time `gorm:"index:idx_entry_user_created,priority:2,sort:desc"`
	UpdatedAt time.Time
}

// VerificationToken is a password reset token. Only the sha256 of the token
// handed to the user is kept.
type VerificationToken struct {
	ID         uint      `gorm:"primaryKey"`
	Identifier string    `gorm:"not null;index"`
	TokenHash  string    `gorm:"not null;uniqueIndex"`
	Expires    time.Time `gorm:"not null;index"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (e *Entry) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Visibility == "" {
		e.Visibility = VisibilityPrivate
	}
	return nil
}

func allModels() []any {
	return []any{&User{}, &Account{}, &Entry{}, &VerificationToken{}}
}
