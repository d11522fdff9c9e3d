package store

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// CreateUser inserts u. A taken email or username returns ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error, "create user")
}

func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	u := new(User)
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(u).Error; err != nil {
		return nil, translate(err, "user by id")
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	u := new(User)
	if err := s.db.WithContext(ctx).Where("lower(email) = ?", strings.ToLower(email)).First(u).Error; err != nil {
		return nil, translate(err, "user by email")
	}
	return u, nil
}

// EmailOrUsernameTaken reports whether either value is already registered
func (s *Store) EmailOrUsernameTaken(ctx context.Context, email, username string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("lower(email) = ? OR username = ?", strings.ToLower(email), username).
		Count(&n).Error
	if err != nil {
		return false, translate(err, "check existing user")
	}
	return n > 0, nil
}

// ProfileUpdate holds the editable profile fields. A nil field is left
// untouched, a pointer to "" clears the column.
type ProfileUpdate struct {
	FirstName      *string
	LastName       *string
	ProfilePicture *string
}

func (p ProfileUpdate) columns() map[string]any {
	cols := make(map[string]any, 3)
	set := func(name string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			cols[name] = nil
			return
		}
		cols[name] = *v
	}
	set("first_name", p.FirstName)
	set("last_name", p.LastName)
	set("profile_picture", p.ProfilePicture)
	return cols
}

// UpdateProfile applies p and returns the updated user
func (s *Store) UpdateProfile(ctx context.Context, userID string, p ProfileUpdate) (*User, error) {
	cols := p.columns()
	if len(cols) > 0 {
		res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(cols)
		if res.Error != nil {
			return nil, translate(res.Error, "update profile")
		}
		if res.RowsAffected == 0 {
			return nil, translate(gorm.ErrRecordNotFound, "update profile")
		}
	}
	return s.UserByID(ctx, userID)
}

func (s *Store) SetPassword(ctx context.Context, userID, hash string) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("password_hash", hash)
	if res.Error != nil {
		return translate(res.Error, "set password")
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "set password")
	}
	return nil
}

// SearchUsers matches q case-insensitively against username, first and last
// name, newest users first, never returning the caller.
func (s *Store) SearchUsers(ctx context.Context, q, excludeID string, take int) ([]User, error) {
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	var users []User
	err := s.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Where("lower(username) LIKE ? OR lower(first_name) LIKE ? OR lower(last_name) LIKE ?", pattern, pattern, pattern).
		Order("created_at DESC").
		Limit(take).
		Find(&users).Error
	if err != nil {
		return nil, translate(err, "search users")
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
