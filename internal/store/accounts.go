package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ProviderGoogle = "google"

// AccountFor returns the user's linked account for provider
func (s *Store) AccountFor(ctx context.Context, userID, provider string) (*Account, error) {
	a := new(Account)
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(a).Error
	if err != nil {
		return nil, translate(err, "account for user")
	}
	return a, nil
}

// AccountByProviderID finds the account a provider identity is linked to
func (s *Store) AccountByProviderID(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	a := new(Account)
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).
		First(a).Error
	if err != nil {
		return nil, translate(err, "account by provider id")
	}
	return a, nil
}

// UpsertAccount links a provider identity, replacing stored tokens when the
// identity is already linked. An empty refresh token keeps the stored one,
// providers only hand it out on first consent.
func (s *Store) UpsertAccount(ctx context.Context, a *Account) error {
	update := []string{"access_token", "expires_at", "token_type", "scope", "updated_at"}
	if a.RefreshToken != "" {
		update = append(update, "refresh_token")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_account_id"}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(a).Error
	return translate(err, "upsert account")
}

// UpdateAccountTokens persists a refreshed token set
func (s *Store) UpdateAccountTokens(ctx context.Context, accountID, access, refresh string, expiry *time.Time) error {
	cols := map[string]any{"access_token": access, "expires_at": expiry}
	if refresh != "" {
		cols["refresh_token"] = refresh
	}
	res := s.db.WithContext(ctx).Model(&Account{}).Where("id = ?", accountID).Updates(cols)
	if res.Error != nil {
		return translate(res.Error, "update account tokens")
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "update account tokens")
	}
	return nil
}
