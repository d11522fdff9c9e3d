package store

import (
	"context"
	"time"
)

// CreateResetToken stores the hash of a reset token for email
func (s *Store) CreateResetToken(ctx context.Context, email, tokenHash string, expires time.Time) error {
	t := &VerificationToken{Identifier: email, TokenHash: tokenHash, Expires: expires}
	return translate(s.db.WithContext(ctx).Create(t).Error, "create reset token")
}

// ResetTokens returns the unexpired tokens issued for email
func (s *Store) ResetTokens(ctx context.Context, email string) ([]VerificationToken, error) {
	var out []VerificationToken
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND expires > ?", email, s.now()).
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "reset tokens")
	}
	return out, nil
}

// DeleteResetTokens removes every token issued for email
func (s *Store) DeleteResetTokens(ctx context.Context, email string) error {
	err := s.db.WithContext(ctx).Where("identifier = ?", email).Delete(&VerificationToken{}).Error
	return translate(err, "delete reset tokens")
}

// PurgeExpiredTokens deletes tokens that expired before now and reports how many
func (s *Store) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires <= ?", s.now()).Delete(&VerificationToken{})
	if res.Error != nil {
		return 0, translate(res.Error, "purge expired tokens")
	}
	return res.RowsAffected, nil
}
