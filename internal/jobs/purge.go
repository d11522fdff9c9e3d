package jobs

import (
	"context"

	"github.com/keithlinneman/diary/internal/log"
)

const PurgeTokensJob = "purge-reset-tokens"

type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// PurgeTokens deletes expired password reset tokens
func PurgeTokens(p TokenPurger, schedule string) Job {
	return Job{
		Name:     PurgeTokensJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := p.PurgeExpiredTokens(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.FromContext(ctx).Info(ctx, "purged expired reset tokens", "deleted", n)
			}
			return nil
		},
	}
}
