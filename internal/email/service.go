package email

import (
	"context"
	"time"
)

// Service delivers one-time verification codes out of band
type Service interface {
	SendCode(ctx context.Context, to, code string, expiresIn time.Duration) error
}
