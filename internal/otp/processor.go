package otp

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor sweeps pending OTP rows whose TTL has elapsed into the
// expired status. Verification never relies on this sweep (expired rows
// are already invisible to the verify query); it exists so reporting and
// the status endpoint reflect reality without waiting for a verify call.
type Processor struct {
	db           *Database
	processDelay time.Duration
}

func NewProcessor(db *Database) *Processor {
	return &Processor{
		db:           db,
		processDelay: 10 * time.Minute,
	}
}

// Start begins the expiry sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "otp_processor").Logger()
	logger.Info().Msg("starting otp expiry processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down otp expiry processor")
			return
		case <-ticker.C:
			expired, err := p.db.MarkExpired(time.Now())
			if err != nil {
				logger.Error().Err(err).Msg("failed to expire pending otps")
				continue
			}
			if expired > 0 {
				logger.Info().Int64("expired_count", expired).Msg("marked pending otps as expired")
			}
		}
	}
}
