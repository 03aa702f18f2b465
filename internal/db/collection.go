package db

import (
	"context"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// DepotCollection defines the interface for depot configuration operations.
type DepotCollection interface {
	GetDepot(ctx context.Context, orgID string) (*models.DepotConfig, error)
	UpsertDepot(ctx context.Context, cfg models.DepotConfig) error
	DeleteDepot(ctx context.Context, orgID string) (bool, error)
}

// OTPCollection defines the interface for pending one-time password challenges.
type OTPCollection interface {
	SaveChallenge(ctx context.Context, c models.OTPChallenge) error
	FindChallenge(ctx context.Context, phone string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, phone string) error
	DeleteChallenge(ctx context.Context, phone string) error
}
