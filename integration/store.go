package integration

import (
	"context"

	"github.com/supermarkhq/courier/id"
)

// Store defines the persistence contract for integration installations.
type Store interface {
	// CreateInstallation persists a new installation. At most one
	// installation may exist per (team, provider).
	CreateInstallation(ctx context.Context, inst *Installation) error

	// GetInstallation returns the installation for a (team, provider) pair.
	GetInstallation(ctx context.Context, teamID string, p Provider) (*Installation, error)

	// GetInstallationByID returns an installation by ID.
	GetInstallationByID(ctx context.Context, instID id.ID) (*Installation, error)

	// UpdateInstallation modifies an existing installation.
	UpdateInstallation(ctx context.Context, inst *Installation) error

	// DeleteInstallation removes the installation for a (team, provider) pair.
	DeleteInstallation(ctx context.Context, teamID string, p Provider) error

	// ListInstallations returns all installations for a team. Called on
	// every notify, so backends should keep it cheap.
	ListInstallations(ctx context.Context, teamID string) ([]*Installation, error)
}
