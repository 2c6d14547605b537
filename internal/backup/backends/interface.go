// Package backends builds restic connection targets for each repository type
// and probes the underlying transport without invoking restic.
package backends

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/resticron/internal/models"
)

// ResticConfig holds everything restic needs to address a repository.
// Repository is passed as RESTIC_REPOSITORY so credentials embedded in it
// never appear on the command line.
type ResticConfig struct {
	Repository string
	Password   string
	Env        map[string]string
}

// Backend defines the interface for backup storage backends.
type Backend interface {
	// Type returns the repository type.
	Type() models.RepositoryType

	// ToResticConfig converts the backend configuration to a ResticConfig.
	ToResticConfig(password string) ResticConfig

	// Validate checks if the configuration is valid.
	Validate() error

	// TestConnection probes the backend transport.
	TestConnection(ctx context.Context) error
}

// FromRepository builds the Backend for a repository record.
func FromRepository(repo *models.Repository) (Backend, error) {
	var b Backend
	switch repo.Type {
	case models.RepositoryTypeLocal:
		b = &LocalBackend{Path: repo.Location}
	case models.RepositoryTypeRest:
		b = &RestBackend{
			URL:      repo.Location,
			Username: repo.RestUsername,
			Password: repo.RestPassword,
		}
	case models.RepositoryTypeSFTP:
		b = &SFTPBackend{Location: repo.Location}
	case models.RepositoryTypeS3:
		b = &S3Backend{
			Location:        repo.Location,
			AccessKeyID:     repo.S3AccessKeyID,
			SecretAccessKey: repo.S3SecretAccessKey,
			Region:          repo.S3Region,
		}
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", repo.Type)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// ConfigFor validates the repository and returns its ResticConfig.
func ConfigFor(repo *models.Repository) (ResticConfig, error) {
	b, err := FromRepository(repo)
	if err != nil {
		return ResticConfig{}, err
	}
	return b.ToResticConfig(repo.Password), nil
}
