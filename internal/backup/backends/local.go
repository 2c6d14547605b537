package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MacJediWizard/resticron/internal/models"
)

// LocalBackend represents a local filesystem storage backend.
type LocalBackend struct {
	Path string
}

// Type returns the repository type.
func (b *LocalBackend) Type() models.RepositoryType {
	return models.RepositoryTypeLocal
}

// ToResticConfig converts the backend to a ResticConfig.
func (b *LocalBackend) ToResticConfig(password string) ResticConfig {
	return ResticConfig{
		Repository: b.Path,
		Password:   password,
	}
}

// Validate checks if the configuration is valid.
func (b *LocalBackend) Validate() error {
	if b.Path == "" {
		return errors.New("local backend: path is required")
	}
	if !filepath.IsAbs(b.Path) {
		return errors.New("local backend: path must be absolute")
	}
	return nil
}

// TestConnection checks that restic can write the repository: the path, or
// its parent when the repository has not been created yet, must be a
// writable directory.
func (b *LocalBackend) TestConnection(_ context.Context) error {
	if err := b.Validate(); err != nil {
		return err
	}

	dir, err := existingDir(b.Path)
	if err != nil {
		return err
	}

	probe, err := os.CreateTemp(dir, ".resticron-probe-*")
	if err != nil {
		return fmt.Errorf("local backend: directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// existingDir returns path when it is a directory, or its parent when path
// does not exist yet.
func existingDir(path string) (string, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", errors.New("local backend: path is not a directory")
		}
		return path, nil
	case !os.IsNotExist(err):
		return "", err
	}

	parent := filepath.Dir(path)
	info, err = os.Stat(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New("local backend: parent directory does not exist")
		}
		return "", err
	}
	if !info.IsDir() {
		return "", errors.New("local backend: parent path is not a directory")
	}
	return parent, nil
}
