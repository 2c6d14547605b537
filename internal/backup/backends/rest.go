package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
)

const restPrefix = "rest:"

// RestBackend represents a restic REST server backend.
type RestBackend struct {
	URL      string
	Username string
	Password string
}

// Type returns the repository type.
func (b *RestBackend) Type() models.RepositoryType {
	return models.RepositoryTypeRest
}

// ToResticConfig converts the backend to a ResticConfig. Transport
// credentials are carried as URL userinfo, which every restic release
// understands.
func (b *RestBackend) ToResticConfig(password string) ResticConfig {
	repository := strings.TrimPrefix(b.URL, restPrefix)

	if b.Username != "" && b.Password != "" {
		if u, err := url.Parse(repository); err == nil {
			u.User = url.UserPassword(b.Username, b.Password)
			repository = u.String()
		}
	}

	return ResticConfig{
		Repository: restPrefix + repository,
		Password:   password,
	}
}

// Validate checks if the configuration is valid. The location must be an
// http or https URL.
func (b *RestBackend) Validate() error {
	if b.URL == "" {
		return errors.New("rest backend: url is required")
	}
	u, err := url.Parse(strings.TrimPrefix(b.URL, restPrefix))
	if err != nil {
		return fmt.Errorf("rest backend: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("rest backend: url must use http or https")
	}
	if u.Host == "" {
		return errors.New("rest backend: url must include a host")
	}
	if (b.Username == "") != (b.Password == "") {
		return errors.New("rest backend: username and password must be set together")
	}
	return nil
}

// TestConnection tests the REST backend connection by sending a HEAD request.
func (b *RestBackend) TestConnection(ctx context.Context) error {
	if err := b.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimPrefix(b.URL, restPrefix), nil)
	if err != nil {
		return fmt.Errorf("rest backend: failed to create request: %w", err)
	}
	if b.Username != "" {
		req.SetBasicAuth(b.Username, b.Password)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rest backend: failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("rest backend: authentication failed")
	}
	// rest-server answers 404 for a HEAD on a repository that is not yet initialized.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("rest backend: server returned status %d", resp.StatusCode)
	}
	return nil
}

// Redact hides any userinfo password in a restic repository string.
func Redact(repository string) string {
	if !strings.HasPrefix(repository, restPrefix) {
		return repository
	}
	u, err := url.Parse(strings.TrimPrefix(repository, restPrefix))
	if err != nil {
		return restPrefix + "<unparseable>"
	}
	return restPrefix + u.Redacted()
}
