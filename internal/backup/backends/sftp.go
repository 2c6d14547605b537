package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"golang.org/x/crypto/ssh"
)

// SFTPBackend represents an SFTP storage backend. Location uses restic's own
// syntax, either sftp:user@host:/path or sftp://user@host:port//path.
// Authentication is left to the ssh client restic spawns.
type SFTPBackend struct {
	Location string
}

// sftpTarget is the parsed form of an sftp location.
type sftpTarget struct {
	User string
	Host string
	Port int
	Path string
}

// Type returns the repository type.
func (b *SFTPBackend) Type() models.RepositoryType {
	return models.RepositoryTypeSFTP
}

// ToResticConfig converts the backend to a ResticConfig.
func (b *SFTPBackend) ToResticConfig(password string) ResticConfig {
	return ResticConfig{
		Repository: b.Location,
		Password:   password,
	}
}

// Validate checks if the configuration is valid.
func (b *SFTPBackend) Validate() error {
	_, err := b.target()
	return err
}

func (b *SFTPBackend) target() (sftpTarget, error) {
	loc := b.Location
	if loc == "" {
		return sftpTarget{}, errors.New("sftp backend: location is required")
	}

	if strings.HasPrefix(loc, "sftp://") {
		u, err := url.Parse(loc)
		if err != nil {
			return sftpTarget{}, fmt.Errorf("sftp backend: invalid location: %w", err)
		}
		t := sftpTarget{Host: u.Hostname(), Port: 22, Path: u.Path}
		if u.User != nil {
			t.User = u.User.Username()
		}
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return sftpTarget{}, fmt.Errorf("sftp backend: invalid port %q", p)
			}
			t.Port = port
		}
		if t.Host == "" || t.Path == "" {
			return sftpTarget{}, errors.New("sftp backend: location must include host and path")
		}
		return t, nil
	}

	rest, ok := strings.CutPrefix(loc, "sftp:")
	if !ok {
		return sftpTarget{}, errors.New("sftp backend: location must start with sftp:")
	}
	hostPart, path, ok := strings.Cut(rest, ":")
	if !ok || path == "" {
		return sftpTarget{}, errors.New("sftp backend: location must be sftp:[user@]host:/path")
	}
	t := sftpTarget{Host: hostPart, Port: 22, Path: path}
	if user, host, found := strings.Cut(hostPart, "@"); found {
		t.User = user
		t.Host = host
	}
	if t.Host == "" {
		return sftpTarget{}, errors.New("sftp backend: host is required")
	}
	return t, nil
}

// TestConnection dials the SSH server and completes key exchange. The probe
// carries no credentials, so an authentication rejection still proves the
// server is reachable and speaking SSH.
func (b *SFTPBackend) TestConnection(ctx context.Context) error {
	_, err := b.HostKeyFingerprint(ctx)
	return err
}

// HostKeyFingerprint connects to the SSH server and returns the SHA256
// fingerprint of its host key.
func (b *SFTPBackend) HostKeyFingerprint(ctx context.Context) (string, error) {
	t, err := b.target()
	if err != nil {
		return "", err
	}

	user := t.User
	if user == "" {
		user = "probe"
	}

	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User: user,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return nil
		},
		Timeout: 10 * time.Second,
	}

	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("sftp backend: failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err == nil {
		ssh.NewClient(c, chans, reqs).Close()
	}
	if captured == nil {
		return "", fmt.Errorf("sftp backend: SSH handshake failed: %w", err)
	}

	return ssh.FingerprintSHA256(captured), nil
}
