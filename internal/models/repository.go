package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RepositoryType defines the type of storage backend.
type RepositoryType string

const (
	// RepositoryTypeLocal is a local filesystem repository.
	RepositoryTypeLocal RepositoryType = "local"
	// RepositoryTypeRest is a restic REST server repository.
	RepositoryTypeRest RepositoryType = "rest-server"
	// RepositoryTypeSFTP is an SFTP storage repository.
	RepositoryTypeSFTP RepositoryType = "sftp"
	// RepositoryTypeS3 is an S3-compatible storage repository.
	RepositoryTypeS3 RepositoryType = "s3"
)

// RepositoryStatus is the result of the most recent health check.
type RepositoryStatus string

const (
	RepositoryStatusUnknown RepositoryStatus = "unknown"
	RepositoryStatusOK      RepositoryStatus = "ok"
	RepositoryStatusError   RepositoryStatus = "error"
)

// Repository represents a backup storage destination.
type Repository struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Type     RepositoryType `json:"type"`
	Location string         `json:"location"`
	Password string         `json:"-"`

	// REST server transport credentials, only used for rest-server repositories.
	RestUsername string `json:"rest_username,omitempty"`
	RestPassword string `json:"-"`

	// S3 credentials, only used for s3 repositories. When empty the restic
	// process inherits the AWS environment of the server.
	S3AccessKeyID     string `json:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `json:"-"`
	S3Region          string `json:"s3_region,omitempty"`

	Status    RepositoryStatus `json:"status"`
	LastCheck *time.Time       `json:"last_check,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewRepository creates a new Repository with the given details.
func NewRepository(name string, repoType RepositoryType, location, password string) *Repository {
	now := time.Now().UTC()
	return &Repository{
		ID:        uuid.New(),
		Name:      name,
		Type:      repoType,
		Location:  location,
		Password:  password,
		Status:    RepositoryStatusUnknown,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidRepositoryTypes returns all valid repository types.
func ValidRepositoryTypes() []RepositoryType {
	return []RepositoryType{
		RepositoryTypeLocal,
		RepositoryTypeRest,
		RepositoryTypeSFTP,
		RepositoryTypeS3,
	}
}

// IsValidType checks if the repository type is valid.
func (r *Repository) IsValidType() bool {
	return slices.Contains(ValidRepositoryTypes(), r.Type)
}

// MarkChecked records the outcome of a repository check.
func (r *Repository) MarkChecked(at time.Time, ok bool) {
	r.LastCheck = &at
	r.UpdatedAt = at
	if ok {
		r.Status = RepositoryStatusOK
	} else {
		r.Status = RepositoryStatusError
	}
}
