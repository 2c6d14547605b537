// Package backup runs restic against configured repositories and schedules
// recurring backups.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup/backends"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/rs/zerolog"
)

// ResticConfig is an alias to backends.ResticConfig.
type ResticConfig = backends.ResticConfig

// Executor performs restic operations. Operational failures (restic missing,
// auth errors, network errors) are reported through the result, never as a
// Go error or panic.
type Executor interface {
	Init(ctx context.Context, cfg ResticConfig) InitResult
	Check(ctx context.Context, cfg ResticConfig) CheckResult
	Backup(ctx context.Context, cfg ResticConfig, req BackupRequest) BackupResult
	Snapshots(ctx context.Context, cfg ResticConfig) SnapshotsResult
	ListFiles(ctx context.Context, cfg ResticConfig, snapshotID, path string) ListFilesResult
	Restore(ctx context.Context, cfg ResticConfig, snapshotID string, opts RestoreOptions) RestoreResult
	Forget(ctx context.Context, cfg ResticConfig, opts ForgetOptions) ForgetResult
	Stats(ctx context.Context, cfg ResticConfig) StatsResult
}

// Result is the part shared by every operation result.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Err converts a failed result into an UnavailableError. It returns nil on success.
func (r Result) Err(op string) error {
	if r.OK {
		return nil
	}
	return &UnavailableError{Op: op, Message: r.Message}
}

func failed(message string) Result {
	return Result{OK: false, Message: message}
}

// InitResult is returned by Init.
type InitResult struct {
	Result
	AlreadyInitialized bool `json:"already_initialized"`
}

// CheckResult is returned by Check.
type CheckResult struct {
	Result
}

// BackupRequest describes a single backup invocation.
type BackupRequest struct {
	SourcePath string
	Tags       []string
	// Host overrides the hostname recorded in the snapshot.
	Host string
}

// BackupResult is returned by Backup.
type BackupResult struct {
	Result
	SnapshotID          string        `json:"snapshot_id,omitempty"`
	Hostname            string        `json:"hostname,omitempty"`
	FilesNew            int           `json:"files_new"`
	FilesChanged        int           `json:"files_changed"`
	FilesUnmodified     int           `json:"files_unmodified"`
	BytesAdded          int64         `json:"bytes_added"`
	TotalFilesProcessed int           `json:"total_files_processed"`
	TotalBytesProcessed int64         `json:"total_bytes_processed"`
	Duration            time.Duration `json:"duration"`
}

// SnapshotInfo is a snapshot as listed by restic.
type SnapshotInfo struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Username string    `json:"username"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags,omitempty"`
	Summary  *struct {
		DataAdded           int64 `json:"data_added"`
		TotalBytesProcessed int64 `json:"total_bytes_processed"`
	} `json:"summary,omitempty"`
}

// Size returns the best size estimate restic reports for the snapshot, or 0.
func (s SnapshotInfo) Size() int64 {
	if s.Summary == nil {
		return 0
	}
	return s.Summary.TotalBytesProcessed
}

// SnapshotsResult is returned by Snapshots.
type SnapshotsResult struct {
	Result
	Snapshots []SnapshotInfo `json:"snapshots"`
}

// SnapshotFile represents a file or directory in a snapshot.
type SnapshotFile struct {
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Mode    uint32    `json:"mode"`
	ModTime time.Time `json:"mtime"`
}

// ListFilesResult is returned by ListFiles.
type ListFilesResult struct {
	Result
	Files []SnapshotFile `json:"files"`
}

// RestoreOptions configures a restore operation.
type RestoreOptions struct {
	TargetPath string
	Include    []string
}

// RestoreResult is returned by Restore.
type RestoreResult struct {
	Result
}

// ForgetOptions selects snapshots to forget, either explicitly by ID or by
// a retention policy.
type ForgetOptions struct {
	SnapshotIDs []string
	Policy      *models.RetentionPolicy
	Prune       bool
}

// ForgetResult is returned by Forget.
type ForgetResult struct {
	Result
	SnapshotsRemoved int      `json:"snapshots_removed"`
	SnapshotsKept    int      `json:"snapshots_kept"`
	RemovedIDs       []string `json:"removed_ids,omitempty"`
}

// Restic wraps the restic CLI.
type Restic struct {
	binary string
	logger zerolog.Logger
}

// NewRestic creates a new Restic wrapper.
func NewRestic(logger zerolog.Logger) *Restic {
	return NewResticWithBinary("restic", logger)
}

// NewResticWithBinary creates a new Restic wrapper with a custom binary path.
func NewResticWithBinary(binary string, logger zerolog.Logger) *Restic {
	return &Restic{
		binary: binary,
		logger: logger.With().Str("component", "restic").Logger(),
	}
}

// Init initializes a new repository. An already initialized repository is
// reported as success.
func (r *Restic) Init(ctx context.Context, cfg ResticConfig) InitResult {
	r.logger.Info().Str("repository", backends.Redact(cfg.Repository)).Msg("initializing repository")

	_, err := r.run(ctx, cfg, []string{"init", "--json"})
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already initialized") {
			r.logger.Debug().Msg("repository already initialized")
			return InitResult{
				Result:             Result{OK: true, Message: "repository already initialized"},
				AlreadyInitialized: true,
			}
		}
		return InitResult{Result: failed(msg)}
	}

	r.logger.Info().Msg("repository initialized successfully")
	return InitResult{Result: Result{OK: true, Message: "repository initialized successfully"}}
}

// Check verifies repository integrity.
func (r *Restic) Check(ctx context.Context, cfg ResticConfig) CheckResult {
	r.logger.Info().Str("repository", backends.Redact(cfg.Repository)).Msg("checking repository")

	if _, err := r.run(ctx, cfg, []string{"check"}); err != nil {
		return CheckResult{Result: failed(err.Error())}
	}
	return CheckResult{Result: Result{OK: true, Message: "repository check completed successfully"}}
}

// Backup backs up a single source path.
func (r *Restic) Backup(ctx context.Context, cfg ResticConfig, req BackupRequest) BackupResult {
	if req.SourcePath == "" {
		return BackupResult{Result: failed("source path is required")}
	}

	r.logger.Info().
		Str("source_path", req.SourcePath).
		Strs("tags", req.Tags).
		Msg("starting backup")

	start := time.Now()

	args := []string{"backup", "--json"}
	for _, tag := range req.Tags {
		args = append(args, "--tag", tag)
	}
	if req.Host != "" {
		args = append(args, "--host", req.Host)
	}
	args = append(args, req.SourcePath)

	output, err := r.run(ctx, cfg, args)
	if err != nil {
		return BackupResult{Result: failed(err.Error())}
	}

	result, err := parseBackupOutput(output)
	if err != nil {
		return BackupResult{Result: failed(err.Error())}
	}

	result.Hostname = req.Host
	if result.Hostname == "" {
		result.Hostname, _ = os.Hostname()
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}

	r.logger.Info().
		Str("snapshot_id", result.SnapshotID).
		Int("files_new", result.FilesNew).
		Int("files_changed", result.FilesChanged).
		Int64("bytes_added", result.BytesAdded).
		Dur("duration", result.Duration).
		Msg("backup completed")

	return result
}

// Snapshots lists all snapshots in the repository, oldest first.
func (r *Restic) Snapshots(ctx context.Context, cfg ResticConfig) SnapshotsResult {
	r.logger.Debug().Msg("listing snapshots")

	output, err := r.run(ctx, cfg, []string{"snapshots", "--json"})
	if err != nil {
		return SnapshotsResult{Result: failed(err.Error())}
	}

	snapshots := []SnapshotInfo{}
	if trimmed := bytes.TrimSpace(output); len(trimmed) > 0 && string(trimmed) != "null" {
		if err := json.Unmarshal(trimmed, &snapshots); err != nil {
			return SnapshotsResult{Result: failed(fmt.Sprintf("parse snapshots: %v", err))}
		}
	}

	r.logger.Debug().Int("count", len(snapshots)).Msg("snapshots listed")
	return SnapshotsResult{
		Result:    Result{OK: true, Message: fmt.Sprintf("%d snapshots", len(snapshots))},
		Snapshots: snapshots,
	}
}

// ListFiles lists files in a snapshot, optionally below a path.
func (r *Restic) ListFiles(ctx context.Context, cfg ResticConfig, snapshotID, path string) ListFilesResult {
	r.logger.Debug().
		Str("snapshot_id", snapshotID).
		Str("path", path).
		Msg("listing files in snapshot")

	args := []string{"ls", "--json", snapshotID}
	if path != "" {
		args = append(args, path)
	}

	output, err := r.run(ctx, cfg, args)
	if err != nil {
		return ListFilesResult{Result: failed(err.Error())}
	}

	files := []SnapshotFile{}
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var node struct {
			StructType string `json:"struct_type"`
			SnapshotFile
		}
		if err := json.Unmarshal(line, &node); err != nil {
			continue
		}
		// The first line describes the snapshot itself.
		if node.StructType == "snapshot" {
			continue
		}
		if node.Type == "file" || node.Type == "dir" || node.Type == "symlink" {
			files = append(files, node.SnapshotFile)
		}
	}

	return ListFilesResult{
		Result: Result{OK: true, Message: fmt.Sprintf("%d entries", len(files))},
		Files:  files,
	}
}

// Restore restores a snapshot to opts.TargetPath.
func (r *Restic) Restore(ctx context.Context, cfg ResticConfig, snapshotID string, opts RestoreOptions) RestoreResult {
	if opts.TargetPath == "" {
		return RestoreResult{Result: failed("target path is required")}
	}

	r.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("target_path", opts.TargetPath).
		Strs("include", opts.Include).
		Msg("starting restore")

	args := []string{"restore", snapshotID, "--target", opts.TargetPath}
	for _, include := range opts.Include {
		args = append(args, "--include", include)
	}

	if _, err := r.run(ctx, cfg, args); err != nil {
		return RestoreResult{Result: failed(err.Error())}
	}

	r.logger.Info().Msg("restore completed successfully")
	return RestoreResult{Result: Result{OK: true, Message: "snapshot restored successfully"}}
}

// Forget removes snapshots by ID or by retention policy.
func (r *Restic) Forget(ctx context.Context, cfg ResticConfig, opts ForgetOptions) ForgetResult {
	if len(opts.SnapshotIDs) == 0 && (opts.Policy == nil || opts.Policy.IsEmpty()) {
		return ForgetResult{Result: failed("no snapshots or retention policy given")}
	}

	args := []string{"forget", "--json"}
	if opts.Policy != nil {
		args = append(args, buildRetentionArgs(opts.Policy)...)
	}
	if opts.Prune {
		args = append(args, "--prune")
	}
	args = append(args, opts.SnapshotIDs...)

	r.logger.Info().
		Strs("snapshot_ids", opts.SnapshotIDs).
		Bool("prune", opts.Prune).
		Msg("forgetting snapshots")

	output, err := r.run(ctx, cfg, args)
	if err != nil {
		return ForgetResult{Result: failed(err.Error())}
	}

	result := parseForgetOutput(output)
	if len(opts.SnapshotIDs) > 0 && result.SnapshotsRemoved == 0 {
		// forget with explicit IDs prints nothing to parse.
		result.SnapshotsRemoved = len(opts.SnapshotIDs)
		result.RemovedIDs = opts.SnapshotIDs
	}
	result.Result = Result{OK: true, Message: "snapshots forgotten successfully"}
	return result
}

func buildRetentionArgs(policy *models.RetentionPolicy) []string {
	var args []string
	add := func(flag string, n int) {
		if n > 0 {
			args = append(args, flag, strconv.Itoa(n))
		}
	}
	add("--keep-last", policy.KeepLast)
	add("--keep-hourly", policy.KeepHourly)
	add("--keep-daily", policy.KeepDaily)
	add("--keep-weekly", policy.KeepWeekly)
	add("--keep-monthly", policy.KeepMonthly)
	add("--keep-yearly", policy.KeepYearly)
	return args
}

// run executes restic with the repository and password passed through the
// environment. ctx cancellation kills the process.
func (r *Restic) run(ctx context.Context, cfg ResticConfig, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	cmd.Env = append(cmd.Environ(),
		"RESTIC_REPOSITORY="+cfg.Repository,
		"RESTIC_PASSWORD="+cfg.Password,
	)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().
		Str("command", r.binary).
		Strs("args", args).
		Msg("executing restic command")

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("restic not available: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("restic %s aborted: %w", args[0], ctxErr)
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			return nil, fmt.Errorf("restic %s: %w", args[0], err)
		}
		return nil, fmt.Errorf("restic %s: %s", args[0], errMsg)
	}

	return stdout.Bytes(), nil
}

// backupSummary is the final message of restic backup --json.
type backupSummary struct {
	MessageType         string  `json:"message_type"`
	FilesNew            int     `json:"files_new"`
	FilesChanged        int     `json:"files_changed"`
	FilesUnmodified     int     `json:"files_unmodified"`
	DataAdded           int64   `json:"data_added"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          string  `json:"snapshot_id"`
}

// parseBackupOutput finds the summary line among restic's status messages.
func parseBackupOutput(output []byte) (BackupResult, error) {
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		var msg struct {
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.MessageType != "summary" {
			continue
		}

		var summary backupSummary
		if err := json.Unmarshal(line, &summary); err != nil {
			return BackupResult{}, fmt.Errorf("parse summary: %w", err)
		}

		return BackupResult{
			Result:              Result{OK: true, Message: "backup completed successfully"},
			SnapshotID:          summary.SnapshotID,
			FilesNew:            summary.FilesNew,
			FilesChanged:        summary.FilesChanged,
			FilesUnmodified:     summary.FilesUnmodified,
			BytesAdded:          summary.DataAdded,
			TotalFilesProcessed: summary.TotalFilesProcessed,
			TotalBytesProcessed: summary.TotalBytesProcessed,
			Duration:            time.Duration(summary.TotalDuration * float64(time.Second)),
		}, nil
	}

	return BackupResult{}, errors.New("no backup summary found in output")
}

// forgetGroup is one group of restic forget --json output.
type forgetGroup struct {
	Keep   []forgetSnapshot `json:"keep"`
	Remove []forgetSnapshot `json:"remove"`
}

type forgetSnapshot struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
}

func parseForgetOutput(output []byte) ForgetResult {
	var groups []forgetGroup
	if err := json.Unmarshal(bytes.TrimSpace(output), &groups); err != nil {
		groups = nil
		for _, line := range bytes.Split(output, []byte("\n")) {
			var lineGroups []forgetGroup
			if err := json.Unmarshal(line, &lineGroups); err == nil {
				groups = append(groups, lineGroups...)
			}
		}
	}

	var result ForgetResult
	for _, g := range groups {
		result.SnapshotsKept += len(g.Keep)
		result.SnapshotsRemoved += len(g.Remove)
		for _, s := range g.Remove {
			result.RemovedIDs = append(result.RemovedIDs, s.ShortID)
		}
	}
	return result
}
