package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/rs/zerolog"
)

// RetentionEnforcer applies retention policies to repositories.
type RetentionEnforcer struct {
	executor Executor
	logger   zerolog.Logger
}

// NewRetentionEnforcer creates a new RetentionEnforcer.
func NewRetentionEnforcer(executor Executor, logger zerolog.Logger) *RetentionEnforcer {
	return &RetentionEnforcer{
		executor: executor,
		logger:   logger.With().Str("component", "retention").Logger(),
	}
}

// RetentionResult contains the results of a retention enforcement operation.
type RetentionResult struct {
	Applied          bool     `json:"applied"`
	SnapshotsRemoved int      `json:"snapshots_removed"`
	SnapshotsKept    int      `json:"snapshots_kept"`
	RemovedIDs       []string `json:"removed_ids,omitempty"`
}

// ApplyPolicy forgets snapshots not kept by the policy and optionally
// prunes unreferenced data.
func (r *RetentionEnforcer) ApplyPolicy(ctx context.Context, cfg ResticConfig, policy *models.RetentionPolicy, prune bool) (*RetentionResult, error) {
	if err := ValidateRetentionPolicy(policy); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("policy", RetentionPolicyDescription(policy)).
		Bool("prune", prune).
		Msg("applying retention policy")

	res := r.executor.Forget(ctx, cfg, ForgetOptions{Policy: policy, Prune: prune})
	if err := res.Err("forget"); err != nil {
		r.logger.Error().Err(err).Msg("failed to apply retention policy")
		return nil, err
	}

	r.logger.Info().
		Int("snapshots_removed", res.SnapshotsRemoved).
		Int("snapshots_kept", res.SnapshotsKept).
		Msg("retention policy applied")

	return &RetentionResult{
		Applied:          true,
		SnapshotsRemoved: res.SnapshotsRemoved,
		SnapshotsKept:    res.SnapshotsKept,
		RemovedIDs:       res.RemovedIDs,
	}, nil
}

// ValidateRetentionPolicy checks that a policy keeps something and has no
// negative rules.
func ValidateRetentionPolicy(policy *models.RetentionPolicy) error {
	if policy == nil {
		return errors.New("retention policy is nil")
	}

	rules := []struct {
		name  string
		value int
	}{
		{"keep_last", policy.KeepLast},
		{"keep_hourly", policy.KeepHourly},
		{"keep_daily", policy.KeepDaily},
		{"keep_weekly", policy.KeepWeekly},
		{"keep_monthly", policy.KeepMonthly},
		{"keep_yearly", policy.KeepYearly},
	}
	for _, rule := range rules {
		if rule.value < 0 {
			return fmt.Errorf("%s cannot be negative", rule.name)
		}
	}

	if policy.IsEmpty() {
		return errors.New("at least one retention rule must be specified")
	}
	return nil
}

// RetentionPolicyDescription returns a human-readable description of the policy.
func RetentionPolicyDescription(policy *models.RetentionPolicy) string {
	if policy == nil {
		return "No retention policy"
	}

	var parts []string
	if policy.KeepLast > 0 {
		parts = append(parts, fmt.Sprintf("last %d", policy.KeepLast))
	}
	if policy.KeepHourly > 0 {
		parts = append(parts, fmt.Sprintf("%d hourly", policy.KeepHourly))
	}
	if policy.KeepDaily > 0 {
		parts = append(parts, fmt.Sprintf("%d daily", policy.KeepDaily))
	}
	if policy.KeepWeekly > 0 {
		parts = append(parts, fmt.Sprintf("%d weekly", policy.KeepWeekly))
	}
	if policy.KeepMonthly > 0 {
		parts = append(parts, fmt.Sprintf("%d monthly", policy.KeepMonthly))
	}
	if policy.KeepYearly > 0 {
		parts = append(parts, fmt.Sprintf("%d yearly", policy.KeepYearly))
	}

	if len(parts) == 0 {
		return "Empty retention policy"
	}
	return "Keep: " + strings.Join(parts, ", ")
}
