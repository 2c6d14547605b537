package service

import (
	"context"
	"testing"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListRuns(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	repo := env.localRepo("/srv/restic")

	running := models.NewRun(repo.ID, nil, "/data", time.Now().UTC())
	failed := models.NewRun(repo.ID, nil, "/data", time.Now().UTC())
	failed.Fail(time.Now().UTC(), "boom")
	env.store.runs = []*models.Run{running, failed}

	runs, err := env.svc.ListRuns(ctx, RunQuery{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, defaultRunLimit, env.store.lastFilter.Limit)

	runs, err = env.svc.ListRuns(ctx, RunQuery{RepositoryID: &repo.ID, Status: models.RunStatusFailed, Limit: 10000})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, failed.ID, runs[0].ID)
	assert.Equal(t, maxRunLimit, env.store.lastFilter.Limit)

	_, err = env.svc.ListRuns(ctx, RunQuery{Status: "paused"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.svc.ListRuns(ctx, RunQuery{Limit: -1})
	require.ErrorAs(t, err, &verr)
}

func TestGetRun(t *testing.T) {
	env := newTestEnv()
	run := models.NewRun(uuid.New(), nil, "/data", time.Now().UTC())
	env.store.runs = []*models.Run{run}

	got, err := env.svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	_, err = env.svc.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, backup.ErrMissingEntity)
}

func TestSettings(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	settings, err := env.svc.UpdateSettings(ctx, map[string]string{"hostname": "nas"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hostname": "nas"}, settings)

	settings, err = env.svc.UpdateSettings(ctx, map[string]string{"theme": "dark"})
	require.NoError(t, err)
	assert.Len(t, settings, 2)

	got, err := env.svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, got)

	var verr *ValidationError
	_, err = env.svc.UpdateSettings(ctx, map[string]string{})
	require.ErrorAs(t, err, &verr)
	_, err = env.svc.UpdateSettings(ctx, map[string]string{" ": "x"})
	require.ErrorAs(t, err, &verr)

	env.store.writeErr = errWrite
	_, err = env.svc.UpdateSettings(ctx, map[string]string{"hostname": "other"})
	assert.ErrorIs(t, err, backup.ErrPersistenceFailure)
}
