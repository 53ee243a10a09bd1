package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deinline/internal/deinline"
)

// openTestDB connects to DEINLINE_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DEINLINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DEINLINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, d.Migrate(ctx))
	t.Cleanup(func() {
		d.Pool.ExecContext(context.Background(), `DELETE FROM extraction_runs WHERE id LIKE 'test-%'`)
		d.Close()
	})
	return d
}

func TestRunArgs_EncodesEmptySlices(t *testing.T) {
	args, err := runArgs(&deinline.RunRecord{ID: "r1", Status: deinline.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, args, 12)
	assert.Equal(t, "r1", args[0])
	assert.Equal(t, []byte("[]"), args[5])
	assert.Equal(t, []byte("[]"), args[6])
	assert.Equal(t, []byte("[]"), args[7])
	assert.Nil(t, args[8], "absent audit is stored as NULL")
}

func TestDB_RunLifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rec := &deinline.RunRecord{
		ID:        "test-" + time.Now().Format("150405.000000"),
		Job:       deinline.Job{Name: "detail", Input: "Original.html", Output: "index.html", AssetsDir: "assets"},
		Policy:    deinline.ReplaceLast,
		Status:    deinline.RunStatusRunning,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, d.CreateRun(ctx, rec))

	rec.Images = []deinline.Image{{Index: 1, Subtype: "png", Filename: "image_1.png", Ref: "./assets/image_1.png", Size: 8}}
	rec.Audit = &deinline.Audit{AssetRefs: 1}
	rec.Finish(nil)
	require.NoError(t, d.UpdateRun(ctx, rec))

	got, err := d.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deinline.RunStatusSuccess, got.Status)
	assert.Equal(t, "detail", got.Job.Name)
	require.Len(t, got.Images, 1)
	assert.Equal(t, "image_1.png", got.Images[0].Filename)
	require.NotNil(t, got.Audit)
	assert.Equal(t, 1, got.Audit.AssetRefs)

	runs, total, err := d.ListRuns(ctx, 10, 0, string(deinline.RunStatusSuccess))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, runs)

	_, err = d.GetRun(ctx, "test-missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}
