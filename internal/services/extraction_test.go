package services

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/deinline/internal/deinline"
	"github.com/soochol/deinline/internal/extract"
	"github.com/soochol/deinline/internal/repository"
	"github.com/soochol/deinline/internal/storage"
)

const pngURL = "data:image/png;base64,iVBORw0KGgo="

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newJob(t *testing.T, dir, content string) deinline.Job {
	t.Helper()
	return deinline.Job{
		Input:     writeDoc(t, dir, "Original File/Original.html", content),
		Output:    filepath.Join(dir, "index.html"),
		AssetsDir: filepath.Join(dir, "assets"),
	}
}

func TestRunJob_RewritesDocument(t *testing.T) {
	dir := t.TempDir()
	job := newJob(t, dir, `<html><body><img src="`+pngURL+`"></body></html>`)
	runs := repository.NewMemoryRunRepository()
	svc := NewExtractionService(Options{}, runs)

	rec, err := svc.RunJob(context.Background(), job)
	require.NoError(t, err)

	out, err := os.ReadFile(job.Output)
	require.NoError(t, err)
	assert.Equal(t, `<html><body><img src="./assets/image_1.png"></body></html>`, string(out))

	data, err := os.ReadFile(filepath.Join(dir, "assets", "image_1.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(data))

	assert.Equal(t, deinline.RunStatusSuccess, rec.Status)
	assert.Equal(t, deinline.ReplaceLast, rec.Policy)
	assert.Equal(t, 1, rec.Matches)
	require.Len(t, rec.Images, 1)
	require.NotNil(t, rec.Audit)
	assert.Equal(t, 1, rec.Audit.AssetRefs)
	assert.Zero(t, rec.Audit.InlineLeft)
	assert.Empty(t, rec.Audit.MissingFiles)

	stored, err := runs.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deinline.RunStatusSuccess, stored.Status)
}

func TestRunJob_NoMatchesCopiesInput(t *testing.T) {
	dir := t.TempDir()
	content := "<p>plain ünïcode text, data:image/png;base64 without comma</p>\n"
	job := newJob(t, dir, content)
	svc := NewExtractionService(Options{}, nil)

	rec, err := svc.RunJob(context.Background(), job)
	require.NoError(t, err)

	out, err := os.ReadFile(job.Output)
	require.NoError(t, err)
	assert.Equal(t, content, string(out))

	entries, err := os.ReadDir(job.AssetsDir)
	require.NoError(t, err, "assets directory is created even with no matches")
	assert.Empty(t, entries)
	assert.Zero(t, rec.Matches)
}

func TestRunJob_PartialOnDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	bad := "data:image/gif;base64,R0lGOD"
	job := newJob(t, dir, bad+" "+pngURL)
	svc := NewExtractionService(Options{}, nil)

	rec, err := svc.RunJob(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, deinline.RunStatusPartial, rec.Status)
	require.Len(t, rec.Failures, 1)
	assert.Equal(t, 1, rec.Failures[0].Index)

	out, _ := os.ReadFile(job.Output)
	assert.Equal(t, bad+" ./assets/image_2.png", string(out))
}

func TestRunJob_MissingInput(t *testing.T) {
	dir := t.TempDir()
	runs := repository.NewMemoryRunRepository()
	svc := NewExtractionService(Options{}, runs)
	job := deinline.Job{
		Input:     filepath.Join(dir, "nope.html"),
		Output:    filepath.Join(dir, "index.html"),
		AssetsDir: filepath.Join(dir, "assets"),
	}

	rec, err := svc.RunJob(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, deinline.RunStatusFailed, rec.Status)

	_, statErr := os.Stat(job.Output)
	assert.True(t, os.IsNotExist(statErr), "no output written")

	stored, err := runs.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, deinline.RunStatusFailed, stored.Status)
}

func TestRunJob_UnwritableOutputKeepsImages(t *testing.T) {
	dir := t.TempDir()
	job := newJob(t, dir, pngURL)
	job.Output = filepath.Join(dir, "missing-dir", "index.html")
	svc := NewExtractionService(Options{}, nil)

	_, err := svc.RunJob(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write output")

	_, statErr := os.Stat(filepath.Join(dir, "assets", "image_1.png"))
	assert.NoError(t, statErr, "images written before the failure are not cleaned up")
}

func TestRunJob_CustomPrefix(t *testing.T) {
	dir := t.TempDir()
	job := newJob(t, dir, pngURL)
	job.AssetsDir = filepath.Join(dir, "static", "img")
	job.AssetsPrefix = "/static/img"
	svc := NewExtractionService(Options{Policy: deinline.ReplacePositional}, nil)

	rec, err := svc.RunJob(context.Background(), job)
	require.NoError(t, err)
	out, _ := os.ReadFile(job.Output)
	assert.Equal(t, "/static/img/image_1.png", string(out))
	assert.Equal(t, deinline.ReplacePositional, rec.Policy)
}

func TestRunJob_ProgressLines(t *testing.T) {
	dir := t.TempDir()
	job := newJob(t, dir, pngURL)
	svc := NewExtractionService(Options{}, nil)

	var lines []string
	ctx := extract.WithLogFunc(context.Background(), func(msg string) { lines = append(lines, msg) })
	_, err := svc.RunJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, []string{"✓ image_1.png saved"}, lines)
}

func TestProcess_UsesGivenStoreAndOptions(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	keep, err := extract.NewKeepFilter("index == 2")
	require.NoError(t, err)
	svc := NewExtractionService(Options{}, nil)

	job := deinline.Job{Name: "upload", AssetsPrefix: "./assets/run-1"}
	rec, doc, err := svc.Process(context.Background(), store, job, pngURL+" "+pngURL, Options{Policy: deinline.ReplaceFirst, Keep: keep})
	require.NoError(t, err)

	assert.Equal(t, "./assets/run-1/image_1.png "+pngURL, doc)
	assert.Equal(t, []int{2}, rec.Kept)
	assert.Equal(t, deinline.ReplaceFirst, rec.Policy)
	files, _ := store.List(context.Background())
	assert.Len(t, files, 1)
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	var jobs []deinline.Job
	for _, name := range []string{"detail", "overview", "landing"} {
		jobs = append(jobs, deinline.Job{
			Name:      name,
			Input:     writeDoc(t, dir, name+"/Original.html", `<img src="`+pngURL+`">`),
			Output:    filepath.Join(dir, name, "index.html"),
			AssetsDir: filepath.Join(dir, name, "assets"),
		})
	}

	var mu sync.Mutex
	var lines []string
	ctx := extract.WithLogFunc(context.Background(), func(msg string) {
		mu.Lock()
		lines = append(lines, msg)
		mu.Unlock()
	})

	svc := NewExtractionService(Options{}, nil)
	records, err := svc.RunBatch(ctx, jobs, 2)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, job := range jobs {
		assert.Equal(t, job.Name, records[i].Job.Name, "records keep job order")
		out, err := os.ReadFile(job.Output)
		require.NoError(t, err)
		assert.Equal(t, `<img src="./assets/image_1.png">`, string(out), "each job has its own counter")
	}

	sort.Strings(lines)
	assert.Equal(t, []string{
		"detail: ✓ image_1.png saved",
		"landing: ✓ image_1.png saved",
		"overview: ✓ image_1.png saved",
	}, lines)
}

func TestRunBatch_SharedAssetsRejected(t *testing.T) {
	dir := t.TempDir()
	jobs := []deinline.Job{
		{Name: "a", Input: "a.html", Output: filepath.Join(dir, "a.html"), AssetsDir: filepath.Join(dir, "assets")},
		{Name: "b", Input: "b.html", Output: filepath.Join(dir, "b.html"), AssetsDir: filepath.Join(dir, "assets") + "/"},
	}
	_, err := NewExtractionService(Options{}, nil).RunBatch(context.Background(), jobs, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share assets directory")
}

func TestRunBatch_FatalJobFailsBatch(t *testing.T) {
	dir := t.TempDir()
	good := deinline.Job{
		Name:      "good",
		Input:     writeDoc(t, dir, "good.html", "no images"),
		Output:    filepath.Join(dir, "good.out.html"),
		AssetsDir: filepath.Join(dir, "good-assets"),
	}
	bad := deinline.Job{
		Name:      "bad",
		Input:     filepath.Join(dir, "missing.html"),
		Output:    filepath.Join(dir, "bad.out.html"),
		AssetsDir: filepath.Join(dir, "bad-assets"),
	}

	records, err := NewExtractionService(Options{}, nil).RunBatch(context.Background(), []deinline.Job{good, bad}, 1)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "job bad:"), err.Error())
	require.Len(t, records, 2)
}

type orphanRepo struct {
	*repository.MemoryRunRepository
	calls int
}

func (r *orphanRepo) MarkOrphanedRunsFailed(context.Context) (int64, error) {
	r.calls++
	return 2, nil
}

func TestCleanupOrphanedRuns(t *testing.T) {
	repo := &orphanRepo{MemoryRunRepository: repository.NewMemoryRunRepository()}
	NewExtractionService(Options{}, repo).CleanupOrphanedRuns(context.Background())
	assert.Equal(t, 1, repo.calls)

	// Memory-only history has nothing to clean.
	NewExtractionService(Options{}, repository.NewMemoryRunRepository()).CleanupOrphanedRuns(context.Background())
	NewExtractionService(Options{}, nil).CleanupOrphanedRuns(context.Background())
}
