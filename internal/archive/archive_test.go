package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/finetune-harness/internal/archive"
)

func populate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"trainer_state.json":          `{"log_history": []}`,
		"test_generations.txt":        "Salut lume\n",
		"checkpoint-2/config.json":    `{}`,
		"checkpoint-2/optimizer.json": `{}`,
	}
	for rel, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func TestLocalStoreCopiesTree(t *testing.T) {
	src := populate(t)
	root := t.TempDir()
	store := &archive.LocalStore{Root: root}

	loc, err := store.Save(context.Background(), "runs/r1/fast", src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "runs", "r1", "fast"), loc)

	data, err := os.ReadFile(filepath.Join(loc, "test_generations.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Salut lume\n", string(data))
	assert.FileExists(t, filepath.Join(loc, "checkpoint-2", "optimizer.json"))
}

func TestLocalStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&archive.LocalStore{Root: t.TempDir()}).Save(ctx, "k", populate(t))
	assert.ErrorIs(t, err, context.Canceled)
}

type failing struct{}

func (failing) Save(context.Context, string, string) (string, error) {
	return "", errors.New("bucket unreachable")
}

func TestMultiStopsAtFirstError(t *testing.T) {
	src := populate(t)
	m := archive.Multi{&archive.LocalStore{Root: t.TempDir()}, failing{}}
	locs, err := m.Save(context.Background(), "k", src)
	require.Error(t, err)
	assert.Len(t, locs, 1)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "seq2seq/runs/r1/fast/trainer_state.json",
		archive.ObjectKey("seq2seq/", "runs/r1/fast", "trainer_state.json"))
	assert.Equal(t, "k/a.txt", archive.ObjectKey("", "k", "a.txt"))
}
