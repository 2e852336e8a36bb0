package gitops_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/finetune-harness/internal/gitops"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	c := exec.Command("git", args...)
	c.Dir = dir
	out, err := c.CombinedOutput()
	require.NoError(t, err, "%s", out)
	return string(out)
}

func createTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "config", "user.email", "test@test.com")
	git(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "examples", "seq2seq"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "examples", "seq2seq", "finetune_trainer.py"), []byte("print('hi')\n"), 0o644))
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-m", "initial")
	return dir
}

func TestDescribeClean(t *testing.T) {
	dir := createTestRepo(t)
	want := git(t, dir, "rev-parse", "HEAD")

	rev, err := gitops.Describe(filepath.Join(dir, "examples", "seq2seq"))
	require.NoError(t, err)
	assert.Equal(t, want[:40], rev.Commit)
	assert.False(t, rev.Dirty)
	assert.Equal(t, rev.Commit, rev.String())
}

func TestDescribeDirty(t *testing.T) {
	dir := createTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "examples", "seq2seq", "finetune_trainer.py"), []byte("print('changed')\n"), 0o644))

	rev, err := gitops.Describe(dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
	assert.Equal(t, rev.Commit+"-dirty", rev.String())
}

func TestDescribeNotARepo(t *testing.T) {
	_, err := gitops.Describe(t.TempDir())
	assert.Error(t, err)
}
