package pathsafety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airouter/airouter/internal/routerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_AcceptsPlainRelativePath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	r := New(root)
	got, err := r.Resolve("main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "main.go"), got)
}

func TestResolve_RejectsTraversalOutsideRoot(t *testing.T) {
	root := t.TempDir()
	r := New(root)

	_, err := r.Resolve("../../etc/passwd")
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindRejected))
}

func TestResolve_RejectsRestrictedPrefix(t *testing.T) {
	r := New("/")
	_, err := r.Resolve("/etc/shadow")
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindRejected))
}

// TestResolve_BlocksSegmentButAcceptsLookalike verifies that resolving a
// directory literally named "build" is rejected, but a file whose name
// merely starts with "build" is accepted since the check is segment-equal.
func TestResolve_BlocksSegmentButAcceptsLookalike(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build_scripts.go"), []byte("package main"), 0o644))

	r := New(root)

	_, err := r.Resolve("build")
	require.Error(t, err)
	assert.True(t, routerr.IsKind(err, routerr.KindRejected))

	got, err := r.Resolve("build_scripts.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "build_scripts.go"), got)
}

func TestResolve_NormalizesWindowsAndWSLForms(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "sub", "file.go"), []byte("package sub"), 0o644))

	r := New(root)

	got, err := r.Resolve(`pkg\sub\file.go`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "pkg", "sub", "file.go"), got)

	got2, err := r.Resolve(`\\wsl.localhost\Ubuntu` + root + `/pkg/sub/file.go`)
	require.NoError(t, err)
	assert.Equal(t, got, got2)
}

// TestResolve_Idempotent verifies resolve(resolve(P)) == resolve(P).
func TestResolve_Idempotent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))

	r := New(root)
	first, err := r.Resolve("a.go")
	require.NoError(t, err)

	second, err := r.Resolve(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
