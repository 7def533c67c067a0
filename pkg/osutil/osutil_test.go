// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExist(t *testing.T) {
	if f := os.Args[0]; !IsExist(f) {
		t.Fatalf("executable %v does not exist", f)
	}
	if f := os.Args[0] + "-foo-bar-buz"; IsExist(f) {
		t.Fatalf("file %v exists", f)
	}
}

func TestWriteFileDurable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data")
	require.NoError(t, WriteFileDurable(file, []byte("first")))
	require.NoError(t, WriteFileDurable(file, []byte("second")))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	files, err := ListDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"data"}, files)
}

func TestWriteFileDurableMissingDir(t *testing.T) {
	err := WriteFileDurable(filepath.Join(t.TempDir(), "nope", "data"), []byte("x"))
	assert.Error(t, err)
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, IsTempFile(".abc.tmp-12345"))
	assert.False(t, IsTempFile("abc"))
	assert.False(t, IsTempFile(".lock"))
}

func TestListDirSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, WriteFile(filepath.Join(dir, name), nil))
	}
	files, err := ListDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, files)
}

func TestMemMappedFile(t *testing.T) {
	f, mem, err := CreateMemMappedFile(4096)
	require.NoError(t, err)
	mem[0] = 42
	mem2, err := MapSharedFile(f, 4096)
	require.NoError(t, err)
	assert.Equal(t, byte(42), mem2[0])
	require.NoError(t, CloseMemMappedFile(f, mem))
}

func TestLongPipe(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("pipe size can be changed only on linux")
	}
	r, w, err := LongPipe()
	require.NoError(t, err)
	defer r.Close()
	// More than the default 64KB pipe capacity fits without a reader.
	data := make([]byte, 100<<10)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, got, len(data))
}
