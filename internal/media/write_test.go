// SPDX-License-Identifier: MIT

package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("file 'a.wav'\n")))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file 'a.wav'\n", string(got))

	// replacing an existing file keeps it whole
	require.NoError(t, WriteFileAtomic(path, []byte("file 'b.wav'\n")))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file 'b.wav'\n", string(got))
}

func TestWriteFileAtomicBadDir(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "list.txt"), []byte("x"))
	assert.Error(t, err)
}
