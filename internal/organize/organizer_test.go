package organize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMove_IntoCategory(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "inbox", "paper.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o644))

	o := New(filepath.Join(tmp, "paper"), nil)
	got := o.Move(src, "Computer Vision")

	want := filepath.Join(tmp, "paper", "Computer Vision", "paper.pdf")
	assert.Equal(t, want, got)
	assert.FileExists(t, want)
	assert.NoFileExists(t, src)
}

func TestMove_AlreadyInPlace(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "paper")
	src := filepath.Join(root, "NLP", "bert.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o644))

	o := New(root, nil)
	assert.Equal(t, src, o.Move(src, "NLP"))
	assert.FileExists(t, src)
}

func TestMove_MissingFileKeepsPath(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "ghost.pdf")

	o := New(filepath.Join(tmp, "paper"), nil)
	assert.Equal(t, src, o.Move(src, "NLP"))
}

func TestMove_KeepsExistingFile(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "paper")
	dest := filepath.Join(root, "Others", "a.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Others", "a_1.pdf"), []byte("older"), 0o644))
	src := filepath.Join(tmp, "a.pdf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))

	o := New(root, nil)
	got := o.Move(src, "Others")
	assert.Equal(t, filepath.Join(root, "Others", "a_2.pdf"), got)
	assert.NoFileExists(t, src)

	for path, want := range map[string]string{
		dest: "old",
		filepath.Join(root, "Others", "a_1.pdf"): "older",
		got: "new",
	} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data), path)
	}
}

func TestMove_SameBasenameFromTwoFolders(t *testing.T) {
	tmp := t.TempDir()
	o := New(filepath.Join(tmp, "paper"), nil)
	var moved []string
	for _, sub := range []string{"2023", "2024"} {
		src := filepath.Join(tmp, "inbox", sub, "report.pdf")
		require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
		require.NoError(t, os.WriteFile(src, []byte(sub), 0o644))
		moved = append(moved, o.Move(src, "NLP"))
	}
	require.Len(t, moved, 2)
	assert.NotEqual(t, moved[0], moved[1])
	for i, sub := range []string{"2023", "2024"} {
		data, err := os.ReadFile(moved[i])
		require.NoError(t, err)
		assert.Equal(t, sub, string(data))
	}
}

func TestFreeName(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.pdf")
	got, err := freeName(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	require.NoError(t, os.WriteFile(p, nil, 0o644))
	got, err = freeName(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x_1.pdf"), got)
}

func TestNew_DefaultRoot(t *testing.T) {
	assert.Equal(t, "./paper", New("", nil).Root())
}

func TestSafeDirName(t *testing.T) {
	assert.Equal(t, "Computer Vision", SafeDirName(" Computer Vision "))
	assert.Equal(t, "I_O", SafeDirName("I/O"))
	assert.Equal(t, "_", SafeDirName(".."))
	assert.Equal(t, "_", SafeDirName(""))
}
