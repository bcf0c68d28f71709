package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my report (final).pdf", "my_report_final_.pdf"},
		{"../../etc/passwx", "passwx"},
		{"..\\..\\windows\\system.ini", "system.ini"},
		{"a..b", "ab"},
		{"...", "file"},
		{"", "file"},
		{".hidden", "hidden"},
		{"naïve café.txt", "na_ve_caf_.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestSplitExt(t *testing.T) {
	stem, ext := SplitExt("Quarterly Report.PDF")
	assert.Equal(t, "Quarterly_Report", stem)
	assert.Equal(t, ".PDF", ext)

	stem, ext = SplitExt("weird.p df")
	assert.Equal(t, "weird.p_df", stem)
	assert.Equal(t, "", ext)

	stem, ext = SplitExt(strings.Repeat("x", 200) + ".txt")
	assert.Len(t, stem, 64)
	assert.Equal(t, ".txt", ext)
}

func TestFileKeyStaysInNamespace(t *testing.T) {
	for _, name := range []string{
		"../../etc/passwx",
		"..%2F..%2Fetc",
		"a/b/c/../../d.txt",
		"..\\..\\boot.ini",
		"/absolute/path.bin",
		"",
	} {
		key := FileKey("ws1", "user1", name)
		require.NoError(t, ValidateKey(key), "name %q produced %q", name, key)
		assert.True(t, strings.HasPrefix(key, "workspace/ws1/users/user1/"), key)
		assert.Equal(t, 5, strings.Count(key, "/")+1, "key %q must have exactly five segments", key)
	}
}

func TestFileKeySanitizesIdentitySegments(t *testing.T) {
	key := FileKey("../w", "u/../../x", "f.txt")
	assert.True(t, strings.HasPrefix(key, "workspace/w/users/u_x/"), key)
}

func TestFileKeyIsUniquePerCall(t *testing.T) {
	assert.NotEqual(t, FileKey("w", "u", "same.txt"), FileKey("w", "u", "same.txt"))
}

func TestFileKeyResolvesInsideFSRoot(t *testing.T) {
	s := newTestFSStore(t)
	key := FileKey("w", "u", "../../etc/passwx")

	_, err := s.Put(context.Background(), key, strings.NewReader("x"), 1)
	require.NoError(t, err)

	p, err := s.path(key)
	require.NoError(t, err)
	rel, err := filepath.Rel(s.Base(), p)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."))
}
