package pkgmgr

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeArchive(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestExtractFormats(t *testing.T) {
	files := map[string]string{"pkg/package.json": "{}", "pkg/lib/util.lua": "return 1"}

	var plain bytes.Buffer
	writeTar(t, &plain, files)

	var zst bytes.Buffer
	zw, err := zstd.NewWriter(&zst)
	require.NoError(t, err)
	writeTar(t, zw, files)
	require.NoError(t, zw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	writeTar(t, xw, files)
	require.NoError(t, xw.Close())

	tests := map[string][]byte{
		"p.tar":     plain.Bytes(),
		"p.tar.gz":  tarGz(t, files),
		"p.tgz":     tarGz(t, files),
		"p.tar.zst": zst.Bytes(),
		"p.tar.xz":  xzBuf.Bytes(),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			dest := t.TempDir()
			require.NoError(t, extractArchive(context.Background(), writeArchive(t, name, data), name, dest))

			got, err := os.ReadFile(filepath.Join(dest, "pkg", "lib", "util.lua"))
			require.NoError(t, err)
			assert.Equal(t, "return 1", string(got))
		})
	}
}

func TestExtractRejectsUnsafeEntries(t *testing.T) {
	tests := map[string]*tar.Header{
		"parent escape": {Name: "../evil", Mode: 0o644, Typeflag: tar.TypeReg},
		"nested escape": {Name: "a/../../evil", Mode: 0o644, Typeflag: tar.TypeReg},
		"symlink":       {Name: "link", Linkname: "/etc/passwd", Typeflag: tar.TypeSymlink},
		"hard link":     {Name: "hard", Linkname: "other", Typeflag: tar.TypeLink},
	}
	for name, hdr := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			tw := tar.NewWriter(&buf)
			require.NoError(t, tw.WriteHeader(hdr))
			require.NoError(t, tw.Close())

			dest := t.TempDir()
			err := extractArchive(context.Background(), writeArchive(t, "x.tar", buf.Bytes()), "x.tar", dest)
			assert.Error(t, err)
			assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil"))
		})
	}
}

func TestExtractUnsupported(t *testing.T) {
	err := extractArchive(context.Background(), writeArchive(t, "p.zip", []byte("PK")), "p.zip", t.TempDir())
	assert.ErrorIs(t, err, errUnsupportedArchive)
}

func TestVerifyChecksum(t *testing.T) {
	sum := sha256.Sum256([]byte("payload"))

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"match", "sha256:239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5", false},
		{"upper case", "sha256:239F59ED55E737C77147CF55AD0C1B030B6D7EE748A7426952F9B852D5A935E5", false},
		{"mismatch", "sha256:00", true},
		{"no prefix", "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyChecksum(tt.want, sum[:])
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrChecksumMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPackageRoot(t *testing.T) {
	flat := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(flat, "package.json"), []byte("{}"), 0o644))
	root, err := packageRoot(flat)
	require.NoError(t, err)
	assert.Equal(t, flat, root)

	nested := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(nested, "pkg-1.0.0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "pkg-1.0.0", "package.json"), []byte("{}"), 0o644))
	root, err = packageRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(nested, "pkg-1.0.0"), root)

	ambiguous := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ambiguous, "one"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(ambiguous, "two"), 0o755))
	_, err = packageRoot(ambiguous)
	assert.Error(t, err)
}
