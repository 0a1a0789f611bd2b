package pkgmgr

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ChecksumPrefix is the only checksum algorithm accepted in catalog entries.
const ChecksumPrefix = "sha256:"

var errUnsupportedArchive = errors.New("unsupported archive format")

// verifyChecksum compares sum against a "sha256:<hex>" checksum.
func verifyChecksum(want string, sum []byte) error {
	hexWant, ok := strings.CutPrefix(want, ChecksumPrefix)
	if !ok || hexWant == "" {
		return fmt.Errorf("%w: catalog checksum %q is not %s<hex>", ErrChecksumMismatch, want, ChecksumPrefix)
	}
	got := hex.EncodeToString(sum)
	if !strings.EqualFold(got, hexWant) {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, hexWant, got)
	}
	return nil
}

// download copies an archive to path and verifies its checksum.
func download(ctx context.Context, src io.Reader, path, checksum string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: src})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("downloading archive: %w", err)
	}
	return verifyChecksum(checksum, h.Sum(nil))
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// decompressor picks a reader from the archive name's extension.
func decompressor(name string, r io.Reader) (io.Reader, func(), error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz: %w", err)
		}
		return xr, func() {}, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(lower, ".tar"):
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", errUnsupportedArchive, name)
	}
}

// extractArchive unpacks the tar archive at path into dest. Entries that
// would land outside dest, and links, are rejected.
func extractArchive(ctx context.Context, path, name, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(name, f)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("archive entry %q: links are not allowed", header.Name)
		default:
			// Device nodes, fifos and the like carry nothing a package needs.
		}
	}
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("archive entry %q is absolute", name)
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the package directory", name)
	}
	return target, nil
}
