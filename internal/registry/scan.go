package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/deplug/internal/manifest"
)

// Problem describes a package directory that could not be loaded.
type Problem struct {
	Dir string
	Err error
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %v", p.Dir, p.Err)
}

// scanDir loads every package directory under dir. Hidden entries,
// including install staging directories, are skipped. A missing dir is
// an empty catalog.
func scanDir(ctx context.Context, dir string) (map[string]*manifest.Manifest, []Problem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*manifest.Manifest{}, nil, nil
		}
		return nil, nil, err
	}

	var (
		mu       sync.Mutex
		found    = make(map[string]*manifest.Manifest, len(entries))
		problems []Problem
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		pkgDir := filepath.Join(dir, entry.Name())
		dirName := entry.Name()

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			m, err := manifest.LoadDir(pkgDir)
			if err == nil && m.Name() != dirName {
				err = fmt.Errorf("manifest name %q does not match directory", m.Name())
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				problems = append(problems, Problem{Dir: pkgDir, Err: err})
				return nil
			}
			found[m.Name()] = m
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(problems, func(i, j int) bool { return problems[i].Dir < problems[j].Dir })
	return found, problems, nil
}
