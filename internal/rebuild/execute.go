package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"cratedig/internal/fileutil"
	"cratedig/internal/identity"
	"cratedig/internal/services"
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total, free uint64, err error)

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

// checkFreeSpace refuses to start a copy rebuild when the output
// filesystem is already below the configured free-space floor.
func (e *Engine) checkFreeSpace() error {
	total, free, err := e.statfs(e.opts.OutputRoot)
	if err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "statfs", e.opts.OutputRoot, err)
	}
	if total == 0 {
		return nil
	}
	ratio := float64(free) / float64(total)
	if ratio < e.opts.MinFreeRatio {
		return services.Wrap(services.ErrValidation, "rebuild", "free space",
			fmt.Sprintf("output filesystem has %.1f%% free, below the %.1f%% floor", ratio*100, e.opts.MinFreeRatio*100), nil)
	}
	return nil
}

// execState is the shared accounting for the label workers.
type execState struct {
	mu        sync.Mutex
	total     int
	done      int
	placed    int
	unchanged int
	completed []string
	firstErr  error
	progress  Progress
	cancel    context.CancelFunc
}

func (s *execState) tick(placed bool) {
	s.mu.Lock()
	if placed {
		s.placed++
	} else {
		s.unchanged++
	}
	s.done++
	done, total, progress := s.done, s.total, s.progress
	s.mu.Unlock()
	if progress != nil {
		progress(done, total)
	}
}

func (s *execState) complete(labels []string) {
	s.mu.Lock()
	s.completed = append(s.completed, labels...)
	s.mu.Unlock()
}

// fail records the first real failure and stops the other workers.
// Cancellation fallout from that stop never masks the original error.
func (s *execState) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil && !errors.Is(err, context.Canceled) {
		s.firstErr = err
	}
	s.mu.Unlock()
	s.cancel()
}

// execute materializes the plan, one worker per label directory, at
// most Workers directories in flight. The first failure cancels the
// remaining workers; directories already finished keep their
// manifests.
func (e *Engine) execute(ctx context.Context, pl *plan, summary *Summary) error {
	if len(pl.placements) == 0 {
		return nil
	}
	workers := e.opts.Workers
	if workers > len(pl.dirs) {
		workers = len(pl.dirs)
	}
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acc := &execState{total: len(pl.placements), progress: e.opts.Progress, cancel: cancel}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, dir := range pl.dirs {
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-execCtx.Done():
				return
			}
			defer func() { <-sem }()
			if err := e.materializeDir(execCtx, dir, pl.byDir[dir], acc); err != nil {
				acc.fail(err)
				return
			}
			acc.complete(pl.dirLabels[dir])
		}(dir)
	}
	wg.Wait()

	summary.Placed = acc.placed
	summary.Unchanged = acc.unchanged
	summary.CompletedLabels = acc.completed
	return acc.firstErr
}

// materializeDir places every file of one label directory and then
// writes its manifest: sorted destination paths, atomic temp + rename.
func (e *Engine) materializeDir(ctx context.Context, dir string, places []*placement, acc *execState) error {
	hasher, err := identity.NewHasher(e.opts.HashAlgorithm)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "rebuild", "hash algorithm", e.opts.HashAlgorithm, err)
	}
	if err := os.MkdirAll(filepath.Join(e.opts.OutputRoot, dir), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "create label dir", dir, err)
	}
	lines := make([]string, 0, len(places))
	for _, p := range places {
		if err := ctx.Err(); err != nil {
			return err
		}
		placed, err := e.place(p, hasher)
		if err != nil {
			return services.Wrap(services.ErrTransient, "rebuild", "place file", p.destRel, err)
		}
		acc.tick(placed)
		lines = append(lines, p.destRel)
	}
	sort.Strings(lines)
	manifest := strings.Join(lines, "\n") + "\n"
	target := filepath.Join(e.opts.OutputRoot, ManifestDirName, dir+".txt")
	if err := fileutil.WriteFileAtomic(target, []byte(manifest), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "write manifest", target, err)
	}
	return nil
}

// place puts one file at its destination. It reports placed=false when
// the destination already held the same content (append mode's
// "unchanged"); a stale destination is replaced.
func (e *Engine) place(p *placement, hasher *identity.Hasher) (bool, error) {
	src := p.entry.AbsPath
	dst := filepath.Join(e.opts.OutputRoot, filepath.FromSlash(p.destRel))

	switch e.opts.Mode {
	case ModeSymlink:
		if target, err := os.Readlink(dst); err == nil {
			if target == src {
				return false, nil
			}
			if err := os.Remove(dst); err != nil {
				return false, err
			}
		} else if _, statErr := os.Lstat(dst); statErr == nil {
			// a non-link is sitting where the link belongs
			if err := os.Remove(dst); err != nil {
				return false, err
			}
		}
		if err := os.Symlink(src, dst); err != nil {
			return false, err
		}
		return true, nil

	case ModeHardlink:
		srcInfo, err := os.Stat(src)
		if err != nil {
			return false, err
		}
		if dstInfo, err := os.Stat(dst); err == nil {
			if os.SameFile(srcInfo, dstInfo) {
				return false, nil
			}
			if err := os.Remove(dst); err != nil {
				return false, err
			}
		}
		if err := os.Link(src, dst); err != nil {
			return false, err
		}
		return true, nil

	default: // copy
		if _, err := os.Stat(dst); err == nil {
			if digest, err := hasher.HashFile(dst); err == nil && digest == p.entry.Hash {
				return false, nil
			}
		}
		if err := fileutil.CopyFileVerified(src, dst); err != nil {
			return false, err
		}
		return true, nil
	}
}
