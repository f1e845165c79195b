package rebuild

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"cratedig/internal/index"
	"cratedig/internal/logging"
	"cratedig/internal/routing"
	"cratedig/internal/services"
	"cratedig/internal/textutil"
)

// placement is one planned file in the output tree.
type placement struct {
	entry   index.Entry
	label   string
	destRel string // slash-separated, relative to the output root
}

// plan is the deterministic outcome of the routing pass: every
// materializable entry with its final label and collision-free
// destination, grouped by label directory, plus the pass counters.
type plan struct {
	placements        []*placement
	byDir             map[string][]*placement
	dirLabels         map[string][]string
	dirs              []string // sorted
	errored           []index.Entry
	truncated         bool
	collisions        int
	skippedErrors     int
	skippedDuplicates int
	overridesApplied  int
	distribution      map[string]int
}

// buildPlan reads the index in order, re-routes every entry with the
// rebuild's routing config and overrides, suppresses duplicate hashes,
// and assigns destinations. A truncated final line is tolerated with a
// warning; a malformed line mid-file is fatal.
func (e *Engine) buildPlan(logger *slog.Logger) (*plan, error) {
	reader, err := index.OpenReader(e.opts.IndexPath)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, services.Wrap(services.ErrNotFound, "rebuild", "open index", e.opts.IndexPath, err)
		case errors.Is(err, services.ErrValidation):
			return nil, err
		default:
			return nil, services.Wrap(services.ErrTransient, "rebuild", "open index", e.opts.IndexPath, err)
		}
	}
	defer reader.Close()

	miscLabel := e.opts.Routing.MiscLabel
	if miscLabel == "" {
		miscLabel = routing.DefaultMiscLabel
	}
	deduper := routing.NewDeduper(e.opts.Dedup, miscLabel)

	pl := &plan{
		byDir:        make(map[string][]*placement),
		dirLabels:    make(map[string][]string),
		distribution: make(map[string]int),
	}
	usedNames := make(map[string]map[string]struct{})

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, index.ErrTruncated) {
			pl.truncated = true
			logger.Warn("index ends with a truncated line; entries after it are ignored",
				logging.String(logging.FieldPath, e.opts.IndexPath),
				logging.Error(err))
			break
		}
		if err != nil {
			return nil, err
		}

		if entry.Failed() {
			pl.errored = append(pl.errored, entry)
			pl.skippedErrors++
			continue
		}

		decision := routing.Route(entry.Prediction(), entry.Hash, e.opts.Routing, e.opts.Overrides)
		final, keep := deduper.Suppress(entry.Hash, decision)
		if !keep {
			pl.skippedDuplicates++
			continue
		}
		if final.Reason == routing.ReasonOverride {
			pl.overridesApplied++
		}

		dir := textutil.LabelDir(final.Label)
		name, collided := freeName(usedNames, dir, filepath.Base(entry.RelativePath))
		if collided {
			pl.collisions++
		}
		p := &placement{entry: entry, label: final.Label, destRel: path.Join(dir, name)}
		pl.placements = append(pl.placements, p)
		if _, seen := pl.byDir[dir]; !seen {
			pl.dirs = append(pl.dirs, dir)
		}
		pl.byDir[dir] = append(pl.byDir[dir], p)
		if !slices.Contains(pl.dirLabels[dir], final.Label) {
			pl.dirLabels[dir] = append(pl.dirLabels[dir], final.Label)
		}
		pl.distribution[final.Label]++
	}
	sort.Strings(pl.dirs)
	return pl, nil
}

// freeName reserves a collision-free file name inside dir, suffixing
// _1, _2, ... before the extension in plan order.
func freeName(used map[string]map[string]struct{}, dir, base string) (string, bool) {
	names := used[dir]
	if names == nil {
		names = make(map[string]struct{})
		used[dir] = names
	}
	if _, taken := names[base]; !taken {
		names[base] = struct{}{}
		return base, false
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, taken := names[candidate]; !taken {
			names[candidate] = struct{}{}
			return candidate, true
		}
	}
}
