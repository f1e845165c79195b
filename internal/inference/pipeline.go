package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cratedig/internal/hashcache"
	"cratedig/internal/identity"
	"cratedig/internal/index"
	"cratedig/internal/logging"
	"cratedig/internal/routing"
	"cratedig/internal/services"
	"cratedig/internal/services/predictor"
)

// Error categories recorded in the run summary breakdown.
const (
	categoryWalk    = "walk"
	categoryHash    = "hash"
	categoryExtract = "extract"
	categoryPredict = "predict"
)

// hashedFile is a discovery candidate after the hashing stage.
type hashedFile struct {
	file   identity.FileIdentity
	reused bool
	err    error
}

// pendingFile is a hashed candidate queued for the next batch.
type pendingFile struct {
	file      identity.FileIdentity
	duplicate bool
}

// runState is the mutable accounting for one pass. It is touched only
// by the consume goroutine, so no locking is needed.
type runState struct {
	writer    *index.Writer
	summary   *index.RunSummary
	logger    *slog.Logger
	routeCfg  routing.Config
	opCtx     context.Context
	total     int
	done      int
	confSum   float64
	confCount int
}

// process runs the pipeline over the discovered files: a feeder, a
// pool of hash workers, and a single consumer that batches, scores,
// routes, and appends entries. It returns whether the pass was cut
// short by cancellation and any resource failure that stopped it.
func (e *Engine) process(ctx context.Context, logger *slog.Logger, files []identity.FileIdentity, writer *index.Writer, summary *index.RunSummary) (bool, error) {
	workers := e.cfg.Inference.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := e.cfg.Inference.QueueSize
	if queueSize < 1 {
		queueSize = index.DefaultQueueSize
	}

	work := make(chan identity.FileIdentity)
	hashed := make(chan hashedFile, queueSize)

	var hashWG sync.WaitGroup
	hashWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer hashWG.Done()
			e.hashWorker(ctx, work, hashed)
		}()
	}
	go func() {
		hashWG.Wait()
		close(hashed)
	}()
	go func() {
		defer close(work)
		for _, f := range files {
			select {
			case work <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	return e.consume(ctx, logger, hashed, writer, summary, len(files))
}

// hashWorker digests files from the work channel, reusing cached
// digests when the stat metadata still matches.
func (e *Engine) hashWorker(ctx context.Context, work <-chan identity.FileIdentity, hashed chan<- hashedFile) {
	hasher, hasherErr := identity.NewHasher(e.cfg.Inference.HashAlgorithm)
	for f := range work {
		if ctx.Err() != nil {
			return
		}
		hf := hashedFile{file: f}
		switch {
		case hasherErr != nil:
			hf.err = hasherErr
		default:
			if cached, ok := e.cachedDigest(f); ok {
				hf.file.Hash = cached.Hash
				hf.file.Algorithm = cached.Algorithm
				hf.reused = true
				e.cacheTouch(f.RelPath)
			} else if digest, err := hasher.HashFile(f.AbsPath); err != nil {
				hf.err = err
			} else {
				hf.file.Hash = digest
				hf.file.Algorithm = hasher.Algorithm()
				e.cacheStore(hf.file)
			}
		}
		hashed <- hf
	}
}

// cachedDigest returns a still-valid cache entry for f, if reuse is
// enabled and the stat metadata matches.
func (e *Engine) cachedDigest(f identity.FileIdentity) (hashcache.Entry, bool) {
	if e.cache == nil || !e.cfg.Inference.SkipUnchanged {
		return hashcache.Entry{}, false
	}
	entry, ok := e.cache.Lookup(f.RelPath)
	if !ok || !entry.CurrentFor(e.cfg.Inference.HashAlgorithm, f.Size, f.ModTime) {
		return hashcache.Entry{}, false
	}
	return entry, true
}

func (e *Engine) cacheTouch(relPath string) {
	if e.cache == nil {
		return
	}
	e.cache.Touch(relPath, time.Now().UTC())
}

func (e *Engine) cacheStore(f identity.FileIdentity) {
	if e.cache == nil {
		return
	}
	entry := hashcache.Entry{
		Hash:      f.Hash,
		Algorithm: f.Algorithm,
		Size:      f.Size,
		Mtime:     f.ModTime,
		Path:      f.RelPath,
	}
	if err := e.cache.Store(entry); err != nil {
		e.logger.Debug("hash cache store failed", logging.String(logging.FieldPath, f.RelPath), logging.Error(err))
	}
}

// consume drains the hashed channel: dedup bookkeeping, batching, and
// batch scoring. After cancellation or a resource failure it keeps
// draining without processing so the hash workers never block.
func (e *Engine) consume(ctx context.Context, logger *slog.Logger, hashed <-chan hashedFile, writer *index.Writer, summary *index.RunSummary, total int) (bool, error) {
	batchSize := e.cfg.Inference.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	miscLabel := e.cfg.Routing.MiscLabel
	if miscLabel == "" {
		miscLabel = routing.DefaultMiscLabel
	}
	deduper := routing.NewDeduper(e.cfg.Inference.Dedup, miscLabel)

	st := &runState{
		writer:  writer,
		summary: summary,
		logger:  logger,
		routeCfg: routing.Config{
			MiscThreshold: e.cfg.Routing.MiscThreshold,
			TargetLabels:  e.cfg.Routing.TargetLabels,
			EmitAll:       e.cfg.Routing.EmitAll,
			MiscLabel:     e.cfg.Routing.MiscLabel,
			Collapse:      e.collapse,
		},
		// In-flight batches finish after a cancel; only new work stops.
		opCtx: context.WithoutCancel(ctx),
		total: total,
	}

	batch := make([]pendingFile, 0, batchSize)
	interrupted := false
	var failure error
	for hf := range hashed {
		if interrupted || failure != nil {
			continue
		}
		if ctx.Err() != nil {
			interrupted = true
			continue
		}
		if hf.reused {
			summary.FilesReusedHash++
		}
		if hf.err != nil {
			logger.Warn("hash failed",
				logging.String(logging.FieldPath, hf.file.RelPath),
				logging.Error(hf.err))
			entry := newEntry(hf.file)
			entry.SetError(fmt.Sprintf("%s: %v", categoryHash, hf.err))
			failure = e.emit(st, entry, categoryHash)
			continue
		}
		if deduper.Observe(hf.file.Hash) {
			if e.cfg.Inference.Dedup == routing.DedupSkip {
				summary.FilesSkippedDuplicate++
				e.tick(st)
				continue
			}
			batch = append(batch, pendingFile{file: hf.file, duplicate: true})
		} else {
			batch = append(batch, pendingFile{file: hf.file})
		}
		if len(batch) >= batchSize {
			failure = e.flush(st, batch)
			batch = batch[:0]
		}
	}
	if failure == nil && !interrupted && len(batch) > 0 {
		failure = e.flush(st, batch)
	}
	if st.confCount > 0 {
		summary.MeanConfidence = st.confSum / float64(st.confCount)
	}
	return interrupted, failure
}

// flush extracts and scores one batch. Extraction failures drop files
// from the batch individually; a predict failure errors every file
// that made it to scoring. Either way the rest of the run continues.
func (e *Engine) flush(st *runState, batch []pendingFile) error {
	features := make([]predictor.Features, len(batch))
	vectors := make([][]float64, 0, len(batch))
	live := make([]int, 0, len(batch))
	for i, p := range batch {
		feats, err := e.extractor.Extract(st.opCtx, p.file.AbsPath)
		if err != nil {
			st.logger.Warn("feature extraction failed",
				logging.String(logging.FieldPath, p.file.RelPath),
				logging.Error(err))
			entry := newEntry(p.file)
			entry.Duplicate = p.duplicate
			entry.SetError(fmt.Sprintf("%s: %v", categoryExtract, err))
			if err := e.emit(st, entry, categoryExtract); err != nil {
				return err
			}
			continue
		}
		features[i] = feats
		vectors = append(vectors, feats.Vector)
		live = append(live, i)
	}
	if len(live) == 0 {
		return nil
	}

	probs, err := e.predictor.Predict(st.opCtx, vectors)
	if err == nil && len(probs) != len(live) {
		err = fmt.Errorf("predictor returned %d probability vectors for %d inputs", len(probs), len(live))
	}
	if err != nil {
		st.logger.Warn("batch prediction failed",
			logging.Int("batch_size", len(live)),
			logging.Error(err))
		for _, i := range live {
			entry := e.buildEntry(st, batch[i], features[i], nil)
			entry.SetError(fmt.Sprintf("%s: %v", categoryPredict, err))
			if err := e.emit(st, entry, categoryPredict); err != nil {
				return err
			}
		}
		return nil
	}

	for k, i := range live {
		row := probs[k]
		if len(row) != len(e.classes) {
			entry := e.buildEntry(st, batch[i], features[i], nil)
			entry.SetError(fmt.Sprintf("%s: model returned %d probabilities for %d classes", categoryPredict, len(row), len(e.classes)))
			if err := e.emit(st, entry, categoryPredict); err != nil {
				return err
			}
			continue
		}
		entry := e.buildEntry(st, batch[i], features[i], row)
		if err := e.emit(st, entry, ""); err != nil {
			return err
		}
	}
	st.logger.Debug("batch scored", logging.Int("batch_size", len(live)))
	return nil
}

// emit appends one entry and updates accounting. A non-empty category
// marks the entry as errored; success entries feed the label
// distribution and the confidence mean.
func (e *Engine) emit(st *runState, entry index.Entry, errCategory string) error {
	if err := st.writer.Append(st.opCtx, entry); err != nil {
		return services.Wrap(services.ErrTransient, "inference", "append index entry", entry.RelativePath, err)
	}
	if errCategory != "" {
		st.summary.CountError(errCategory)
	} else {
		st.summary.FilesProcessed++
		st.summary.CountLabel(entry.AssignedLabel)
		st.confSum += entry.ConfTop1
		st.confCount++
	}
	e.tick(st)
	return nil
}

func (e *Engine) tick(st *runState) {
	st.done++
	if e.progress != nil {
		e.progress(st.done, st.total)
	}
}

// buildEntry assembles the index entry for one scored file. A nil
// probs leaves the prediction fields zero for entries that will carry
// an error descriptor.
func (e *Engine) buildEntry(st *runState, p pendingFile, feats predictor.Features, probs []float64) index.Entry {
	entry := newEntry(p.file)
	entry.Duplicate = p.duplicate
	entry.DurationSec = feats.DurationSec
	entry.RMSDB = feats.RMSDB
	entry.SpectralCentroid = feats.SpectralCentroid
	entry.SpectralRolloff = feats.SpectralRolloff
	if probs == nil {
		return entry
	}
	entry.Probs = probs
	entry.TopK = rankTopK(probs, e.classes, e.cfg.Predictor.TopK)
	if len(entry.TopK) > 0 {
		entry.LabelTop1 = entry.TopK[0].Label
		entry.ConfTop1 = entry.TopK[0].Prob
	}
	entry.ApplyDecision(routing.Route(entry.Prediction(), entry.Hash, st.routeCfg, e.overrides))
	return entry
}

func newEntry(f identity.FileIdentity) index.Entry {
	return index.Entry{
		RelativePath: f.RelPath,
		AbsPath:      f.AbsPath,
		Hash:         f.Hash,
		Size:         f.Size,
		Mtime:        f.ModTime,
	}
}

// rankTopK ranks class indexes by probability, descending, the lower
// index winning ties so ranking is deterministic.
func rankTopK(probs []float64, classes []string, k int) index.TopK {
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})
	if k <= 0 || k > len(order) {
		k = len(order)
	}
	ranked := make(index.TopK, 0, k)
	for _, i := range order[:k] {
		ranked = append(ranked, index.TopKEntry{Label: classes[i], Prob: probs[i]})
	}
	return ranked
}
