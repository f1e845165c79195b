package routing

// Duplicate-handling policies. Tag keeps duplicate instances in play
// but routes later ones to misc; skip drops them; off disables
// detection entirely.
const (
	DedupTag  = "tag"
	DedupSkip = "skip"
	DedupOff  = "off"
)

// Deduper tracks content hashes in arrival order and enforces the
// at-most-one-non-misc rule per hash. Not safe for concurrent use; run
// one per pass.
type Deduper struct {
	policy string
	misc   string
	seen   map[string]struct{}
}

// NewDeduper returns a tracker for the given policy. An unknown policy
// behaves as off.
func NewDeduper(policy, miscLabel string) *Deduper {
	if miscLabel == "" {
		miscLabel = DefaultMiscLabel
	}
	return &Deduper{
		policy: policy,
		misc:   miscLabel,
		seen:   make(map[string]struct{}),
	}
}

// Observe records a hash and reports whether it was already seen.
// Empty hashes (failed identity) are never duplicates. Always false
// when the policy is off.
func (d *Deduper) Observe(hash string) bool {
	if hash == "" || d.policy == DedupOff || (d.policy != DedupTag && d.policy != DedupSkip) {
		return false
	}
	if _, dup := d.seen[hash]; dup {
		return true
	}
	d.seen[hash] = struct{}{}
	return false
}

// Suppress applies duplicate suppression to one decision in index
// order. The first instance of a hash keeps its decision unchanged.
// Later instances route to misc with reason duplicate under the tag
// policy, or are dropped (keep=false) under skip.
func (d *Deduper) Suppress(hash string, decision Decision) (suppressed Decision, keep bool) {
	if !d.Observe(hash) {
		return decision, true
	}
	if d.policy == DedupSkip {
		return Decision{}, false
	}
	return Decision{
		Label:      d.misc,
		Reason:     ReasonDuplicate,
		MiscRouted: true,
	}, true
}
