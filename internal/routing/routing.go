package routing

import (
	"cratedig/internal/labels"
)

// Reason codes recorded with every decision.
const (
	ReasonTop1           = "top1"
	ReasonCollapsed      = "canonical-collapsed"
	ReasonOverride       = "override"
	ReasonBelowThreshold = "below-threshold"
	ReasonOutOfTarget    = "out-of-target"
	ReasonDuplicate      = "duplicate"
)

// DefaultMiscLabel is the bucket for filtered and low-confidence files
// when no other name is configured.
const DefaultMiscLabel = "misc"

// Prediction is the immutable model output a decision derives from:
// the top-1 class and its confidence. Full probability vectors stay in
// the index; the rules never consult them.
type Prediction struct {
	Top1 string
	Conf float64
}

// Config carries the routing rules for one run. TargetLabels empty
// means no target filtering. Collapse may be nil for pass-through.
type Config struct {
	MiscThreshold float64
	TargetLabels  []string
	EmitAll       bool
	MiscLabel     string
	Collapse      *labels.Collapse
}

func (c Config) miscLabel() string {
	if c.MiscLabel == "" {
		return DefaultMiscLabel
	}
	return c.MiscLabel
}

// targetSet builds the folded membership set. The misc label is always
// implicitly a member of the allowed output set but never a routing
// target.
func (c Config) targetSet() map[string]struct{} {
	if len(c.TargetLabels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.TargetLabels))
	for _, label := range c.TargetLabels {
		set[labels.Fold(label)] = struct{}{}
	}
	return set
}

// Decision is the routing outcome for one file.
type Decision struct {
	Label          string
	Reason         string
	MiscRouted     bool
	BelowThreshold bool
	OutOfTarget    bool
}

// Route assigns a label to one prediction. Precedence, each step
// short-circuiting:
//
//  1. An override for the content hash wins outright, even when the
//     corrected label would otherwise be filtered.
//  2. The raw top-1 label collapses through the canonical table;
//     labels absent from the table pass through unchanged.
//  3. A label outside the target set routes to misc unless emit-all is
//     set or no target set is configured.
//  4. Confidence strictly below the misc threshold routes to misc;
//     equality stays.
//  5. Otherwise the label stands, reason top1 or canonical-collapsed.
func Route(pred Prediction, hash string, cfg Config, overrideMap map[string]string) Decision {
	misc := cfg.miscLabel()

	if corrected, ok := overrideMap[hash]; ok {
		return Decision{
			Label:      corrected,
			Reason:     ReasonOverride,
			MiscRouted: corrected == misc,
		}
	}

	label := pred.Top1
	label, collapsed := cfg.Collapse.Apply(label)

	if set := cfg.targetSet(); set != nil && !cfg.EmitAll {
		if _, ok := set[labels.Fold(label)]; !ok {
			return Decision{
				Label:       misc,
				Reason:      ReasonOutOfTarget,
				MiscRouted:  true,
				OutOfTarget: true,
			}
		}
	}

	if pred.Conf < cfg.MiscThreshold {
		return Decision{
			Label:          misc,
			Reason:         ReasonBelowThreshold,
			MiscRouted:     true,
			BelowThreshold: true,
		}
	}

	reason := ReasonTop1
	if collapsed {
		reason = ReasonCollapsed
	}
	return Decision{Label: label, Reason: reason, MiscRouted: label == misc}
}
