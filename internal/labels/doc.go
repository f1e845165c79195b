// Package labels resolves the class names behind a predictor's output
// vector and the optional canonical collapse table that folds raw model
// classes into coarser labels (for example China into Crash).
//
// Class names come from, in order: an explicit mapping file (its length
// must equal the model's output dimension), a configured fallback list
// when its length matches, or generated class_N placeholders. Collapse
// lookups are Unicode case-folded; stored labels keep their original
// casing.
package labels
