// Package overrides loads manual correction records. Each record pins
// a content hash to a corrected label and wins over every routing rule.
// The file is JSON lines so corrections can be appended by hand or by
// scripts without rewriting history; when the same hash appears twice
// the later record wins and the earlier one is reported.
package overrides
