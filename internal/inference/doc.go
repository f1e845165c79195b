// Package inference drives a full classification run over the sample
// archive: discover candidate files, hash them (reusing the persistent
// hash cache when stat metadata is unchanged), extract features and
// score batches through the predictor, route each prediction to an
// assigned label, and stream the results into a run directory holding
// the immutable index and the run summary.
//
// Per-file failures are recorded as index entries with an error
// descriptor and never abort the run. Cancellation is cooperative: the
// pipeline stops feeding new work, lets in-flight batches finish, and
// still writes the summary with the interrupted flag set.
package inference
