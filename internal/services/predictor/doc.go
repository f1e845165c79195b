// Package predictor bridges to the external feature extractor and
// classifier, one long-lived subprocess speaking newline-delimited JSON
// over stdin/stdout. The core never links against any numeric
// framework; whatever can answer hello, extract, and predict requests
// can serve.
//
// Requests and responses carry correlation ids and exactly one request
// is in flight at a time. A request timeout or a protocol violation
// kills the subprocess; the next request starts a fresh one, so a
// wedged model costs the affected files, never the run.
package predictor
