// Package config loads, normalizes, and validates cratedig configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files strictly (unknown keys are errors), and honours
// the CRATEDIG_CONFIG environment fallback. The Config type centralizes every
// knob both phases need, so archive/output roots, predictor wiring, and
// routing rules are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
