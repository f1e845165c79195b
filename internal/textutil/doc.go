// Package textutil provides filename and label sanitization helpers.
//
// Assigned labels become directory names in the materialized tree, and
// archive file names are reproduced under them; both must be safe path
// segments regardless of what the model or a human override supplied.
package textutil
