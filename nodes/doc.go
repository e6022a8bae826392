// Package nodes provides the built-in node kinds and the catalog that
// registers them: start, end, passthrough, merge, transform, branch, delay,
// custom, plus the optional subflow and http kinds, and config schemas for
// the host-supplied code and loop kinds.
package nodes
