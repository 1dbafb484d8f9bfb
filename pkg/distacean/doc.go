// Package distacean is the module's embedding surface, named after the
// Rust prototype this codebase was distilled from.
package distacean
