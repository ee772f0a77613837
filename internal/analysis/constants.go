// Package analysis provides tools for analyzing ARM64 instruction streams.
// It includes register tracking, cross-reference resolution and symbol lookup.
package analysis

// Constants for analysis operations
const (
	// MaxAliasDepth bounds how many AliasOf/Computed links Resolve follows
	MaxAliasDepth = 32

	// SymbolOffsetLimit is the largest distance from the nearest symbol that
	// still gets a "name+offset" label
	SymbolOffsetLimit = 1024

	// NumRegisters is the number of tracked register slots (x0-x30 plus sp/zr)
	NumRegisters = 32

	// ZeroRegister is the slot shared by sp, xzr and wzr. It is never tracked.
	ZeroRegister = 31
)
