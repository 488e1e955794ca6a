package probe

// SymbolResolver is the external kernel-symbol/BTF inspector the Probe
// Manager depends on but does not implement (spec §1: "assumed as a
// queryable oracle"). It answers two questions: does a traceable kernel
// function exist under this exact name, and which traceable functions
// match a kprobe wildcard pattern.
type SymbolResolver interface {
	// Exists reports whether name is a known, traceable kernel symbol.
	Exists(name string) bool
	// Match expands a wildcard pattern (containing '*') to every matching
	// traceable kernel symbol.
	Match(pattern string) ([]string, error)
	// HasParameter reports whether symbol's argument list contains a
	// parameter of the given kernel type (e.g. "struct sk_buff *"),
	// used to decide whether a probe is "useful" (spec §4.5).
	HasParameter(symbol, kernelType string) (bool, error)
}
