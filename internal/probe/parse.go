package probe

import (
	"fmt"
	"strings"
)

// ParseProbeSpec turns a user-supplied probe specification of the shape
// "[TYPE:]TARGET" into one or more Probe values (spec §4.5).
//
// If TYPE is absent it defaults to kprobe, unless TARGET contains exactly
// one ':' in which case it defaults to raw_tracepoint (a bare
// "group:name" form). Recognized TYPE tokens are kprobe|k, kretprobe|kr,
// raw_tracepoint|tp. Only kprobe targets may contain '*' wildcards,
// expanded by resolver into one Probe per matching symbol; every other
// type requires an exact target.
func ParseProbeSpec(spec string, resolver SymbolResolver) ([]Probe, error) {
	if spec == "" {
		return nil, fmt.Errorf("probe: empty probe specification")
	}

	kind, target, ok := splitTypeAndTarget(spec)
	if !ok {
		return nil, fmt.Errorf("probe: invalid TYPE in %q", spec)
	}
	if target == "" {
		return nil, fmt.Errorf("probe: empty target in %q", spec)
	}

	switch kind {
	case Kprobe:
		return buildKprobes(target, resolver, false)
	case Kretprobe:
		return buildKprobes(target, resolver, true)
	case RawTracepoint:
		return buildRawTracepoint(target)
	default:
		return nil, fmt.Errorf("probe: unsupported TYPE for spec %q", spec)
	}
}

func splitTypeAndTarget(spec string) (Kind, string, bool) {
	idx := strings.Index(spec, ":")
	if idx >= 0 {
		if kind, ok := typeToken(spec[:idx]); ok {
			return kind, spec[idx+1:], true
		}
	}

	// TYPE absent: a bare "group:name" (exactly one ':') defaults to
	// raw_tracepoint; everything else defaults to kprobe.
	if strings.Count(spec, ":") == 1 {
		return RawTracepoint, spec, true
	}
	return Kprobe, spec, true
}

func typeToken(tok string) (Kind, bool) {
	switch tok {
	case "kprobe", "k":
		return Kprobe, true
	case "kretprobe", "kr":
		return Kretprobe, true
	case "raw_tracepoint", "tp":
		return RawTracepoint, true
	default:
		return 0, false
	}
}

func buildKprobes(target string, resolver SymbolResolver, retprobe bool) ([]Probe, error) {
	if strings.Contains(target, ":") {
		kind := "kprobe"
		if retprobe {
			kind = "kretprobe"
		}
		return nil, fmt.Errorf("probe: %s target %q cannot contain ':'", kind, target)
	}

	if !strings.Contains(target, "*") {
		if resolver != nil && !resolver.Exists(target) {
			return nil, fmt.Errorf("probe: unknown symbol %q", target)
		}
		return []Probe{newSymbolProbe(target, retprobe)}, nil
	}

	if retprobe {
		return nil, fmt.Errorf("probe: wildcards are only supported on kprobe, not kretprobe (%q)", target)
	}
	if resolver == nil {
		return nil, fmt.Errorf("probe: cannot expand wildcard %q without a symbol resolver", target)
	}
	symbols, err := resolver.Match(target)
	if err != nil {
		return nil, fmt.Errorf("probe: resolving wildcard %q: %w", target, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("probe: wildcard %q matched no symbols", target)
	}
	probes := make([]Probe, 0, len(symbols))
	for _, s := range symbols {
		probes = append(probes, newSymbolProbe(s, false))
	}
	return probes, nil
}

func newSymbolProbe(symbol string, retprobe bool) Probe {
	kind := Kprobe
	if retprobe {
		kind = Kretprobe
	}
	return Probe{Kind: kind, Symbol: symbol}
}

func buildRawTracepoint(target string) ([]Probe, error) {
	if strings.Contains(target, "*") {
		return nil, fmt.Errorf("probe: wildcards are not supported on raw_tracepoint (%q)", target)
	}
	group, name, ok := strings.Cut(target, ":")
	if !ok || group == "" || name == "" {
		return nil, fmt.Errorf("probe: raw_tracepoint target %q must be \"group:name\"", target)
	}
	return []Probe{{Kind: RawTracepoint, Group: group, Name: name}}, nil
}
