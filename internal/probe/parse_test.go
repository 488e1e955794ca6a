package probe

import "testing"

type fakeResolver struct {
	exists  map[string]bool
	matches map[string][]string
}

func (f *fakeResolver) Exists(name string) bool { return f.exists[name] }

func (f *fakeResolver) Match(pattern string) ([]string, error) {
	return f.matches[pattern], nil
}

func (f *fakeResolver) HasParameter(symbol, kernelType string) (bool, error) {
	return false, nil
}

func TestParseProbeSpec_Valid(t *testing.T) {
	resolver := &fakeResolver{
		exists: map[string]bool{
			"consume_skb": true,
			"tcp_connect": true,
		},
		matches: map[string][]string{
			"tcp_v6_*": {"tcp_v6_connect", "tcp_v6_do_rcv"},
		},
	}

	cases := []struct {
		name string
		spec string
		want []Probe
	}{
		{
			name: "bare symbol defaults to kprobe",
			spec: "consume_skb",
			want: []Probe{{Kind: Kprobe, Symbol: "consume_skb"}},
		},
		{
			name: "explicit kprobe",
			spec: "kprobe:tcp_connect",
			want: []Probe{{Kind: Kprobe, Symbol: "tcp_connect"}},
		},
		{
			name: "short kprobe token",
			spec: "k:tcp_connect",
			want: []Probe{{Kind: Kprobe, Symbol: "tcp_connect"}},
		},
		{
			name: "kprobe wildcard expands",
			spec: "kprobe:tcp_v6_*",
			want: []Probe{
				{Kind: Kprobe, Symbol: "tcp_v6_connect"},
				{Kind: Kprobe, Symbol: "tcp_v6_do_rcv"},
			},
		},
		{
			name: "bare raw tracepoint",
			spec: "skb:kfree_skb",
			want: []Probe{{Kind: RawTracepoint, Group: "skb", Name: "kfree_skb"}},
		},
		{
			name: "explicit raw tracepoint",
			spec: "tp:skb:kfree_skb",
			want: []Probe{{Kind: RawTracepoint, Group: "skb", Name: "kfree_skb"}},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseProbeSpec(c.spec, resolver)
			if err != nil {
				t.Fatalf("ParseProbeSpec(%q): %v", c.spec, err)
			}
			if len(got) != len(c.want) {
				t.Fatalf("got %d probes, want %d: %+v", len(got), len(c.want), got)
			}
			for i := range got {
				g, w := got[i], c.want[i]
				if g.Kind != w.Kind || g.Symbol != w.Symbol || g.Group != w.Group || g.Name != w.Name {
					t.Errorf("probe[%d] = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}

func TestParseProbeSpec_Invalid(t *testing.T) {
	resolver := &fakeResolver{exists: map[string]bool{}}

	cases := []string{
		"",
		"kprobe:",
		"tp:",
		"tp:skb:",
		":kfree_skb_reason",
		"kretprobe:tcp_*",
		"tp:kfree_*",
		"kprobe:skb:kfree_skb",
		"bogus_type:skb:kfree_skb",
	}

	for _, spec := range cases {
		t.Run(spec, func(t *testing.T) {
			if _, err := ParseProbeSpec(spec, resolver); err == nil {
				t.Errorf("ParseProbeSpec(%q): expected error, got none", spec)
			}
		})
	}
}

func TestParseProbeSpec_UnknownSymbolRejected(t *testing.T) {
	resolver := &fakeResolver{exists: map[string]bool{}}
	if _, err := ParseProbeSpec("kprobe:no_such_fn", resolver); err == nil {
		t.Error("expected unknown exact-match symbol to be rejected")
	}
}

func TestParseProbeSpec_WildcardWithoutResolver(t *testing.T) {
	if _, err := ParseProbeSpec("kprobe:tcp_v6_*", nil); err == nil {
		t.Error("expected wildcard expansion without a resolver to fail")
	}
}

func TestParseProbeSpec_WildcardNoMatches(t *testing.T) {
	resolver := &fakeResolver{matches: map[string][]string{}}
	if _, err := ParseProbeSpec("kprobe:nothing_matches_*", resolver); err == nil {
		t.Error("expected a wildcard with zero matches to fail")
	}
}
