package event

import (
	"fmt"
	"strings"
	"time"
)

// TimeFormat selects how CommonEvent.Timestamp is rendered in text form.
type TimeFormat uint8

const (
	TimeMonotonic TimeFormat = iota
	TimeUtc
)

// DisplayFormat configures ToText. Multiline selects newline-separated
// trailing sections (the "multi-line" CLI format); otherwise sections are
// joined with a single space (spec §4.3).
type DisplayFormat struct {
	Multiline       bool
	Time            TimeFormat
	MonotonicOffset time.Duration // offset from boot-time CLOCK_MONOTONIC to wall clock, for TimeUtc
}

func (f DisplayFormat) sep() string {
	if f.Multiline {
		return "\n"
	}
	return " "
}

// ToText renders the event following the fixed display dispatch of spec
// §4.3: Common always first; then Kernel xor Userspace; then Tracking xor
// SkbTracking; then SkbDrop; then a stack-trace block if Kernel carries
// one; then the remaining sections in ascending SectionId order.
func (e *Event) ToText(f DisplayFormat) string {
	var b strings.Builder

	writeCommon(&b, e.CommonSec, f)

	switch {
	case e.present[Kernel]:
		b.WriteByte(' ')
		writeKernel(&b, e.KernelSec)
	case e.present[Userspace]:
		b.WriteByte(' ')
		writeUserspace(&b, e.UserspaceSec)
	}

	switch {
	case e.present[Tracking]:
		b.WriteString(f.sep())
		fmt.Fprintf(&b, "tracking_id %d", e.TrackingSec.TrackingId)
	case e.present[SkbTracking]:
		b.WriteString(f.sep())
		fmt.Fprintf(&b, "orig_head 0x%x ts %d", e.SkbTrackSec.OrigHead, e.SkbTrackSec.Timestamp)
	}

	if e.present[SkbDrop] {
		b.WriteString(f.sep())
		fmt.Fprintf(&b, "drop [%s] orig_head 0x%x", e.SkbDropSec.Reason, e.SkbDropSec.Tracking.OrigHead)
	}

	if e.present[Kernel] && len(e.KernelSec.StackTrace) > 0 {
		b.WriteString(f.sep())
		writeStackTrace(&b, e.KernelSec.StackTrace, f.Multiline)
	}

	for id := Skb; id < sectionIdMax; id++ {
		if !e.present[id] {
			continue
		}
		b.WriteString(f.sep())
		switch id {
		case Skb:
			writeSkb(&b, e.SkbSec)
		case Ovs:
			writeOvs(&b, e.OvsSec)
		case Nft:
			writeNft(&b, e.NftSec)
		case Ct:
			writeCt(&b, e.CtSec)
		case Startup:
			fmt.Fprintf(&b, "startup retis_version %s", e.StartupSec.RetisVersion)
		}
	}

	return b.String()
}

// String implements fmt.Stringer using single-line, monotonic display.
func (e *Event) String() string {
	return e.ToText(DisplayFormat{})
}

func writeCommon(b *strings.Builder, c CommonEvent, f DisplayFormat) {
	switch f.Time {
	case TimeUtc:
		t := time.Unix(0, int64(c.Timestamp)).Add(f.MonotonicOffset).UTC()
		b.WriteString(t.Format("2006-01-02 15:04:05.000000"))
	default:
		fmt.Fprintf(b, "%d", c.Timestamp)
	}
	fmt.Fprintf(b, " (%d)", c.SmpId)

	if c.Task != nil {
		fmt.Fprintf(b, " [%s] ", c.Task.Comm)
		if c.Task.Pid != c.Task.Tgid {
			fmt.Fprintf(b, "%d/", c.Task.Pid)
		}
		fmt.Fprintf(b, "%d", c.Task.Tgid)
	}
}

var probeTypeAbbrev = map[string]string{
	"kprobe":         "k",
	"kretprobe":      "kr",
	"raw_tracepoint": "tp",
}

func writeKernel(b *strings.Builder, k KernelEvent) {
	abbrev, ok := probeTypeAbbrev[k.ProbeType]
	if !ok {
		abbrev = k.ProbeType
	}
	fmt.Fprintf(b, "[%s] %s", abbrev, k.Symbol)
}

func writeUserspace(b *strings.Builder, u UserspaceEvent) {
	fmt.Fprintf(b, "[u] %s", u.Symbol)
}

func writeStackTrace(b *strings.Builder, trace []string, multiline bool) {
	if !multiline {
		b.WriteByte('[')
		b.WriteString(strings.Join(trace, ", "))
		b.WriteByte(']')
		return
	}
	for i, sym := range trace {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(b, "    %s", sym)
	}
}

func writeSkb(b *strings.Builder, s SkbEvent) {
	b.WriteString("skb")
	if s.Eth != nil {
		fmt.Fprintf(b, " %s > %s ethertype 0x%04x", s.Eth.Src, s.Eth.Dst, s.Eth.Ethertype)
	}
	switch {
	case s.Ipv4 != nil:
		fmt.Fprintf(b, " %s > %s ttl %d", s.Ipv4.Src, s.Ipv4.Dst, s.Ipv4.Ttl)
	case s.Ipv6 != nil:
		fmt.Fprintf(b, " %s > %s hlim %d", s.Ipv6.Src, s.Ipv6.Dst, s.Ipv6.HopLimit)
	}
	switch {
	case s.Tcp != nil:
		fmt.Fprintf(b, " tcp %d > %d seq %d", s.Tcp.Sport, s.Tcp.Dport, s.Tcp.Seq)
	case s.Udp != nil:
		fmt.Fprintf(b, " udp %d > %d len %d", s.Udp.Sport, s.Udp.Dport, s.Udp.Len)
	case s.Icmp != nil:
		fmt.Fprintf(b, " icmp type %d code %d", s.Icmp.Type, s.Icmp.Code)
	}
}

func writeOvs(b *strings.Builder, o OvsEvent) {
	fmt.Fprintf(b, "ovs %s", o.Kind)
	if o.PortNo != 0 {
		fmt.Fprintf(b, " port %d", o.PortNo)
	}
}

func writeNft(b *strings.Builder, n NftEvent) {
	fmt.Fprintf(b, "nft %s/%s verdict %s", n.TableName, n.ChainName, n.Verdict)
}

func writeCt(b *strings.Builder, c CtEvent) {
	switch c.State {
	case CtEstablished:
		b.WriteString("ct_state ESTABLISHED ")
	case CtRelated:
		b.WriteString("ct_state RELATED ")
	case CtNew:
		b.WriteString("ct_state NEW ")
	case CtReply:
		b.WriteString("ct_state REPLY ")
	case CtRelatedReply:
		b.WriteString("ct_state RELATED_REPLY ")
	default:
		b.WriteString("ct_state UNTRACKED ")
	}
	writeCtConn(b, c.Base)
	if c.Parent != nil {
		b.WriteString(" parent [")
		writeCtConn(b, *c.Parent)
		b.WriteByte(']')
	}
}

func writeCtConn(b *strings.Builder, conn CtConnEvent) {
	switch {
	case conn.Orig.Proto.Tcp != nil && conn.Reply.Proto.Tcp != nil:
		state := conn.TcpState
		if state == "" {
			state = "UNKNOWN"
		}
		fmt.Fprintf(b, "tcp (%s) orig [%s.%d > %s.%d] reply [%s.%d > %s.%d] ",
			state,
			conn.Orig.Ip.Src, conn.Orig.Proto.Tcp.Sport, conn.Orig.Ip.Dst, conn.Orig.Proto.Tcp.Dport,
			conn.Reply.Ip.Src, conn.Reply.Proto.Tcp.Sport, conn.Reply.Ip.Dst, conn.Reply.Proto.Tcp.Dport)
	case conn.Orig.Proto.Udp != nil && conn.Reply.Proto.Udp != nil:
		fmt.Fprintf(b, "udp orig [%s.%d > %s.%d] reply [%s.%d > %s.%d] ",
			conn.Orig.Ip.Src, conn.Orig.Proto.Udp.Sport, conn.Orig.Ip.Dst, conn.Orig.Proto.Udp.Dport,
			conn.Reply.Ip.Src, conn.Reply.Proto.Udp.Sport, conn.Reply.Ip.Dst, conn.Reply.Proto.Udp.Dport)
	case conn.Orig.Proto.Icmp != nil && conn.Reply.Proto.Icmp != nil:
		fmt.Fprintf(b, "icmp orig [%s > %s type %d code %d id %d] reply [%s > %s type %d code %d id %d] ",
			conn.Orig.Ip.Src, conn.Orig.Ip.Dst, conn.Orig.Proto.Icmp.Type, conn.Orig.Proto.Icmp.Code, conn.Orig.Proto.Icmp.Id,
			conn.Reply.Ip.Src, conn.Reply.Ip.Dst, conn.Reply.Proto.Icmp.Type, conn.Reply.Proto.Icmp.Code, conn.Reply.Proto.Icmp.Id)
	}

	switch conn.ZoneDir {
	case ZoneDirOriginal:
		fmt.Fprintf(b, "orig-zone %d", conn.ZoneId)
	case ZoneDirReply:
		fmt.Fprintf(b, "reply-zone %d", conn.ZoneId)
	case ZoneDirDefault:
		fmt.Fprintf(b, "zone %d", conn.ZoneId)
	}
}
