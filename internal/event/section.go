package event

// SectionId is the stable, wire-level numeric identity of a Section. The
// numeric value is authoritative across the kernel/user boundary and in the
// persisted file format; the string form (see String) is used only when
// serializing to the textual file format.
type SectionId uint8

const (
	Common SectionId = iota + 1
	Kernel
	Userspace
	Tracking
	SkbTracking
	SkbDrop
	Skb
	Ovs
	Nft
	Ct
	Startup
	sectionIdMax
)

var sectionNames = [...]string{
	Common:      "common",
	Kernel:      "kernel",
	Userspace:   "userspace",
	Tracking:    "tracking",
	SkbTracking: "skb-tracking",
	SkbDrop:     "skb-drop",
	Skb:         "skb",
	Ovs:         "ovs",
	Nft:         "nft",
	Ct:          "ct",
	Startup:     "startup",
}

// String returns the textual name used in the persisted file format.
func (id SectionId) String() string {
	if int(id) < len(sectionNames) && sectionNames[id] != "" {
		return sectionNames[id]
	}
	return "unknown"
}

// SectionIdFromString is the inverse of SectionId.String, used when reading
// the persisted textual file format.
func SectionIdFromString(name string) (SectionId, bool) {
	for id, n := range sectionNames {
		if n != "" && n == name {
			return SectionId(id), true
		}
	}
	return 0, false
}

// Valid reports whether id is one of the closed set of known section kinds.
func (id SectionId) Valid() bool {
	return id >= Common && id < sectionIdMax
}

// TaskEvent identifies the process that produced an event.
type TaskEvent struct {
	Pid  int32  `json:"pid"`
	Tgid int32  `json:"tgid"`
	Comm string `json:"comm"`
}

// CommonEvent is present on every event and carries its timestamp and,
// when resolvable, the owning task.
type CommonEvent struct {
	// Timestamp is CLOCK_MONOTONIC nanoseconds at the moment of capture.
	Timestamp uint64     `json:"timestamp"`
	SmpId     uint32     `json:"smp_id"`
	Task      *TaskEvent `json:"task,omitempty"`
}

// KernelEvent describes the probe that fired and, optionally, the stack
// leading to it.
type KernelEvent struct {
	Symbol     string   `json:"symbol"`
	ProbeType  string   `json:"probe_type"` // "kprobe" | "kretprobe" | "raw_tracepoint"
	StackTrace []string `json:"stack_trace,omitempty"`
}

// UserspaceEvent mirrors KernelEvent for USDT-sourced events.
type UserspaceEvent struct {
	Symbol    string `json:"symbol"`
	ProbeType string `json:"probe_type"`
}

// TrackingEvent carries the correlation identity the Event Sorter groups
// by (see Event.TrackingId). No stage in this module derives it from an
// SkbTrackingEvent; it is present only when inserted directly or read
// back from a persisted event.
type TrackingEvent struct {
	TrackingId uint64 `json:"tracking_id"`
}

// SkbTrackingEvent is the kernel-emitted packet fingerprint used to derive
// a TrackingEvent: the original sk_buff head pointer plus a timestamp taken
// the first time the packet was seen.
type SkbTrackingEvent struct {
	OrigHead  uint64 `json:"orig_head"`
	Timestamp uint64 `json:"timestamp"`
}

// SkbDropEvent records a kfree_skb_reason hit: the drop reason and the
// fingerprint of the packet that was dropped.
type SkbDropEvent struct {
	Reason   string           `json:"drop_reason"`
	Tracking SkbTrackingEvent `json:"tracking"`
}

// StartupEvent is emitted once, at process start.
type StartupEvent struct {
	RetisVersion           string `json:"retis_version"`
	ClockMonotonicOffsetNs int64  `json:"clock_monotonic_offset_ns"`
}

// --- Skb sub-sections (§3, §9 packet dissector) ---

type EthSection struct {
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	Ethertype uint16 `json:"ethertype"`
}

type Ipv4Section struct {
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	Protocol uint8  `json:"protocol"`
	Ttl      uint8  `json:"ttl"`
	Len      uint16 `json:"len"`
}

type Ipv6Section struct {
	Src        string `json:"src"`
	Dst        string `json:"dst"`
	NextHeader uint8  `json:"next_header"`
	HopLimit   uint8  `json:"hop_limit"`
	PayloadLen uint16 `json:"payload_len"`
}

type TcpSection struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
	Seq   uint32 `json:"seq"`
	Ack   uint32 `json:"ack_seq"`
	Flags uint8  `json:"flags"`
}

type UdpSection struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
	Len   uint16 `json:"len"`
}

type IcmpSection struct {
	Type uint8 `json:"type"`
	Code uint8 `json:"code"`
}

type ArpSection struct {
	Operation uint16 `json:"operation"`
	SenderMac string `json:"sender_mac"`
	SenderIp  string `json:"sender_ip"`
	TargetMac string `json:"target_mac"`
	TargetIp  string `json:"target_ip"`
}

type DevSection struct {
	Name      string `json:"name"`
	Ifindex   uint32 `json:"ifindex"`
	Ifnamespace uint32 `json:"ifnamespace,omitempty"`
}

type NsSection struct {
	Id uint32 `json:"id"`
}

type SkbMetaSection struct {
	Len      uint32 `json:"len"`
	DataLen  uint32 `json:"data_len"`
	Hash     uint32 `json:"hash"`
	Csum     uint32 `json:"csum"`
	Priority uint32 `json:"priority"`
}

type DataRefSection struct {
	Clone     uint8 `json:"clone"`
	FastClone uint8 `json:"fast_clone"`
	Users     uint8 `json:"users"`
	Dataref   uint8 `json:"dataref"`
}

type GsoSection struct {
	Flags uint8  `json:"flags"`
	Size  uint32 `json:"size"`
	Segs  uint32 `json:"segs"`
}

// RawPacketSection holds a best-effort capture of the raw bytes, truncated
// to CaptureLen per the wire invariant (§3, capture_len <= 255).
type RawPacketSection struct {
	Len        uint32 `json:"len"`
	CaptureLen uint8  `json:"capture_len"`
	Bytes      []byte `json:"bytes"`
}

// SkbEvent is the packet-decomposition section: every sub-section is
// optional and present only when the corresponding layer was parsed.
type SkbEvent struct {
	Eth      *EthSection       `json:"eth,omitempty"`
	Ipv4     *Ipv4Section      `json:"ipv4,omitempty"`
	Ipv6     *Ipv6Section      `json:"ipv6,omitempty"`
	Tcp      *TcpSection       `json:"tcp,omitempty"`
	Udp      *UdpSection       `json:"udp,omitempty"`
	Icmp     *IcmpSection      `json:"icmp,omitempty"`
	Arp      *ArpSection       `json:"arp,omitempty"`
	Dev      *DevSection       `json:"dev,omitempty"`
	Ns       *NsSection        `json:"ns,omitempty"`
	Meta     *SkbMetaSection   `json:"meta,omitempty"`
	DataRef  *DataRefSection   `json:"data_ref,omitempty"`
	Gso      *GsoSection       `json:"gso,omitempty"`
	Raw      *RawPacketSection `json:"packet,omitempty"`
}

// --- OVS (§12 supplement) ---

type OvsEvent struct {
	// Kind is one of "upcall", "upcall-enqueue", "upcall-return",
	// "action-exec", "action-exec-track", "recirc".
	Kind       string `json:"kind"`
	Cmd        uint8  `json:"cmd,omitempty"`
	PortNo     uint32 `json:"port_no,omitempty"`
	UpcallPid  uint32 `json:"upcall_pid,omitempty"`
	BatchTs    uint64 `json:"batch_ts,omitempty"`
	BatchIdx   uint32 `json:"batch_idx,omitempty"`
	RecircId   uint32 `json:"recirc_id,omitempty"`
	QueueId    uint32 `json:"queue_id,omitempty"`
}

// --- Nft (§12 supplement, minimal per spec's "module-specific payload") ---

type NftEvent struct {
	TableName string `json:"table_name"`
	ChainName string `json:"chain_name"`
	Verdict   string `json:"verdict"`
}

// --- Conntrack (§12 supplement, grounded on retis-events/src/ct.rs) ---

type ZoneDir uint8

const (
	ZoneDirNone ZoneDir = iota
	ZoneDirOriginal
	ZoneDirReply
	ZoneDirDefault
)

type CtIpVersion uint8

const (
	CtIpV4 CtIpVersion = iota
	CtIpV6
)

type CtTcp struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
}

type CtUdp struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
}

type CtIcmp struct {
	Code uint8  `json:"code"`
	Type uint8  `json:"type"`
	Id   uint16 `json:"id"`
}

// CtProto is a closed union over the three supported L4 protocols. Exactly
// one of Tcp, Udp, Icmp is non-nil.
type CtProto struct {
	Tcp  *CtTcp  `json:"tcp,omitempty"`
	Udp  *CtUdp  `json:"udp,omitempty"`
	Icmp *CtIcmp `json:"icmp,omitempty"`
}

type CtIp struct {
	Src     string      `json:"src"`
	Dst     string      `json:"dst"`
	Version CtIpVersion `json:"version"`
}

type CtTuple struct {
	Ip    CtIp    `json:"ip"`
	Proto CtProto `json:"proto"`
}

type CtState uint8

const (
	CtUntracked CtState = iota
	CtEstablished
	CtRelated
	CtNew
	CtReply
	CtRelatedReply
)

type CtConnEvent struct {
	ZoneId   uint16  `json:"zone_id"`
	ZoneDir  ZoneDir `json:"zone_dir"`
	Orig     CtTuple `json:"orig"`
	Reply    CtTuple `json:"reply"`
	TcpState string  `json:"tcp_state,omitempty"`
}

type CtEvent struct {
	State  CtState      `json:"state"`
	Base   CtConnEvent  `json:"base"`
	Parent *CtConnEvent `json:"parent,omitempty"`
}
