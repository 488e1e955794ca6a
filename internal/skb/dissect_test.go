package skb

import (
	"encoding/binary"
	"testing"

	"github.com/kubearch/retisgo/internal/event"
)

func ethHeader(ethertype uint16) []byte {
	b := make([]byte, ethHeaderLen)
	copy(b[0:6], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})  // dst
	copy(b[6:12], []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}) // src
	binary.BigEndian.PutUint16(b[12:14], ethertype)
	return b
}

func ipv4Header(proto uint8, payloadLen int) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5 (20 bytes)
	binary.BigEndian.PutUint16(b[2:4], uint16(20+payloadLen))
	b[8] = 64 // ttl
	b[9] = proto
	copy(b[12:16], []byte{10, 0, 0, 1})
	copy(b[16:20], []byte{10, 0, 0, 2})
	return b
}

func tcpHeader(sport, dport uint16) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint16(b[0:2], sport)
	binary.BigEndian.PutUint16(b[2:4], dport)
	binary.BigEndian.PutUint32(b[4:8], 100)
	binary.BigEndian.PutUint32(b[8:12], 200)
	b[13] = 0x18 // PSH|ACK
	return b
}

func TestDissect_FullEthIpv4Tcp(t *testing.T) {
	frame := append(ethHeader(ethTypeIPv4), append(ipv4Header(ipProtoTCP, 20), tcpHeader(1234, 80)...)...)

	e := event.Acquire()
	defer e.Release()
	Dissect(e, frame)

	if e.SkbSec.Eth == nil || e.SkbSec.Eth.Ethertype != ethTypeIPv4 {
		t.Fatalf("expected Eth section with IPv4 ethertype, got %+v", e.SkbSec.Eth)
	}
	if e.SkbSec.Ipv4 == nil || e.SkbSec.Ipv4.Protocol != ipProtoTCP {
		t.Fatalf("expected Ipv4 section with TCP protocol, got %+v", e.SkbSec.Ipv4)
	}
	if e.SkbSec.Tcp == nil || e.SkbSec.Tcp.Sport != 1234 || e.SkbSec.Tcp.Dport != 80 {
		t.Fatalf("expected Tcp section sport=1234 dport=80, got %+v", e.SkbSec.Tcp)
	}
	if e.SkbSec.Raw == nil || e.SkbSec.Raw.Len != uint32(len(frame)) {
		t.Fatalf("expected Raw section capturing full frame length, got %+v", e.SkbSec.Raw)
	}
}

func TestDissect_TruncatedIPv4KeepsEthOnly(t *testing.T) {
	frame := append(ethHeader(ethTypeIPv4), []byte{0x45, 0x00, 0x00}...) // too short for IPv4 header

	e := event.Acquire()
	defer e.Release()
	Dissect(e, frame)

	if e.SkbSec.Eth == nil {
		t.Fatal("expected Eth section to survive a truncated IPv4 header")
	}
	if e.SkbSec.Ipv4 != nil {
		t.Errorf("expected no Ipv4 section for a truncated header, got %+v", e.SkbSec.Ipv4)
	}
}

func TestDissect_TruncatedEthernetYieldsOnlyRaw(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03}

	e := event.Acquire()
	defer e.Release()
	Dissect(e, frame)

	if e.SkbSec.Eth != nil {
		t.Errorf("expected no Eth section for a sub-header frame, got %+v", e.SkbSec.Eth)
	}
	if e.SkbSec.Raw == nil || e.SkbSec.Raw.Len != 3 {
		t.Errorf("expected Raw section with len=3, got %+v", e.SkbSec.Raw)
	}
}

func TestDissect_CaptureLenCappedAt255(t *testing.T) {
	frame := make([]byte, 300)
	e := event.Acquire()
	defer e.Release()
	Dissect(e, frame)

	if e.SkbSec.Raw.CaptureLen != 255 {
		t.Errorf("CaptureLen = %d, want 255", e.SkbSec.Raw.CaptureLen)
	}
	if len(e.SkbSec.Raw.Bytes) != 255 {
		t.Errorf("len(Bytes) = %d, want 255", len(e.SkbSec.Raw.Bytes))
	}
	if e.SkbSec.Raw.Len != 300 {
		t.Errorf("Len = %d, want 300 (uncapped original length)", e.SkbSec.Raw.Len)
	}
}

func TestDissect_UDP(t *testing.T) {
	udp := make([]byte, 8)
	binary.BigEndian.PutUint16(udp[0:2], 5353)
	binary.BigEndian.PutUint16(udp[2:4], 53)
	binary.BigEndian.PutUint16(udp[4:6], 8)
	frame := append(ethHeader(ethTypeIPv4), append(ipv4Header(ipProtoUDP, 8), udp...)...)

	e := event.Acquire()
	defer e.Release()
	Dissect(e, frame)

	if e.SkbSec.Udp == nil || e.SkbSec.Udp.Sport != 5353 || e.SkbSec.Udp.Dport != 53 {
		t.Fatalf("expected Udp section sport=5353 dport=53, got %+v", e.SkbSec.Udp)
	}
	if e.SkbSec.Tcp != nil {
		t.Errorf("expected no Tcp section for a UDP packet, got %+v", e.SkbSec.Tcp)
	}
}
