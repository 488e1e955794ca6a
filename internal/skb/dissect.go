// Package skb implements the packet dissector (spec §9): an explicit
// L2 → L3 → L4 state machine over a captured frame, rather than a chain
// of best-effort attempts. Each layer's failure leaves every
// already-parsed sub-section intact and simply stops descending further
// (spec §9: "a malformed or truncated packet degrades gracefully: the
// outer layers that did parse are kept").
//
// No teacher analogue (its probes read fixed-layout C structs, never a
// raw captured frame); grounded on the layering described in SPEC_FULL.md
// §12 and on _examples/original_source/retis-events/src/skb.rs's section
// set (Eth/Ipv4/Ipv6/Tcp/Udp/Icmp/Arp/Dev/Ns/Meta/DataRef/Gso/RawPacket).
package skb

import (
	"encoding/binary"
	"net"

	"github.com/kubearch/retisgo/internal/event"
)

const (
	ethHeaderLen = 14
	ethTypeIPv4  = 0x0800
	ethTypeIPv6  = 0x86DD
	ethTypeARP   = 0x0806

	ipProtoICMP = 1
	ipProtoTCP  = 6
	ipProtoUDP  = 17

	arpHeaderLen = 28
)

// maxCaptureLen mirrors the wire invariant capture_len <= 255 (spec §3).
const maxCaptureLen = 255

// Dissect walks frame from Ethernet down through the highest transport
// layer it can parse, inserting each parsed layer into e.SkbSec. It never
// returns an error: a parse failure at any layer simply stops the descent,
// leaving shallower layers populated (spec §9).
func Dissect(e *event.Event, frame []byte) {
	sec := &event.SkbEvent{}

	captureLen := len(frame)
	if captureLen > maxCaptureLen {
		captureLen = maxCaptureLen
	}
	sec.Raw = &event.RawPacketSection{
		Len:        uint32(len(frame)),
		CaptureLen: uint8(captureLen),
		Bytes:      append([]byte(nil), frame[:captureLen]...),
	}

	ethertype, payload, ok := dissectEthernet(sec, frame)
	if !ok {
		_ = e.InsertSkb(*sec)
		return
	}

	switch ethertype {
	case ethTypeIPv4:
		proto, l4payload, ok := dissectIPv4(sec, payload)
		if !ok {
			break
		}
		dissectL4(sec, proto, l4payload)
	case ethTypeIPv6:
		proto, l4payload, ok := dissectIPv6(sec, payload)
		if !ok {
			break
		}
		dissectL4(sec, proto, l4payload)
	case ethTypeARP:
		dissectARP(sec, payload)
	}

	_ = e.InsertSkb(*sec)
}

func dissectEthernet(sec *event.SkbEvent, frame []byte) (ethertype uint16, payload []byte, ok bool) {
	if len(frame) < ethHeaderLen {
		return 0, nil, false
	}
	dst := net.HardwareAddr(frame[0:6])
	src := net.HardwareAddr(frame[6:12])
	ethertype = binary.BigEndian.Uint16(frame[12:14])

	sec.Eth = &event.EthSection{
		Src:       src.String(),
		Dst:       dst.String(),
		Ethertype: ethertype,
	}
	return ethertype, frame[ethHeaderLen:], true
}

func dissectIPv4(sec *event.SkbEvent, b []byte) (proto uint8, payload []byte, ok bool) {
	if len(b) < 20 {
		return 0, nil, false
	}
	ihl := int(b[0]&0x0F) * 4
	if ihl < 20 || len(b) < ihl {
		return 0, nil, false
	}
	totalLen := binary.BigEndian.Uint16(b[2:4])
	proto = b[9]
	ttl := b[8]
	src := net.IP(b[12:16])
	dst := net.IP(b[16:20])

	sec.Ipv4 = &event.Ipv4Section{
		Src:      src.String(),
		Dst:      dst.String(),
		Protocol: proto,
		Ttl:      ttl,
		Len:      totalLen,
	}
	return proto, b[ihl:], true
}

func dissectIPv6(sec *event.SkbEvent, b []byte) (proto uint8, payload []byte, ok bool) {
	if len(b) < 40 {
		return 0, nil, false
	}
	payloadLen := binary.BigEndian.Uint16(b[4:6])
	nextHeader := b[6]
	hopLimit := b[7]
	src := net.IP(b[8:24])
	dst := net.IP(b[24:40])

	sec.Ipv6 = &event.Ipv6Section{
		Src:        src.String(),
		Dst:        dst.String(),
		NextHeader: nextHeader,
		HopLimit:   hopLimit,
		PayloadLen: payloadLen,
	}
	return nextHeader, b[40:], true
}

func dissectL4(sec *event.SkbEvent, proto uint8, b []byte) {
	switch proto {
	case ipProtoTCP:
		dissectTCP(sec, b)
	case ipProtoUDP:
		dissectUDP(sec, b)
	case ipProtoICMP:
		dissectICMP(sec, b)
	}
}

func dissectTCP(sec *event.SkbEvent, b []byte) bool {
	if len(b) < 20 {
		return false
	}
	sec.Tcp = &event.TcpSection{
		Sport: binary.BigEndian.Uint16(b[0:2]),
		Dport: binary.BigEndian.Uint16(b[2:4]),
		Seq:   binary.BigEndian.Uint32(b[4:8]),
		Ack:   binary.BigEndian.Uint32(b[8:12]),
		Flags: b[13],
	}
	return true
}

func dissectUDP(sec *event.SkbEvent, b []byte) bool {
	if len(b) < 8 {
		return false
	}
	sec.Udp = &event.UdpSection{
		Sport: binary.BigEndian.Uint16(b[0:2]),
		Dport: binary.BigEndian.Uint16(b[2:4]),
		Len:   binary.BigEndian.Uint16(b[4:6]),
	}
	return true
}

func dissectICMP(sec *event.SkbEvent, b []byte) bool {
	if len(b) < 2 {
		return false
	}
	sec.Icmp = &event.IcmpSection{Type: b[0], Code: b[1]}
	return true
}

func dissectARP(sec *event.SkbEvent, b []byte) bool {
	if len(b) < arpHeaderLen {
		return false
	}
	operation := binary.BigEndian.Uint16(b[6:8])
	senderMac := net.HardwareAddr(b[8:14])
	senderIp := net.IP(b[14:18])
	targetMac := net.HardwareAddr(b[18:24])
	targetIp := net.IP(b[24:28])

	sec.Arp = &event.ArpSection{
		Operation: operation,
		SenderMac: senderMac.String(),
		SenderIp:  senderIp.String(),
		TargetMac: targetMac.String(),
		TargetIp:  targetIp.String(),
	}
	return true
}

