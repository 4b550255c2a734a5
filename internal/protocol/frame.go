// Package protocol implements the Host-Request Protocol: the fixed-width
// wire frame codec, frame validation/correlation, and the placement
// coroutine that drives a Request from HREQ through HRES (spec.md §4.4,
// §6).
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// State is a frame-level protocol state (spec.md §6 state codes).
type State byte

const (
	StateFAIL  State = 0
	StateHREQ  State = 1
	StateHRES  State = 2
	StateRREQ  State = 3
	StateRRES  State = 4
	StateRACK  State = 5
	StateRCAN  State = 6
	StateDREQ  State = 7
	StateDRES  State = 8
	StateDACK  State = 9
	StateDCAN  State = 10
	StateDWAIT State = 11
)

func (s State) String() string {
	switch s {
	case StateFAIL:
		return "FAIL"
	case StateHREQ:
		return "HREQ"
	case StateHRES:
		return "HRES"
	case StateRREQ:
		return "RREQ"
	case StateRRES:
		return "RRES"
	case StateRACK:
		return "RACK"
	case StateRCAN:
		return "RCAN"
	case StateDREQ:
		return "DREQ"
	case StateDRES:
		return "DRES"
	case StateDACK:
		return "DACK"
	case StateDCAN:
		return "DCAN"
	case StateDWAIT:
		return "DWAIT"
	default:
		return "UNKNOWN"
	}
}

// Frame is one Host-Request Protocol message. Which fields are populated on
// the wire depends on State (spec.md §6's header table); unused fields are
// simply left zero.
type Frame struct {
	State     State
	ReqID     string
	AttemptNo uint32
	CoSID     uint32
	HasCoSID  bool
	Data      []byte
	SrcMAC    string
	SrcIP     string
	HostMAC   string
	HostIP    string
}

// stateIn reports whether s is one of the states in set.
func stateIn(s State, set ...State) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func hasCoS(s State) bool  { return stateIn(s, StateHREQ, StateRREQ) }
func hasData(s State) bool { return stateIn(s, StateDREQ, StateDRES) }
func hasSrc(s State) bool {
	return stateIn(s, StateRREQ, StateRRES, StateRACK, StateRCAN, StateDACK, StateDCAN)
}
func hasHost(s State) bool { return stateIn(s, StateHRES, StateDACK, StateDCAN) }

// Codec encodes/decodes Frames to the fixed-width wire format, whose field
// widths are deployment parameters (REQ_ID_LEN/MAC_LEN/IP_LEN, spec.md §6).
type Codec struct {
	ReqIDLen int
	MACLen   int
	IPLen    int
}

// NewCodec builds a Codec for the given fixed field widths.
func NewCodec(reqIDLen, macLen, ipLen int) Codec {
	return Codec{ReqIDLen: reqIDLen, MACLen: macLen, IPLen: ipLen}
}

// Encode serializes f in field order: state, req_id, attempt_no, then the
// fields implied by f.State.
func (c Codec) Encode(f *Frame) ([]byte, error) {
	if len(f.ReqID) > c.ReqIDLen {
		return nil, fmt.Errorf("protocol: req_id %q exceeds %d bytes", f.ReqID, c.ReqIDLen)
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(f.State))
	buf.Write(padRight([]byte(f.ReqID), c.ReqIDLen))
	var attempt [4]byte
	binary.BigEndian.PutUint32(attempt[:], f.AttemptNo)
	buf.Write(attempt[:])

	if hasCoS(f.State) {
		var cos [4]byte
		binary.BigEndian.PutUint32(cos[:], f.CoSID)
		buf.Write(cos[:])
	}
	if hasData(f.State) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(f.Data)))
		buf.Write(n[:])
		buf.Write(f.Data)
	}
	if hasSrc(f.State) {
		mac, err := encodeMAC(f.SrcMAC, c.MACLen)
		if err != nil {
			return nil, err
		}
		buf.Write(mac)
		ip, err := encodeIP(f.SrcIP, c.IPLen)
		if err != nil {
			return nil, err
		}
		buf.Write(ip)
	}
	if hasHost(f.State) {
		mac, err := encodeMAC(f.HostMAC, c.MACLen)
		if err != nil {
			return nil, err
		}
		buf.Write(mac)
		ip, err := encodeIP(f.HostIP, c.IPLen)
		if err != nil {
			return nil, err
		}
		buf.Write(ip)
	}
	return buf.Bytes(), nil
}

// Decode parses a wire frame. It returns an error if buf is shorter than
// the fixed-width prefix implied by the decoded state.
func (c Codec) Decode(buf []byte) (*Frame, error) {
	if len(buf) < 1+c.ReqIDLen+4 {
		return nil, fmt.Errorf("protocol: frame too short: %d bytes", len(buf))
	}
	f := &Frame{}
	f.State = State(buf[0])
	off := 1
	f.ReqID = string(bytes.TrimRight(buf[off:off+c.ReqIDLen], "\x00"))
	off += c.ReqIDLen
	f.AttemptNo = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	if hasCoS(f.State) {
		if len(buf) < off+4 {
			return nil, fmt.Errorf("protocol: frame truncated at cos_id")
		}
		f.CoSID = binary.BigEndian.Uint32(buf[off : off+4])
		f.HasCoSID = true
		off += 4
	}
	if hasData(f.State) {
		if len(buf) < off+4 {
			return nil, fmt.Errorf("protocol: frame truncated at data length")
		}
		n := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if len(buf) < off+n {
			return nil, fmt.Errorf("protocol: frame truncated at data")
		}
		f.Data = append([]byte(nil), buf[off:off+n]...)
		off += n
	}
	if hasSrc(f.State) {
		if len(buf) < off+c.MACLen+c.IPLen {
			return nil, fmt.Errorf("protocol: frame truncated at src_mac/src_ip")
		}
		f.SrcMAC = decodeMAC(buf[off : off+c.MACLen])
		off += c.MACLen
		f.SrcIP = decodeIP(buf[off : off+c.IPLen])
		off += c.IPLen
	}
	if hasHost(f.State) {
		if len(buf) < off+c.MACLen+c.IPLen {
			return nil, fmt.Errorf("protocol: frame truncated at host_mac/host_ip")
		}
		f.HostMAC = decodeMAC(buf[off : off+c.MACLen])
		off += c.MACLen
		f.HostIP = decodeIP(buf[off : off+c.IPLen])
		off += c.IPLen
	}
	return f, nil
}

func padRight(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func encodeMAC(s string, n int) ([]byte, error) {
	if s == "" {
		return make([]byte, n), nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("protocol: invalid MAC %q: %w", s, err)
	}
	out := make([]byte, n)
	copy(out, hw)
	return out, nil
}

func decodeMAC(b []byte) string {
	if allZero(b) {
		return ""
	}
	return net.HardwareAddr(b).String()
}

func encodeIP(s string, n int) ([]byte, error) {
	if s == "" {
		return make([]byte, n), nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("protocol: invalid IP %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("protocol: only IPv4 is supported, got %q", s)
	}
	out := make([]byte, n)
	copy(out, v4)
	return out, nil
}

func decodeIP(b []byte) string {
	if allZero(b) {
		return ""
	}
	return net.IP(b).String()
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Answers reports whether reply "answers" sent, per the correlation table
// of spec.md §4.4: same req_id and one of the documented state pairs.
func Answers(sent, reply *Frame) bool {
	if sent == nil || reply == nil || sent.ReqID != reply.ReqID {
		return false
	}
	switch sent.State {
	case StateHREQ:
		return reply.State == StateHRES
	case StateRREQ:
		return reply.State == StateRRES || reply.State == StateRCAN
	case StateRRES:
		return reply.State == StateRACK || reply.State == StateRCAN
	case StateDREQ:
		return reply.State == StateDRES || reply.State == StateDWAIT || reply.State == StateDCAN
	case StateDRES:
		return reply.State == StateDACK || reply.State == StateDCAN
	default:
		return false
	}
}

// Valid reports whether a received frame should be accepted: addressed to
// the orchestrator's decoy endpoint, carrying a nonempty req_id, and
// originating from neither the orchestrator nor the default address
// (spec.md §4.4).
func Valid(f *Frame, dstMAC, dstIP, srcMAC, srcIP, decoyMAC, decoyIP, defaultAddr string) bool {
	if f == nil || f.ReqID == "" {
		return false
	}
	if dstMAC != decoyMAC || dstIP != decoyIP {
		return false
	}
	if srcMAC == decoyMAC || srcIP == decoyIP {
		return false
	}
	if srcIP == defaultAddr {
		return false
	}
	return true
}
