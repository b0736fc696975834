// Package protocol implements the wire format, channel family, and
// retransmission bookkeeping of the reliable-UDP transport: header layout,
// typed Packet read/write, sequence comparison, and the six delivery-mode
// channels (spec §3 "Packet", §4.2-§4.8). Grounded on the teacher's
// source/protocol/raknet.go BitStream/RakNetPacket/DataPacket pair,
// generalized from the SA-MP wire format to the one this module's spec
// pins.
package protocol

import (
	"encoding/binary"
	"errors"
	"math"

	"gorudp/pkg/buffer"
)

// HeaderType is byte 0 of every packet on the wire (spec §3 "Packet").
type HeaderType byte

const (
	HeaderConnect HeaderType = iota
	HeaderConnectApproved
	HeaderData
	HeaderAcknowledgement
	HeaderPing
	HeaderPong
	HeaderDisconnect
)

// HeaderSize is the fixed single-byte header every packet carries before
// any delivery-mode-specific fields.
const HeaderSize = 1

var (
	// ErrReadOnly is returned by any write attempted on a read-only Packet
	// view (spec §4.2 "Write-after-freeze ... fail").
	ErrReadOnly = errors.New("protocol: packet is read-only")
	// ErrTooManyFragments is returned when a send would require more than
	// 2^15 fragments (spec §4.7).
	ErrTooManyFragments = errors.New("protocol: payload exceeds max fragment count")
	// ErrVarintTooLong signals a corrupt or adversarial varint encoding.
	ErrVarintTooLong = errors.New("protocol: varint exceeds 5 bytes")
)

// Packet is a typed view over a pooled Buffer: header byte, optional
// channel id, payload (spec §3 "Packet", §4.2).
type Packet struct {
	buf      *buffer.Buffer
	readOnly bool
}

// NewControl builds a Packet carrying only a header byte (Connect,
// ConnectApproved, Disconnect) — spec §4.2 "get(headerType)".
func NewControl(pool *buffer.Pool, h HeaderType) *Packet {
	b := pool.Get()
	_ = b.WriteByte(byte(h))
	return &Packet{buf: b}
}

// NewData builds a Packet with HeaderData, the delivery/channel id, and an
// empty payload region ready for the channel to append sequence/fragment
// fields and payload — spec §4.2 "get(delivery, id)".
func NewData(pool *buffer.Pool, channelID byte) *Packet {
	b := pool.Get()
	_ = b.WriteByte(byte(HeaderData))
	_ = b.WriteByte(channelID)
	return &Packet{buf: b}
}

// NewAck builds an Acknowledgement Packet addressed to channelID, ready
// for the channel to append sequence/bitmask fields (spec §6
// "Acknowledgement" rows).
func NewAck(pool *buffer.Pool, channelID byte) *Packet {
	b := pool.Get()
	_ = b.WriteByte(byte(HeaderAcknowledgement))
	_ = b.WriteByte(channelID)
	return &Packet{buf: b}
}

// FromWire wraps n received bytes from a pooled buffer, positioning the
// read cursor past the fixed header byte — spec §4.2 "from(bytes,n)".
func FromWire(pool *buffer.Pool, raw []byte) *Packet {
	b := pool.Get()
	_ = b.Write(raw)
	b.SeekRead(HeaderSize)
	return &Packet{buf: b}
}

// ReadOnly returns a read-only view over the same buffer, exposing only
// reads and a byte accessor (spec §4.2 "read-only packet view").
func (p *Packet) ReadOnly() *Packet {
	return &Packet{buf: p.buf, readOnly: true}
}

// Header returns the packet's header byte without disturbing the cursor.
func (p *Packet) Header() HeaderType {
	var b [1]byte
	_ = p.buf.ReadAt(0, b[:])
	return HeaderType(b[0])
}

// ChannelID returns byte 1, valid only for Data/Acknowledgement packets.
func (p *Packet) ChannelID() byte {
	var b [1]byte
	_ = p.buf.ReadAt(1, b[:])
	return b[0]
}

// Buffer exposes the underlying pooled Buffer for channel/codec code that
// needs direct offset access (sequence, fragment-number, ack-bitmask
// fields live at fixed offsets past the header).
func (p *Packet) Buffer() *buffer.Buffer { return p.buf }

// Payload returns the bytes from offset off to the end of the written
// region — used after the channel has located where the payload starts.
func (p *Packet) Payload(off int) []byte {
	all := p.buf.Bytes()
	if off > len(all) {
		return nil
	}
	return all[off:]
}

// Size returns the total written size of the packet, header included.
func (p *Packet) Size() int { return p.buf.Size() }

// At returns the byte at payload-relative index i (spec §4.2 "[i] byte
// accessor over the payload region"), where payloadOff is the offset the
// caller's channel established as the payload start.
func (p *Packet) At(payloadOff, i int) (byte, error) {
	all := p.buf.Bytes()
	idx := payloadOff + i
	if idx < 0 || idx >= len(all) {
		return 0, buffer.ErrOutOfBounds
	}
	return all[idx], nil
}

// Release returns the packet's buffer to pool. Callers must not use the
// Packet afterward.
func (p *Packet) Release(pool *buffer.Pool) {
	pool.Put(p.buf)
}

// --- Primitive reads/writes (spec §4.2 "fixed-size little-endian") ---

func (p *Packet) WriteUint8(v uint8) error {
	if p.readOnly {
		return ErrReadOnly
	}
	return p.buf.WriteByte(v)
}

func (p *Packet) ReadUint8() (uint8, error) { return p.buf.ReadByte() }

func (p *Packet) WriteUint16(v uint16) error {
	if p.readOnly {
		return ErrReadOnly
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return p.buf.Write(b[:])
}

func (p *Packet) ReadUint16() (uint16, error) {
	var b [2]byte
	if err := p.buf.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (p *Packet) WriteUint32(v uint32) error {
	if p.readOnly {
		return ErrReadOnly
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return p.buf.Write(b[:])
}

func (p *Packet) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := p.buf.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (p *Packet) WriteUint64(v uint64) error {
	if p.readOnly {
		return ErrReadOnly
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return p.buf.Write(b[:])
}

func (p *Packet) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := p.buf.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (p *Packet) WriteFloat32(v float32) error {
	return p.WriteUint32(math.Float32bits(v))
}

func (p *Packet) ReadFloat32() (float32, error) {
	u, err := p.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

func (p *Packet) WriteBytes(v []byte) error {
	if p.readOnly {
		return ErrReadOnly
	}
	return p.buf.Write(v)
}

func (p *Packet) ReadBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if err := p.buf.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Variable-length integer (spec §8 invariant 4) ---
//
// 7 bits of payload per byte, high bit set iff another byte follows.
// Byte-count schedule: [0,127]->1, [128,16383]->2, [16384,2097151]->3,
// [2097152,268435455]->4, else->5.

func WriteVarint(p *Packet, v uint32) error {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := p.WriteUint8(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

func ReadVarint(p *Packet) (uint32, error) {
	var result uint32
	for shift := uint(0); ; shift += 7 {
		if shift >= 35 {
			return 0, ErrVarintTooLong
		}
		b, err := p.ReadUint8()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// --- Arrays and strings (spec §3 "Packet", §4.2) ---

// WriteArray writes a length-prefixed (varint) array, invoking write for
// each element.
func WriteArray(p *Packet, n int, write func(i int) error) error {
	if err := WriteVarint(p, uint32(n)); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := write(i); err != nil {
			return err
		}
	}
	return nil
}

// ReadArray reads a varint length prefix and invokes read for each
// element, returning the element count.
func ReadArray(p *Packet, read func(i int) error) (int, error) {
	n, err := ReadVarint(p)
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(n); i++ {
		if err := read(i); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

// WriteString writes a length-prefixed UTF-8 string (spec §4.2 "default
// UTF-8").
func (p *Packet) WriteString(s string) error {
	if err := WriteVarint(p, uint32(len(s))); err != nil {
		return err
	}
	return p.WriteBytes([]byte(s))
}

func (p *Packet) ReadString() (string, error) {
	n, err := ReadVarint(p)
	if err != nil {
		return "", err
	}
	b, err := p.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
