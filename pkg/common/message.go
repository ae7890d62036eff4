package common

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"
)

const (
	DVHeaderLen   = 5
	DVEntryLen    = 10
	DataHeaderLen = 12
)

var (
	ErrShortMessage    = errors.New("message too short")
	ErrBadType         = errors.New("unexpected message type")
	ErrTooManyEntries  = errors.New("too many dv entries")
	ErrPayloadTooLarge = errors.New("payload too large")
)

type DVEntry struct {
	Network netip.Addr
	Mask    netip.Addr
	Cost    uint16
}

// DVMessage is a distance vector advertisement sent between routers on the
// control port.
type DVMessage struct {
	SenderId uint16
	Entries  []DVEntry
}

func (d *DVMessage) MarshalBinary() ([]byte, error) {
	if len(d.Entries) > MaxRoutes {
		return nil, errors.Wrapf(ErrTooManyEntries, "%d entries", len(d.Entries))
	}
	buf := bytes.NewBuffer(make([]byte, 0, DVHeaderLen+DVEntryLen*len(d.Entries)))

	buf.WriteByte(MsgDV)
	if err := binary.Write(buf, binary.BigEndian, d.SenderId); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(d.Entries))); err != nil {
		return nil, err
	}

	for _, entry := range d.Entries {
		wire := struct {
			Network uint32
			Mask    uint32
			Cost    uint16
		}{IpToUint32(entry.Network), IpToUint32(entry.Mask), entry.Cost}
		if err := binary.Write(buf, binary.BigEndian, wire); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an advertisement. The declared entry count is
// clamped to MaxRoutes and to the number of whole entries present.
func (d *DVMessage) UnmarshalBinary(message []byte) error {
	if len(message) < DVHeaderLen {
		return errors.Wrapf(ErrShortMessage, "dv message of %d bytes", len(message))
	}
	if message[0] != MsgDV {
		return errors.Wrapf(ErrBadType, "type %d", message[0])
	}
	d.SenderId = binary.BigEndian.Uint16(message[1:3])
	num := int(binary.BigEndian.Uint16(message[3:5]))
	num = min(num, MaxRoutes, (len(message)-DVHeaderLen)/DVEntryLen)

	d.Entries = make([]DVEntry, num)
	offset := DVHeaderLen
	for i := 0; i < num; i++ {
		d.Entries[i] = DVEntry{
			Network: Uint32ToIp(binary.BigEndian.Uint32(message[offset : offset+4])),
			Mask:    Uint32ToIp(binary.BigEndian.Uint32(message[offset+4 : offset+8])),
			Cost:    binary.BigEndian.Uint16(message[offset+8 : offset+10]),
		}
		offset += DVEntryLen
	}
	return nil
}

// DataMessage is a simulated IP packet sent on the data port.
type DataMessage struct {
	TTL     uint8
	Src     netip.Addr
	Dst     netip.Addr
	Payload []byte
}

func (p *DataMessage) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(p.Payload))
	}
	out := make([]byte, DataHeaderLen+len(p.Payload))
	out[0] = MsgData
	out[1] = p.TTL
	binary.BigEndian.PutUint32(out[2:6], IpToUint32(p.Src))
	binary.BigEndian.PutUint32(out[6:10], IpToUint32(p.Dst))
	binary.BigEndian.PutUint16(out[10:12], uint16(len(p.Payload)))
	copy(out[DataHeaderLen:], p.Payload)
	return out, nil
}

// UnmarshalBinary decodes a data packet. A declared payload length longer
// than the datagram or MaxPayload is truncated.
func (p *DataMessage) UnmarshalBinary(message []byte) error {
	if len(message) < DataHeaderLen {
		return errors.Wrapf(ErrShortMessage, "data message of %d bytes", len(message))
	}
	if message[0] != MsgData {
		return errors.Wrapf(ErrBadType, "type %d", message[0])
	}
	p.TTL = message[1]
	p.Src = Uint32ToIp(binary.BigEndian.Uint32(message[2:6]))
	p.Dst = Uint32ToIp(binary.BigEndian.Uint32(message[6:10]))
	size := int(binary.BigEndian.Uint16(message[10:12]))
	size = min(size, MaxPayload, len(message)-DataHeaderLen)
	p.Payload = append([]byte(nil), message[DataHeaderLen:DataHeaderLen+size]...)
	return nil
}
