package bundle

import (
	"fmt"
	"io"
	"math"
)

// Encode validates b and serializes it with the current format version.
// PayloadSize and Checksum in b.Header are updated to the written values.
func Encode(b *Bundle) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(b.Layers) > math.MaxUint16 || b.Header.InputArity > math.MaxUint16 || b.Header.OutputArity > math.MaxUint16 {
		return nil, fmt.Errorf("%w: graph too large", ErrCorruptBundle)
	}

	size := payloadPrologue
	for i := range b.Layers {
		l := &b.Layers[i]
		if l.In > math.MaxUint16 || l.Out > math.MaxUint16 {
			return nil, fmt.Errorf("%w: layer %d too wide", ErrCorruptBundle, i)
		}
		size += layerDescSize + len(l.Weights) + 4*len(l.Bias)
	}

	buf := make([]byte, HeaderSize+size)
	p := buf[HeaderSize:]
	le.PutUint16(p[0:2], uint16(len(b.Layers)))
	off := payloadPrologue
	for i := range b.Layers {
		l := &b.Layers[i]
		d := p[off : off+layerDescSize]
		d[0] = byte(l.Op)
		d[1] = byte(l.Activation)
		le.PutUint16(d[4:6], uint16(l.In))
		le.PutUint16(d[6:8], uint16(l.Out))
		le.PutUint32(d[8:12], uint32(l.InputZeroPoint))
		le.PutUint32(d[12:16], uint32(l.OutputZeroPoint))
		le.PutUint32(d[16:20], uint32(l.Multiplier))
		le.PutUint32(d[20:24], uint32(l.Shift))
		off += layerDescSize

		for _, w := range l.Weights {
			p[off] = byte(w)
			off++
		}
		for _, v := range l.Bias {
			le.PutUint32(p[off:], uint32(v))
			off += 4
		}
	}

	h := &b.Header
	h.Major = CurrentMajor
	h.Minor = CurrentMinor
	h.PayloadSize = uint32(size)

	copy(buf[0:4], Magic)
	le.PutUint16(buf[4:6], h.Major)
	le.PutUint16(buf[6:8], h.Minor)
	le.PutUint32(buf[8:12], HeaderSize)
	le.PutUint32(buf[12:16], h.Flags)
	copy(buf[16:32], h.BuildID[:])
	le.PutUint32(buf[32:36], math.Float32bits(h.Input.Scale))
	le.PutUint32(buf[36:40], uint32(h.Input.ZeroPoint))
	le.PutUint32(buf[40:44], math.Float32bits(h.Output.Scale))
	le.PutUint32(buf[44:48], uint32(h.Output.ZeroPoint))
	le.PutUint16(buf[48:50], uint16(h.InputArity))
	le.PutUint16(buf[50:52], uint16(h.OutputArity))
	le.PutUint32(buf[52:56], uint32(h.ArenaBytes))
	le.PutUint32(buf[56:60], h.PayloadSize)

	h.Checksum = checksum(buf[:checksumOffset], p)
	le.PutUint32(buf[60:64], h.Checksum)
	return buf, nil
}

// Write encodes b to w.
func Write(w io.Writer, b *Bundle) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
