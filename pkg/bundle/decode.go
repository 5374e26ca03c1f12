package bundle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/google/uuid"

	"github.com/itohio/goenvml/pkg/quant"
)

var le = binary.LittleEndian

// Decode parses and validates a bundle.
// Weights and biases are copied out of data, so data may be released afterwards.
func Decode(data []byte) (*Bundle, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	hs := int(le.Uint32(data[8:12]))
	payload := data[hs : hs+int(h.PayloadSize)]
	if sum := checksum(data[:checksumOffset], data[HeaderSize:hs], payload); sum != h.Checksum {
		return nil, fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, h.Checksum, sum)
	}

	layers, err := decodeLayers(payload)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Header: h, Layers: layers}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeHeader parses the fixed header without touching the payload.
// It checks the magic, the major version and the declared sizes, not the checksum.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes, header needs %d", ErrCorruptBundle, len(data), HeaderSize)
	}
	if string(data[0:4]) != Magic {
		return h, fmt.Errorf("%w: %q", ErrInvalidMagic, data[0:4])
	}

	h.Major = le.Uint16(data[4:6])
	h.Minor = le.Uint16(data[6:8])
	if h.Major != CurrentMajor {
		return h, fmt.Errorf("%w: %d.%d, supported %d.x", ErrUnsupportedMajor, h.Major, h.Minor, CurrentMajor)
	}

	// Newer minors may grow the header; the payload always follows it.
	hs := le.Uint32(data[8:12])
	if hs < HeaderSize || uint64(hs) > uint64(len(data)) {
		return h, fmt.Errorf("%w: header size %d", ErrCorruptBundle, hs)
	}

	h.Flags = le.Uint32(data[12:16])
	copy(h.BuildID[:], data[16:32])
	h.Input = quant.Params{
		Scale:     math.Float32frombits(le.Uint32(data[32:36])),
		ZeroPoint: int32(le.Uint32(data[36:40])),
	}
	h.Output = quant.Params{
		Scale:     math.Float32frombits(le.Uint32(data[40:44])),
		ZeroPoint: int32(le.Uint32(data[44:48])),
	}
	h.InputArity = int(le.Uint16(data[48:50]))
	h.OutputArity = int(le.Uint16(data[50:52]))
	h.ArenaBytes = int(le.Uint32(data[52:56]))
	h.PayloadSize = le.Uint32(data[56:60])
	h.Checksum = le.Uint32(data[60:64])

	if uint64(hs)+uint64(h.PayloadSize) != uint64(len(data)) {
		return h, fmt.Errorf("%w: header %d + payload %d != %d bytes", ErrCorruptBundle, hs, h.PayloadSize, len(data))
	}
	return h, nil
}

func decodeLayers(p []byte) ([]Layer, error) {
	if len(p) < payloadPrologue {
		return nil, fmt.Errorf("%w: payload too short", ErrCorruptBundle)
	}
	n := int(le.Uint16(p[0:2]))
	off := payloadPrologue

	layers := make([]Layer, 0, n)
	for i := 0; i < n; i++ {
		if len(p)-off < layerDescSize {
			return nil, fmt.Errorf("%w: layer %d descriptor truncated", ErrCorruptBundle, i)
		}
		d := p[off : off+layerDescSize]
		l := Layer{
			Op:              Op(d[0]),
			Activation:      Activation(d[1]),
			In:              int(le.Uint16(d[4:6])),
			Out:             int(le.Uint16(d[6:8])),
			InputZeroPoint:  int32(le.Uint32(d[8:12])),
			OutputZeroPoint: int32(le.Uint32(d[12:16])),
			Multiplier:      int32(le.Uint32(d[16:20])),
			Shift:           int32(le.Uint32(d[20:24])),
		}
		off += layerDescSize

		nw := l.In * l.Out
		nb := l.Out * 4
		if len(p)-off < nw+nb {
			return nil, fmt.Errorf("%w: layer %d data truncated", ErrCorruptBundle, i)
		}

		l.Weights = make([]int8, nw)
		for j, c := range p[off : off+nw] {
			l.Weights[j] = int8(c)
		}
		off += nw

		l.Bias = make([]int32, l.Out)
		for j := range l.Bias {
			l.Bias[j] = int32(le.Uint32(p[off+4*j:]))
		}
		off += nb

		layers = append(layers, l)
	}

	if off != len(p) {
		return nil, fmt.Errorf("%w: %d trailing payload bytes", ErrCorruptBundle, len(p)-off)
	}
	return layers, nil
}

// checksum is the CRC-32 of the header up to the checksum field, any header
// extension written by a newer minor, and the payload.
func checksum(parts ...[]byte) uint32 {
	h := crc32.NewIEEE()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum32()
}

// NewBuildID returns a fresh random build id.
func NewBuildID() uuid.UUID {
	return uuid.New()
}
