// Package leb128 reads and writes the variable length integers (LEB128)
// used by DWARF, see DWARF v4 section 7.6.
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded number does not fit in 64 bits.
var ErrOverflow = errors.New("leb128: value overflows 64 bits")

// decode reads the 7 bit groups of one number. It returns the groups
// assembled in little endian order, the number of bits they cover and the
// number of bytes read.
func decode(buf io.ByteReader) (raw uint64, bits uint, n uint32, err error) {
	for {
		b, rerr := buf.ReadByte()
		if rerr != nil {
			return 0, bits, n, io.ErrUnexpectedEOF
		}
		n++
		if bits >= 64 {
			return 0, bits, n, ErrOverflow
		}
		raw |= uint64(b&0x7f) << bits
		bits += 7
		if b&0x80 == 0 {
			return raw, bits, n, nil
		}
	}
}

// DecodeUnsigned decodes an unsigned LEB128 number. It returns the
// number, the count of bytes consumed and io.ErrUnexpectedEOF if the
// input ends in the middle of a number.
func DecodeUnsigned(buf io.ByteReader) (uint64, uint32, error) {
	raw, _, n, err := decode(buf)
	return raw, n, err
}

// DecodeSigned decodes a signed LEB128 number.
func DecodeSigned(buf io.ByteReader) (int64, uint32, error) {
	raw, bits, n, err := decode(buf)
	if err != nil {
		return 0, n, err
	}
	if bits < 64 && raw&(1<<(bits-1)) != 0 {
		// sign extend from the last group
		raw |= ^uint64(0) << bits
	}
	return int64(raw), n, nil
}

// EncodeUnsigned writes x to out as an unsigned LEB128 number.
func EncodeUnsigned(out io.ByteWriter, x uint64) {
	for x >= 0x80 {
		out.WriteByte(byte(x) | 0x80)
		x >>= 7
	}
	out.WriteByte(byte(x))
}

// EncodeSigned writes x to out as a signed LEB128 number.
func EncodeSigned(out io.ByteWriter, x int64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && b&0x40 == 0) || (x == -1 && b&0x40 != 0) {
			out.WriteByte(b)
			return
		}
		out.WriteByte(b | 0x80)
	}
}
