// Package canio talks to the swerve module controllers over SocketCAN: module commands
// go out on a heartbeat publish loop and module status frames are decoded by a
// receive loop into the per-cycle sensor readings.
package canio

import (
	"math"
)

const numBitsPerByte = 8

// Signal describes a scaled field packed into a CAN payload.
type Signal struct {
	Scalar       float64
	Offset       float64
	Start        uint8 // start bit
	Length       uint8 // length in bits, at most 32
	LittleEndian bool
	Signed       bool
}

// byteMask returns the mask selecting the signal bits [lsb, msb] inside payload byte
// byteNum.
func byteMask(byteNum, lsb, msb uint8) uint8 {
	var maskLsb, maskMsb uint8
	byteLsb := int(byteNum) * numBitsPerByte
	byteMsb := (int(byteNum)+1)*numBitsPerByte - 1

	if int(lsb) > byteLsb {
		maskLsb = uint8(int(lsb) - byteLsb)
	}
	if int(msb) >= byteMsb {
		maskMsb = numBitsPerByte - 1
	} else {
		maskMsb = uint8(int(msb) - byteLsb)
	}
	return uint8((math.MaxUint8 << (maskMsb + 1)) ^ (math.MaxUint8 << maskLsb))
}

func (s Signal) msb() uint8 {
	return s.Start + s.Length - 1
}

// Fits reports whether the signal lies inside a payload of n bytes.
func (s Signal) Fits(n int) bool {
	return s.Length > 0 && s.Length <= 32 && int(s.msb())/numBitsPerByte < n
}

// Extract decodes the signal from data and applies scale and offset.
func (s Signal) Extract(data []byte) float64 {
	if !s.Fits(len(data)) {
		return math.NaN()
	}
	lsb, msb := s.Start, s.msb()
	byteStart, byteStop := lsb/numBitsPerByte, msb/numBitsPerByte

	var raw uint64
	for i := byteStart; i <= byteStop; i++ {
		var shift uint8
		if s.LittleEndian {
			shift = i - byteStart
		} else {
			shift = byteStop - i
		}
		raw |= uint64(byteMask(i, lsb, msb)&data[i]) << (uint(shift) * numBitsPerByte)
	}
	raw >>= lsb - numBitsPerByte*byteStart

	var value float64
	if s.Signed && raw&(1<<(s.Length-1)) != 0 {
		value = float64(int64(raw) - int64(1)<<s.Length)
	} else {
		value = float64(raw)
	}
	return value*s.Scalar + s.Offset
}

// Insert encodes value into data, saturating at the signal's range. Only little-endian
// signals are written.
func (s Signal) Insert(data []byte, value float64) {
	if !s.Fits(len(data)) || !s.LittleEndian || s.Scalar == 0 {
		return
	}
	scaled := math.Round((value - s.Offset) / s.Scalar)
	var lo, hi float64
	if s.Signed {
		lo, hi = -math.Ldexp(1, int(s.Length)-1), math.Ldexp(1, int(s.Length)-1)-1
	} else {
		lo, hi = 0, math.Ldexp(1, int(s.Length))-1
	}
	if math.IsNaN(scaled) {
		scaled = 0
	}
	scaled = math.Max(lo, math.Min(hi, scaled))

	raw := uint64(int64(scaled))
	for b := uint8(0); b < s.Length; b++ {
		bit := s.Start + b
		mask := byte(1) << (bit % numBitsPerByte)
		if raw>>b&1 == 1 {
			data[bit/numBitsPerByte] |= mask
		} else {
			data[bit/numBitsPerByte] &^= mask
		}
	}
}
