// Package pixpack implements the lossless 10-bit 4:5 byte-pack transform
// used by the chunk buffer to store 10-bit planes compactly.
package pixpack

// Pack10 packs 4 consecutive 10-bit samples (stored as uint16 with the
// high 6 bits zero) into 5 bytes. dst must have length >= 5, src length >= 4.
//
// Layout (little-endian bit order within each sample):
//
//	b0 = p0[7:0]
//	b1 = p1[5:0]<<2 | p0[9:8]
//	b2 = p2[3:0]<<4 | p1[9:6]
//	b3 = p3[1:0]<<6 | p2[9:4]
//	b4 = p3[9:2]
func Pack10(dst []byte, src [4]uint16) {
	p0, p1, p2, p3 := src[0], src[1], src[2], src[3]
	dst[0] = byte(p0 & 0xFF)
	dst[1] = byte((p1&0x3F)<<2 | (p0 >> 8 & 0x3))
	dst[2] = byte((p2&0x0F)<<4 | (p1 >> 6 & 0xF))
	dst[3] = byte((p3&0x03)<<6 | (p2 >> 4 & 0x3F))
	dst[4] = byte(p3 >> 2)
}

// Unpack10 is the inverse of Pack10: it reconstructs 4 10-bit samples
// (as uint16 with the high 6 bits zero) from 5 packed bytes.
func Unpack10(src [5]byte) [4]uint16 {
	b0, b1, b2, b3, b4 := uint16(src[0]), uint16(src[1]), uint16(src[2]), uint16(src[3]), uint16(src[4])

	p0 := b0 | (b1&0x3)<<8
	p1 := (b1>>2)&0x3F | (b2&0xF)<<6
	p2 := (b2>>4)&0xF | (b3&0x3F)<<4
	p3 := (b3>>6)&0x3 | b4<<2

	return [4]uint16{p0 & 0x3FF, p1 & 0x3FF, p2 & 0x3FF, p3 & 0x3FF}
}

// PackedRowLen returns the number of bytes a packed row of width w (must be
// a multiple of 4) occupies, excluding any stride padding.
func PackedRowLen(w int) int {
	return (w / 4) * 5
}

// PadWidth rounds w up to the next multiple of 4, the granularity Pack10
// operates on. Callers replicate the edge sample into the padding columns
// before packing a row, recording the pad count in the chunk header.
func PadWidth(w int) int {
	if w%4 == 0 {
		return w
	}
	return w + (4 - w%4)
}

// PackRow packs a full row of 16-bit samples (length must be a multiple of
// 4) into dst (length must be >= PackedRowLen(len(row))).
func PackRow(dst []byte, row []uint16) {
	for i := 0; i+4 <= len(row); i += 4 {
		Pack10(dst[i/4*5:], [4]uint16{row[i], row[i+1], row[i+2], row[i+3]})
	}
}

// UnpackRow unpacks a full packed row (length must be a multiple of 5) into
// dst (length must be >= len(packed)/5*4).
func UnpackRow(dst []uint16, packed []byte) {
	for i := 0; i+5 <= len(packed); i += 5 {
		var group [5]byte
		copy(group[:], packed[i:i+5])
		samples := Unpack10(group)
		copy(dst[i/5*4:], samples[:])
	}
}

// PadRow right-pads a row of 16-bit samples to PadWidth(len(row)) by
// replicating the final sample, returning the padded slice (reusing cap
// when possible) and the number of pad columns added.
func PadRow(row []uint16, scratch []uint16) ([]uint16, int) {
	w := len(row)
	padded := PadWidth(w)
	pad := padded - w
	if pad == 0 {
		return row, 0
	}
	if cap(scratch) < padded {
		scratch = make([]uint16, padded)
	}
	scratch = scratch[:padded]
	copy(scratch, row)
	last := row[w-1]
	for i := w; i < padded; i++ {
		scratch[i] = last
	}
	return scratch, pad
}
