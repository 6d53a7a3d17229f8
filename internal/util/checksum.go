package util

import (
	"encoding/binary"
	"hash/crc32"
)

// ChecksumSize is the width of the trailer written by Seal.
const ChecksumSize = 4

// Castagnoli has hardware support on amd64 and arm64.
var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes a CRC32-C checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// Seal appends a little-endian checksum trailer.
// Format: [data][checksum (4 bytes)]
func Seal(data []byte) []byte {
	sealed := make([]byte, len(data), len(data)+ChecksumSize)
	copy(sealed, data)
	return binary.LittleEndian.AppendUint32(sealed, ComputeChecksum(data))
}

// Unseal verifies the trailer written by Seal and returns the payload along
// with the expected and actual checksums. ok is false for short input or a
// mismatch.
func Unseal(sealed []byte) (data []byte, expected, actual uint32, ok bool) {
	if len(sealed) < ChecksumSize {
		return nil, 0, 0, false
	}
	n := len(sealed) - ChecksumSize
	data = sealed[:n]
	expected = binary.LittleEndian.Uint32(sealed[n:])
	actual = ComputeChecksum(data)
	return data, expected, actual, expected == actual
}
