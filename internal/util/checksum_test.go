package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0xFF}},
		{"large", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ComputeChecksum(tt.data), ComputeChecksum(tt.data))
		})
	}
}

func TestSealUnseal(t *testing.T) {
	data := []byte("bloom filter snapshot")
	sealed := Seal(data)

	assert.Len(t, sealed, len(data)+ChecksumSize)

	payload, expected, actual, ok := Unseal(sealed)
	assert.True(t, ok)
	assert.Equal(t, expected, actual)
	assert.Equal(t, data, payload)
	assert.Equal(t, []byte("bloom filter snapshot"), data, "input must not be modified")
}

func TestUnseal_Corrupted(t *testing.T) {
	sealed := Seal([]byte("payload"))
	sealed[0] ^= 0xFF

	_, expected, actual, ok := Unseal(sealed)
	assert.False(t, ok)
	assert.NotEqual(t, expected, actual)
}

func TestUnseal_Short(t *testing.T) {
	_, _, _, ok := Unseal([]byte{1, 2})
	assert.False(t, ok)
}
