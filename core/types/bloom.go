package types

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// bloom9 computes the 3 bit positions for a bloom filter entry: the first
// 6 bytes of keccak256(data), read as three big-endian uint16 values mod 2048.
func bloom9(data []byte) [3]uint {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	h := d.Sum(nil)
	var bits [3]uint
	for i := 0; i < 3; i++ {
		bits[i] = uint(binary.BigEndian.Uint16(h[2*i:])) & 0x7FF
	}
	return bits
}

// BloomAdd sets the 3 bloom bits derived from data in the bloom filter.
func BloomAdd(bloom *Bloom, data []byte) {
	for _, bit := range bloom9(data) {
		bloom[BloomLength-1-bit/8] |= 1 << (bit % 8)
	}
}

// BloomContains checks whether all 3 bits for data are set.
func BloomContains(bloom Bloom, data []byte) bool {
	for _, bit := range bloom9(data) {
		if bloom[BloomLength-1-bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// LogsBloom computes the bloom filter for a set of logs.
func LogsBloom(logs []*Log) Bloom {
	var bloom Bloom
	for _, log := range logs {
		BloomAdd(&bloom, log.Address.Bytes())
		for _, topic := range log.Topics {
			BloomAdd(&bloom, topic.Bytes())
		}
	}
	return bloom
}

// CreateBloom ORs together the blooms of the given receipts.
func CreateBloom(receipts []*Receipt) Bloom {
	var bloom Bloom
	for _, receipt := range receipts {
		for i := range receipt.Bloom {
			bloom[i] |= receipt.Bloom[i]
		}
	}
	return bloom
}
