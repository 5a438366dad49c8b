package scte35

// MPEG-2 CRC-32: polynomial 0x04C11DB7, initial 0xFFFFFFFF, no reflection,
// no final xor. hash/crc32 only implements reflected variants.

var mpegCRCTable [256]uint32

func init() {
	for i := range mpegCRCTable {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		mpegCRCTable[i] = crc
	}
}

func mpegCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ mpegCRCTable[byte(crc>>24)^b]
	}
	return crc
}
