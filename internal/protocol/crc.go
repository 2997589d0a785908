package protocol

// CRC-16/CCITT-FALSE generator polynomial
const crc16Poly = 0x1021

// crc16Init is the CRC register seed.
const crc16Init = 0xFFFF

// Pre-computed CRC table
var crcTable [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = (c << 1) ^ crc16Poly
			} else {
				c = c << 1
			}
		}
		crcTable[i] = c
	}
}

// Checksum computes the CRC-16/CCITT-FALSE of data.
func Checksum(data []byte) uint16 {
	var rem uint16 = crc16Init
	for _, b := range data {
		rem = (rem << 8) ^ crcTable[byte(rem>>8)^b]
	}
	return rem
}
