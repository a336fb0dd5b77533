package blockdev

// Small-table CRC32 used by the filesystem library for metadata commits.
// Unlike hash/crc32 it applies no initial or final inversion, the caller
// chooses the seed and feeds data incrementally.
var crcTable = [16]uint32{
	0x00000000, 0x1db71064, 0x3b6e20c8, 0x26d930ac,
	0x76dc4190, 0x6b6b51f4, 0x4db26158, 0x5005713c,
	0xedb88320, 0xf00f9344, 0xd6d6a3e8, 0xcb61b38c,
	0x9b64c2b0, 0x86d3d2d4, 0xa00ae278, 0xbdbdf21c,
}

// CRC continues the checksum over p starting from crc.
func CRC(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = (crc >> 4) ^ crcTable[(crc^uint32(b))&0xf]
		crc = (crc >> 4) ^ crcTable[(crc^uint32(b>>4))&0xf]
	}
	return crc
}
