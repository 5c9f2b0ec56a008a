package util

// ReadBytes reads offset bytes starting at cursor.
func ReadBytes(buff []byte, cursor int, offset int) (int, []byte) {
	if offset <= 0 {
		return cursor, nil
	}
	return cursor + offset, buff[cursor : cursor+offset]
}

// ReadUB4 reads 4 little-endian bytes starting at cursor.
func ReadUB4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor])
	i |= uint32(buff[cursor+1]) << 8
	i |= uint32(buff[cursor+2]) << 16
	i |= uint32(buff[cursor+3]) << 24
	return cursor + 4, i
}

// ReadUB8 reads 8 little-endian bytes starting at cursor as a uint64.
func ReadUB8(buff []byte, cursor int) (int, uint64) {
	i := uint64(buff[cursor])
	i |= uint64(buff[cursor+1]) << 8
	i |= uint64(buff[cursor+2]) << 16
	i |= uint64(buff[cursor+3]) << 24
	i |= uint64(buff[cursor+4]) << 32
	i |= uint64(buff[cursor+5]) << 40
	i |= uint64(buff[cursor+6]) << 48
	i |= uint64(buff[cursor+7]) << 56
	return cursor + 8, i
}

// ReadUB8Long reads 8 little-endian bytes starting at cursor as an int64.
func ReadUB8Long(buff []byte, cursor int) (int, int64) {
	i := int64(buff[cursor])
	i |= int64(buff[cursor+1]) << 8
	i |= int64(buff[cursor+2]) << 16
	i |= int64(buff[cursor+3]) << 24
	i |= int64(buff[cursor+4]) << 32
	i |= int64(buff[cursor+5]) << 40
	i |= int64(buff[cursor+6]) << 48
	i |= int64(buff[cursor+7]) << 56
	return cursor + 8, i
}
