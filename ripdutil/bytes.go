package ripdutil

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ReadBytes reads n bytes from buf. It panics if fewer than n remain;
// callers are expected to have already checked the datagram length
// (the wire codec never calls this past a validated boundary).
func ReadBytes(n int, buf *bytes.Buffer) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		panic(err)
	}
	return b
}

// ReadByte reads a single byte off buf.
func ReadByte(buf *bytes.Buffer) byte {
	return ReadBytes(1, buf)[0]
}

// ReadUint16 reads 2 big-endian bytes off buf.
func ReadUint16(buf *bytes.Buffer) uint16 {
	return binary.BigEndian.Uint16(ReadBytes(2, buf))
}

// ReadUint32 reads 4 big-endian bytes off buf.
func ReadUint32(buf *bytes.Buffer) uint32 {
	return binary.BigEndian.Uint32(ReadBytes(4, buf))
}

// WriteUint16 appends v to buf as 2 big-endian bytes.
func WriteUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// WriteUint32 appends v to buf as 4 big-endian bytes.
func WriteUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
