package id

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewULID generates a ULID: 48-bit millisecond timestamp followed by 80 random bits,
// encoded as 26 Crockford base32 characters. ULIDs sort lexicographically by time.
func NewULID() string {
	var buf [16]byte
	ms := uint64(time.Now().UnixMilli())
	binary.BigEndian.PutUint16(buf[0:2], uint16(ms>>32))
	binary.BigEndian.PutUint32(buf[2:6], uint32(ms))
	_, _ = rand.Read(buf[6:])
	return encodeBase32(buf[:], 26)
}

// NewShortID generates a 16-character sortable ID: 30 bits of the millisecond
// clock followed by 50 random bits. Used where a ULID is too long, such as
// disambiguating suffixes in storage keys.
func NewShortID() string {
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(time.Now().UnixMilli()&0x3FFFFFFF))

	var rnd [7]byte
	_, _ = rand.Read(rnd[:])

	return encodeBase32(ts[:], 6) + encodeBase32(rnd[:], 10)
}

// encodeBase32 renders the lowest n*5 bits of src as n base32 characters,
// most significant first.
func encodeBase32(src []byte, n int) string {
	out := make([]byte, n)
	total := len(src) * 8
	for i := range n {
		offset := (n - 1 - i) * 5
		var v byte
		for b := range 5 {
			bit := offset + b
			if bit >= total {
				break
			}
			if (src[len(src)-1-bit/8]>>(bit%8))&1 == 1 {
				v |= 1 << b
			}
		}
		out[i] = crockfordBase32[v]
	}
	return string(out)
}
