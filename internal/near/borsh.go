package near

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
)

var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// borshWriter encodes the subset of borsh needed for transactions.
// Integers are little-endian; strings and byte vectors carry a u32 length.
type borshWriter struct {
	buf bytes.Buffer
	err error
}

func (w *borshWriter) u8(v byte) {
	w.buf.WriteByte(v)
}

func (w *borshWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *borshWriter) u128(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.Cmp(maxU128) > 0 {
		if w.err == nil {
			w.err = errors.Errorf("value %s does not fit in u128", v)
		}
		return
	}
	var b [16]byte
	be := v.Bytes()
	for i, c := range be {
		b[len(be)-1-i] = c
	}
	w.buf.Write(b[:])
}

func (w *borshWriter) fixed(b []byte) {
	w.buf.Write(b)
}

func (w *borshWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *borshWriter) string(s string) {
	w.bytes([]byte(s))
}

func (w *borshWriter) result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}
