package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
)

// EncodeGob is used for internal snapshots that are never read by other tools.
func EncodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

func decodeJSON(b []byte, v any) error { return json.Unmarshal(b, v) }

// DecodeJSON is the counterpart of Batch.SetJSON for iterator values.
func DecodeJSON(b []byte, v any) error { return decodeJSON(b, v) }

// Uint64Key returns the big-endian encoding of v so numeric keys sort in order.
func Uint64Key(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

// DecodeUint64Key reverses Uint64Key.
func DecodeUint64Key(k []byte) uint64 { return binary.BigEndian.Uint64(k) }

// Int32Key encodes v with its sign bit flipped so negative ticks sort first.
func Int32Key(v int32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(v)^0x80000000)
	return k[:]
}

// DecodeInt32Key reverses Int32Key.
func DecodeInt32Key(k []byte) int32 {
	return int32(binary.BigEndian.Uint32(k) ^ 0x80000000)
}
