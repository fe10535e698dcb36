package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// Vectors are stored as little-endian IEEE-754 float64s, 8 bytes each.

func encodeVector(v feature.Vector) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(buf []byte) (feature.Vector, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("%w: vector blob of %d bytes", apperrors.ErrMalformedBuffer, len(buf))
	}
	v := make(feature.Vector, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return v, nil
}

// encodeRecord lays out a record as [uint16 id length][id][vector].
func encodeRecord(rec Record) ([]byte, error) {
	if len(rec.ID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: id of %d bytes", apperrors.ErrInvalidInput, len(rec.ID))
	}
	buf := make([]byte, 2+len(rec.ID)+8*len(rec.Vector))
	binary.LittleEndian.PutUint16(buf, uint16(len(rec.ID)))
	copy(buf[2:], rec.ID)
	copy(buf[2+len(rec.ID):], encodeVector(rec.Vector))
	return buf, nil
}

func decodeRecord(buf []byte) (Record, error) {
	if len(buf) < 2 {
		return Record{}, fmt.Errorf("%w: record of %d bytes", apperrors.ErrMalformedBuffer, len(buf))
	}
	n := int(binary.LittleEndian.Uint16(buf))
	if 2+n > len(buf) {
		return Record{}, fmt.Errorf("%w: id length %d exceeds record", apperrors.ErrMalformedBuffer, n)
	}
	vec, err := decodeVector(buf[2+n:])
	if err != nil {
		return Record{}, err
	}
	return Record{ID: string(buf[2 : 2+n]), Vector: vec}, nil
}
