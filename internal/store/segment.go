package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// A .cbseg file is a 16-byte header followed by framed records:
//
//	header: magic u32 | version u32 | created unix seconds i64
//	frame:  payload length u32 | crc32(payload) u32 | payload
//
// All integers are little-endian.
const (
	MagicBytes    uint32 = 0x43425347
	FormatVersion uint32 = 1
	HeaderSize    int    = 16
	frameHeader   int    = 8
	segmentExt           = ".cbseg"
)

// SegmentStore keeps one append-only binary segment file per set.
type SegmentStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
	ids    map[string]map[string]struct{}
}

func NewSegment(dir string) (*SegmentStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating segment directory: %w", err)
	}
	return &SegmentStore{
		dir:    dir,
		logger: slog.Default().With("component", "segment-store"),
		ids:    make(map[string]map[string]struct{}),
	}, nil
}

func (s *SegmentStore) path(set string) string {
	return filepath.Join(s.dir, set+segmentExt)
}

func segmentHeader() []byte {
	h := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(h[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(h[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(h[8:16], uint64(time.Now().Unix()))
	return h
}

func frame(payload []byte) []byte {
	buf := make([]byte, frameHeader+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[frameHeader:], payload)
	return buf
}

func (s *SegmentStore) Append(ctx context.Context, set string, rec Record, truncate bool) error {
	if err := checkRecord(set, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	framed := frame(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(set)
	if truncate {
		if err := writeFileAtomic(path, append(segmentHeader(), framed...)); err != nil {
			return fmt.Errorf("rewriting segment %s: %w", path, err)
		}
		s.ids[set] = map[string]struct{}{rec.ID: {}}
		return nil
	}

	ids, err := s.knownIDs(set)
	if err != nil {
		return err
	}
	if _, ok := ids[rec.ID]; ok {
		return duplicate(set, rec.ID)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat segment %s: %w", path, err)
	}
	if info.Size() == 0 {
		framed = append(segmentHeader(), framed...)
	}
	if _, err := f.Write(framed); err != nil {
		f.Close()
		return fmt.Errorf("appending to segment %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment %s: %w", path, err)
	}
	ids[rec.ID] = struct{}{}
	return nil
}

func (s *SegmentStore) knownIDs(set string) (map[string]struct{}, error) {
	if ids, ok := s.ids[set]; ok {
		return ids, nil
	}
	ids := make(map[string]struct{})
	recs, valid, size, err := s.scan(set)
	if err != nil && !errors.Is(err, apperrors.ErrSetNotFound) {
		return nil, err
	}
	if err == nil && valid < size {
		// Later appends must not land behind a torn record.
		s.logger.Warn("truncating torn segment tail", "path", s.path(set), "from", size, "to", valid)
		if err := os.Truncate(s.path(set), valid); err != nil {
			return nil, fmt.Errorf("truncating segment %s: %w", s.path(set), err)
		}
	}
	for _, r := range recs {
		ids[r.ID] = struct{}{}
	}
	s.ids[set] = ids
	return ids, nil
}

func (s *SegmentStore) Load(ctx context.Context, set string) ([]Record, error) {
	if err := checkSet(set); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, _, _, err := s.scan(set)
	return recs, err
}

// scan decodes every intact record of set. It also returns the offset just
// past the last intact record and the file size.
func (s *SegmentStore) scan(set string) ([]Record, int64, int64, error) {
	path := s.path(set)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, 0, notFound(set)
		}
		return nil, 0, 0, fmt.Errorf("reading segment %s: %w", path, err)
	}
	if len(data) < HeaderSize {
		return nil, 0, 0, fmt.Errorf("%w: segment %s shorter than its header", apperrors.ErrMalformedBuffer, path)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MagicBytes {
		return nil, 0, 0, fmt.Errorf("%w: segment %s has bad magic bytes %x", apperrors.ErrMalformedBuffer, path, magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, 0, 0, fmt.Errorf("%w: segment %s has unsupported version %d", apperrors.ErrMalformedBuffer, path, v)
	}

	var out []Record
	off := HeaderSize
	for off < len(data) {
		rest := len(data) - off
		if rest < frameHeader {
			s.logger.Warn("ignoring torn record at end of segment", "path", path, "offset", off, "bytes", rest)
			break
		}
		n := int(binary.LittleEndian.Uint32(data[off : off+4]))
		sum := binary.LittleEndian.Uint32(data[off+4 : off+8])
		end := off + frameHeader + n
		if n > rest-frameHeader {
			s.logger.Warn("ignoring torn record at end of segment", "path", path, "offset", off, "bytes", rest)
			break
		}
		payload := data[off+frameHeader : end]
		if crc32.ChecksumIEEE(payload) != sum {
			if end == len(data) {
				s.logger.Warn("ignoring corrupt final record in segment", "path", path, "offset", off)
				break
			}
			return nil, 0, 0, fmt.Errorf("%w: segment %s checksum mismatch at offset %d", apperrors.ErrMalformedBuffer, path, off)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("segment %s offset %d: %w", path, off, err)
		}
		out = append(out, rec)
		off = end
	}
	return out, int64(off), int64(len(data)), nil
}

func (s *SegmentStore) Sets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	sets := make(map[string]struct{})
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), segmentExt) {
			sets[strings.TrimSuffix(e.Name(), segmentExt)] = struct{}{}
		}
	}
	return sortedKeys(sets), nil
}

func (s *SegmentStore) Close() error { return nil }
