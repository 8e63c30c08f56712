package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"net/url"

	"github.com/klauspost/compress/zstd"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/model"
)

const formatVersion uint16 = 1

var magic = [4]byte{'F', 'R', 'S', 'T'}

// Key returns the blob key holding the model of one zone. The zone id is
// path-escaped so it can never introduce a directory separator.
func Key(prefix, zoneID string) string {
	return fmt.Sprintf("%s_zone_%s.bin", prefix, url.PathEscape(zoneID))
}

// Store loads and saves model snapshots for zones.
type Store struct {
	blobs  BlobStore
	prefix string
}

// NewStore wraps blobs; keys are built with prefix.
func NewStore(blobs BlobStore, prefix string) *Store {
	return &Store{blobs: blobs, prefix: prefix}
}

// Load returns the saved state of zoneID, or nil when none has been saved.
// A blob that cannot be decoded yields ErrCorrupt.
func (s *Store) Load(ctx context.Context, zoneID string) (*model.State, error) {
	data, err := s.blobs.Get(ctx, Key(s.prefix, zoneID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model state: %w", err)
	}
	st, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return st, nil
}

// Save overwrites the state of zoneID.
func (s *Store) Save(ctx context.Context, zoneID string, st *model.State) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, Key(s.prefix, zoneID), data); err != nil {
		return fmt.Errorf("failed to save model state: %w", err)
	}
	return nil
}

// Encode serialises st as magic, format version, then a zstd frame of its gob encoding.
func Encode(st *model.State) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, formatVersion); err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(zw).Encode(st); err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to encode model state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*model.State, error) {
	if len(data) < len(magic)+2 || !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, errors.New("missing header")
	}
	if v := binary.LittleEndian.Uint16(data[len(magic):]); v != formatVersion {
		return nil, fmt.Errorf("unsupported format version %d", v)
	}

	zr, err := zstd.NewReader(bytes.NewReader(data[len(magic)+2:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var st model.State
	if err := gob.NewDecoder(zr).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
