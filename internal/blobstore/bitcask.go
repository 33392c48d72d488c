package blobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go-sd-gallery/internal/database"
)

// blobPrefix namespaces image objects inside the bitcask keyspace.
const blobPrefix = "blob_"

// objectHeader is stored in front of the image bytes in one bitcask value,
// so metadata and data are written by the same atomic Put.
type objectHeader struct {
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// BitcaskStore keeps each object as a single compressed bitcask value.
type BitcaskStore struct {
	db *database.DB
}

// OpenBitcask opens (or creates) a bitcask-backed store at path.
func OpenBitcask(path string) (*BitcaskStore, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &BitcaskStore{db: db}, nil
}

// Put implements Store.
func (s *BitcaskStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := encodeObject(objectHeader{ContentType: opts.ContentType, Size: int64(len(data))}, data)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(blobPrefix+key), value)
}

// Get implements Store.
func (s *BitcaskStore) Get(ctx context.Context, key string) ([]byte, error) {
	_, data, err := s.load(ctx, key)
	return data, err
}

// Stat implements Store.
func (s *BitcaskStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	header, _, err := s.load(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, ContentType: header.ContentType, Size: header.Size}, nil
}

// List implements Store. Keys are returned in lexical order.
func (s *BitcaskStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.db.KeysWithPrefix([]byte(blobPrefix))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(string(k), blobPrefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *BitcaskStore) Close() error {
	return s.db.Close()
}

func (s *BitcaskStore) load(ctx context.Context, key string) (objectHeader, []byte, error) {
	if err := ctx.Err(); err != nil {
		return objectHeader{}, nil, err
	}
	value, err := s.db.Get([]byte(blobPrefix + key))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return objectHeader{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return objectHeader{}, nil, err
	}
	return decodeObject(value)
}

// encodeObject frames a value as: uint32 header length, JSON header, data.
func encodeObject(header objectHeader, data []byte) ([]byte, error) {
	rawHeader, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encoding object header: %w", err)
	}
	value := make([]byte, 4, 4+len(rawHeader)+len(data))
	binary.BigEndian.PutUint32(value, uint32(len(rawHeader)))
	value = append(value, rawHeader...)
	return append(value, data...), nil
}

func decodeObject(value []byte) (objectHeader, []byte, error) {
	var header objectHeader
	if len(value) < 4 {
		return header, nil, errors.New("stored object is truncated")
	}
	n := int(binary.BigEndian.Uint32(value))
	if n > len(value)-4 {
		return header, nil, errors.New("stored object header exceeds value length")
	}
	if err := json.Unmarshal(value[4:4+n], &header); err != nil {
		return header, nil, fmt.Errorf("decoding object header: %w", err)
	}
	return header, value[4+n:], nil
}
