package blockstore

import (
	"context"
	"errors"
	"fmt"

	cid "github.com/ipfs/go-cid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// blockTableSpace prefixes all block keys, leaving room for other table
// spaces when the database file is shared with the embedding node.
const blockTableSpace = byte('B')

// LevelDbStore is a BlockStore persisting blocks in a LevelDB instance.
type LevelDbStore struct {
	db     *leveldb.DB
	prefix cid.Prefix
}

// OpenLevelDbStore opens (or creates) a LevelDB backed block store in the
// given directory.
func OpenLevelDbStore(path string) (*LevelDbStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb block store: %w", err)
	}
	return &LevelDbStore{db: db, prefix: DefaultCidPrefix()}, nil
}

func (s *LevelDbStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := s.prefix.Sum(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to derive cid: %w", err)
	}
	if err := s.db.Put(blockKey(c), data, nil); err != nil {
		return cid.Undef, fmt.Errorf("failed to store block %s: %w", c, err)
	}
	return c, nil
}

func (s *LevelDbStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := s.db.Get(blockKey(c), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load block %s: %w", c, err)
	}
	return data, nil
}

func (s *LevelDbStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	exists, err := s.db.Has(blockKey(c), nil)
	if err != nil {
		return false, fmt.Errorf("failed to probe block %s: %w", c, err)
	}
	return exists, nil
}

// Close flushes and closes the underlying database.
func (s *LevelDbStore) Close() error {
	return s.db.Close()
}

func blockKey(c cid.Cid) []byte {
	return append([]byte{blockTableSpace}, c.Bytes()...)
}
