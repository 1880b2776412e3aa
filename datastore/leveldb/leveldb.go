// Package leveldb implements the peer.Index interface on LevelDB.
package leveldb

import (
	"fmt"
	"sync"

	"peerage/nid"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	log "github.com/sirupsen/logrus"
)

var ErrCorrupted = fmt.Errorf("corrupted")

type store struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromID(id *nid.ID) []byte {
	return append([]byte(keyPrefixPeer), []byte(id.String())...)
}

func keyFromSeq(seq uint64) []byte {
	return append([]byte(keyPrefixSeq), []byte(fmt.Sprintf("%016x", seq))...)
}

func seqFromKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefixSeq)+16 {
		return 0, fmt.Errorf("seqFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(keyPrefixSeq)]) != keyPrefixSeq {
		return 0, fmt.Errorf("seqFromKey: invalid key prefix: %s", string(key[:len(keyPrefixSeq)]))
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefixSeq):]), "%016x", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func initLevelDb(path string) (*leveldb.DB, error) {
	opts := &opt.Options{
		Compression: opt.NoCompression,
	}

	// Open or create the new DB
	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Opened LevelDB at %s", path)

	return db, nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
