// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps dedup state in a local badger directory:
//
//	guid:{source}:{guid}   empty value, membership only
//	url:{canonicalUrl}     JSON Provenance
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) IsGUIDSeen(ctx context.Context, source, guid string) (bool, error) {
	return s.has([]byte("guid:" + source + ":" + guid))
}

func (s *BadgerStore) MarkGUIDSeen(ctx context.Context, source, guid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("guid:"+source+":"+guid), nil)
	})
}

func (s *BadgerStore) IsURLSeen(ctx context.Context, canonicalURL string) (bool, error) {
	return s.has([]byte("url:" + canonicalURL))
}

func (s *BadgerStore) MarkURLSeen(ctx context.Context, canonicalURL, source string) error {
	key := []byte("url:" + canonicalURL)
	return s.db.Update(func(txn *badger.Txn) error {
		// First writer wins: an existing record keeps its provenance.
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		buf, err := json.Marshal(Provenance{Source: source, FirstSeenAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) Provenance(ctx context.Context, canonicalURL string) (Provenance, bool, error) {
	var p Provenance
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("url:" + canonicalURL))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Provenance{}, false, nil
	}
	if err != nil {
		return Provenance{}, false, err
	}
	return p, true, nil
}

func (s *BadgerStore) has(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

var _ Store = (*BadgerStore)(nil)
