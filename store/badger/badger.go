package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"git.wyat.me/zuul-gateway/store"
)

type BadgerStore struct {
	db *badger.DB
}

func New(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(_ context.Context, sha string, compressed []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(sha))
		if err == nil {
			return nil // already exists, nothing to do
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(sha), compressed)
	})
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

func (s *BadgerStore) Get(_ context.Context, sha string) ([]byte, error) {
	var compressed []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sha))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, sha)
		}
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return compressed, nil
}

func (s *BadgerStore) Exists(_ context.Context, sha string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(sha))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

func (s *BadgerStore) Delete(_ context.Context, sha string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sha))
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
