package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/sitesync/src/common"
	"github.com/mosaicnetworks/sitesync/src/ism"
	"github.com/mosaicnetworks/sitesync/src/site"
	"github.com/ugorji/go/codec"
)

const (
	sitePrefix    = "site"
	messagePrefix = "msg"
)

// BadgerStore implements the Store interface on top of a Badger database.
// Site records are few and read on every round, so they are also cached in
// an InmemStore. Messages are only read from the database.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
}

// NewBadgerStore opens, or creates, the database at path and loads its site
// records.
func NewBadgerStore(path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	sites, err := store.dbGetSites()
	if err != nil {
		handle.Close()
		return nil, err
	}
	for _, s := range sites {
		store.inmemStore.SetSite(s)
	}

	return store, nil
}

//==============================================================================
//Keys

func siteKey(id int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", sitePrefix, id))
}

func messagePrefixKey(origin int) []byte {
	return []byte(fmt.Sprintf("%s_%09d_", messagePrefix, origin))
}

// sequence numbers are zero-padded so that byte order is numeric order.
func messageKey(origin int, seq int64) []byte {
	return []byte(fmt.Sprintf("%s_%09d_%019d", messagePrefix, origin, seq))
}

//==============================================================================
//Implement the Store interface

// GetSite implements the Store interface.
func (s *BadgerStore) GetSite(id int) (site.Site, error) {
	res, err := s.inmemStore.GetSite(id)
	if err != nil {
		res, err = s.dbGetSite(id)
	}
	return res, mapError(err, "Site", string(siteKey(id)))
}

// SetSite implements the Store interface.
func (s *BadgerStore) SetSite(st site.Site) error {
	if err := s.dbSetSite(st); err != nil {
		return err
	}
	return s.inmemStore.SetSite(st)
}

// Sites implements the Store interface.
func (s *BadgerStore) Sites() ([]site.Site, error) {
	return s.inmemStore.Sites()
}

// AppendMessage implements the Store interface.
func (s *BadgerStore) AppendMessage(m ism.Message) error {
	return s.dbAppendMessage(m)
}

// GetMessage implements the Store interface.
func (s *BadgerStore) GetMessage(origin int, seq int64) (ism.Message, error) {
	res, err := s.dbGetMessage(origin, seq)
	return res, mapError(err, "Message", string(messageKey(origin, seq)))
}

// MessagesFrom implements the Store interface.
func (s *BadgerStore) MessagesFrom(origin int, after int64, limit int) ([]ism.Message, error) {
	return s.dbMessagesFrom(origin, after, limit)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) dbGetSite(id int) (site.Site, error) {
	var res site.Site
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(siteKey(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return unmarshalSite(val, &res)
	})
	return res, err
}

func (s *BadgerStore) dbGetSites() ([]site.Site, error) {
	res := []site.Site{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(sitePrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var st site.Site
			if err := unmarshalSite(val, &st); err != nil {
				return err
			}
			res = append(res, st)
		}
		return nil
	})
	return res, err
}

func (s *BadgerStore) dbSetSite(st site.Site) error {
	val, err := marshalSite(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(siteKey(st.ID), val)
	})
}

func (s *BadgerStore) dbAppendMessage(m ism.Message) error {
	key := messageKey(m.Origin, m.Seq)
	return s.db.Update(func(txn *badger.Txn) error {
		//check if it already exists
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !isDBKeyNotFound(err) {
			return err
		}
		return txn.Set(key, []byte(m.Raw))
	})
}

func (s *BadgerStore) dbGetMessage(origin int, seq int64) (ism.Message, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(origin, seq))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return ism.Message{}, err
	}
	return ism.Parse(string(raw))
}

func (s *BadgerStore) dbMessagesFrom(origin int, after int64, limit int) ([]ism.Message, error) {
	res := []ism.Message{}
	if limit == 0 {
		return res, nil
	}

	prefix := messagePrefixKey(origin)
	start := prefix
	if after >= 0 {
		start = messageKey(origin, after+1)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			m, err := ism.Parse(string(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", it.Item().Key(), err)
			}
			res = append(res, m)
			if limit > 0 && len(res) == limit {
				break
			}
		}
		return nil
	})
	return res, err
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func marshalSite(st site.Site) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(st); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func unmarshalSite(data []byte, st *site.Site) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(st)
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
