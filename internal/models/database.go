package models

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bootsBucket = []byte("boots")
	syncsBucket = []byte("syncs")
)

// maxRecords is how many records each history bucket retains
const maxRecords = 500

// Database stores boot and sync history in a bbolt file
type Database struct {
	db   *bbolt.DB
	keep int
}

// NewDatabase opens (or creates) the history database
func NewDatabase(path string) (*Database, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bootsBucket, syncsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Database{db: db, keep: maxRecords}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.db.Close()
}

// Boot operations

// SaveBoot appends a boot record and assigns its sequence number
func (db *Database) SaveBoot(rec *BootRecord) error {
	return db.insert(bootsBucket, func(seq uint64) ([]byte, error) {
		rec.Seq = seq
		return json.Marshal(rec)
	})
}

// RecentBoots returns up to limit boot records, newest first
func (db *Database) RecentBoots(limit int) ([]*BootRecord, error) {
	var boots []*BootRecord
	err := db.recent(bootsBucket, limit, func(v []byte) error {
		var rec BootRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		boots = append(boots, &rec)
		return nil
	})
	return boots, err
}

// Sync operations

// SaveSync appends a sync record and assigns its sequence number
func (db *Database) SaveSync(rec *SyncRecord) error {
	return db.insert(syncsBucket, func(seq uint64) ([]byte, error) {
		rec.Seq = seq
		return json.Marshal(rec)
	})
}

// RecentSyncs returns up to limit sync records, newest first
func (db *Database) RecentSyncs(limit int) ([]*SyncRecord, error) {
	var syncs []*SyncRecord
	err := db.recent(syncsBucket, limit, func(v []byte) error {
		var rec SyncRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		syncs = append(syncs, &rec)
		return nil
	})
	return syncs, err
}

func (db *Database) insert(bucket []byte, encode func(seq uint64) ([]byte, error)) error {
	return db.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		value, err := encode(seq)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		if err := b.Put(seqKey(seq), value); err != nil {
			return err
		}
		if db.keep > 0 && seq > uint64(db.keep) {
			return prune(b, seqKey(seq-uint64(db.keep)+1))
		}
		return nil
	})
}

// prune deletes every record keyed below limit
func prune(b *bbolt.Bucket, limit []byte) error {
	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil && bytes.Compare(k, limit) < 0; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return fmt.Errorf("failed to prune record %d: %w", binary.BigEndian.Uint64(k), err)
		}
	}
	return nil
}

func (db *Database) recent(bucket []byte, limit int, decode func(v []byte) error) error {
	return db.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		n := 0
		for k, v := c.Last(); k != nil && (limit <= 0 || n < limit); k, v = c.Prev() {
			if err := decode(v); err != nil {
				return fmt.Errorf("failed to decode record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			n++
		}
		return nil
	})
}

// seqKey encodes a sequence big-endian so cursor order matches insertion order
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
