package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("invalid ID")
)

// BucketTokens holds access and refresh tokens.
const BucketTokens = "tokens"

// Record is one stored entity.
type Record = map[string]any

// Store represents the bbolt database wrapper. Entities live in one bucket
// per division and resource, keyed by insertion sequence.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New creates a new Store instance and initializes buckets.
func New(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketTokens)); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", BucketTokens, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResourceBucket names the bucket of a resource in a division.
func ResourceBucket(division, service, resource string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", division, service, resource))
}

// Insert stores a new record, assigning an ID and creation time.
func (s *Store) Insert(bucketName string, rec Record) (Record, error) {
	if rec == nil {
		rec = Record{}
	}
	if id, ok := rec["ID"].(string); !ok || id == "" {
		rec["ID"] = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID
	}
	stamp := s.now().UTC().Format(time.RFC3339)
	rec["Created"] = stamp
	rec["Modified"] = stamp

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		return b.Put(itob(seq), data)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get retrieves a record by ID.
func (s *Store) Get(bucketName, id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		_, found, err := find(tx.Bucket([]byte(bucketName)), id)
		rec = found
		return err
	})
	return rec, err
}

// Update merges fields into the record with the given ID.
func (s *Store) Update(bucketName, id string, fields Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		key, rec, err := find(b, id)
		if err != nil {
			return err
		}

		for k, v := range fields {
			if k == "ID" {
				continue
			}
			rec[k] = v
		}
		rec["Modified"] = s.now().UTC().Format(time.RFC3339)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		return b.Put(key, data)
	})
}

// Delete removes the record with the given ID.
func (s *Store) Delete(bucketName, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		key, _, err := find(b, id)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// List retrieves the records of a bucket in insertion order. A bucket that
// was never written is empty.
func (s *Store) List(bucketName string, filter func(rec Record) bool) ([]Record, error) {
	results := []Record{}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if filter == nil || filter(rec) {
				results = append(results, rec)
			}
			return nil
		})
	})

	return results, err
}

// PutString stores a string value with a string key.
func (s *Store) PutString(bucketName, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketName)
		}

		return b.Put([]byte(key), []byte(value))
	})
}

// GetString retrieves a string value with a string key.
func (s *Store) GetString(bucketName, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketName)
		}

		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		value = string(data)
		return nil
	})
	return value, err
}

// DeleteString removes a value with a string key.
func (s *Store) DeleteString(bucketName, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketName)
		}

		return b.Delete([]byte(key))
	})
}

// find scans b for the record with the given ID.
func find(b *bolt.Bucket, id string) ([]byte, Record, error) {
	if b == nil {
		return nil, nil, ErrNotFound
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, ErrInvalidID
	}

	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rec, err := decode(v)
		if err != nil {
			return nil, nil, err
		}
		if recID, _ := rec["ID"].(string); strings.EqualFold(recID, parsed.String()) {
			// Keys are only valid during the transaction.
			return bytes.Clone(k), rec, nil
		}
	}
	return nil, nil, ErrNotFound
}

func decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return rec, nil
}

// itob converts a sequence to a byte slice for use as a bbolt key.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
