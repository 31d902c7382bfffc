package index

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketManifest         = []byte("manifest")
	bucketPTablePrefix      = "ptable-"
	bucketStreamMetadata    = []byte("stream_metadata")
	bucketCheckpoint        = []byte("checkpoint")
	manifestKeyGenerations  = []byte("generations")
	checkpointKeyLogPos     = []byte("log_position")
)

// boltStore is the bbolt-backed persistence layer beneath the Index:
// the manifest (live PTable generations), the PTable entries
// themselves, persisted stream metadata, and the index checkpoint.
type boltStore struct {
	db *bolt.DB
}

func openBoltStore(dataDir string) (*boltStore, error) {
	dbPath := filepath.Join(dataDir, "index.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("index: open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketManifest, bucketStreamMetadata, bucketCheckpoint} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("index: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func ptableBucketName(generation int) []byte {
	return []byte(bucketPTablePrefix + strconv.Itoa(generation))
}

// loadManifest returns the list of live PTable generations and their
// decoded entries.
func (s *boltStore) loadManifest() ([]*ptable, error) {
	var generations []int
	var tables []*ptable
	err := s.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketManifest)
		raw := mb.Get(manifestKeyGenerations)
		if raw != nil {
			if err := json.Unmarshal(raw, &generations); err != nil {
				return fmt.Errorf("index: decode manifest: %w", err)
			}
		}
		for _, gen := range generations {
			pb := tx.Bucket(ptableBucketName(gen))
			if pb == nil {
				continue
			}
			var entries []ptableEntry
			c := pb.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				e, err := decodePTableEntry(v)
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
			tables = append(tables, newPTable(gen, entries))
		}
		return nil
	})
	return tables, err
}

// persistPTable writes a new PTable generation's entries and appends
// it to the manifest, as a single bbolt transaction so the manifest
// swap the index design requires is atomic.
func (s *boltStore) persistPTable(generation int, entries []ptableEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb, err := tx.CreateBucketIfNotExists(ptableBucketName(generation))
		if err != nil {
			return err
		}
		for i, e := range entries {
			key := make([]byte, 8)
			// Sequential key preserves insertion (sorted) order on replay.
			putUint64(key, uint64(i))
			enc := encodePTableEntry(e)
			if err := pb.Put(key, enc[:]); err != nil {
				return err
			}
		}
		return s.appendGenerationLocked(tx, generation)
	})
}

func (s *boltStore) appendGenerationLocked(tx *bolt.Tx, generation int) error {
	mb := tx.Bucket(bucketManifest)
	var generations []int
	if raw := mb.Get(manifestKeyGenerations); raw != nil {
		if err := json.Unmarshal(raw, &generations); err != nil {
			return err
		}
	}
	generations = append(generations, generation)
	enc, err := json.Marshal(generations)
	if err != nil {
		return err
	}
	return mb.Put(manifestKeyGenerations, enc)
}

// swapManifest atomically replaces the set of live generations with
// replacement (a merge's output), deleting the superseded buckets.
func (s *boltStore) swapManifest(oldGenerations []int, newGeneration int, entries []ptableEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, gen := range oldGenerations {
			if err := tx.DeleteBucket(ptableBucketName(gen)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		pb, err := tx.CreateBucketIfNotExists(ptableBucketName(newGeneration))
		if err != nil {
			return err
		}
		for i, e := range entries {
			key := make([]byte, 8)
			putUint64(key, uint64(i))
			enc := encodePTableEntry(e)
			if err := pb.Put(key, enc[:]); err != nil {
				return err
			}
		}
		mb := tx.Bucket(bucketManifest)
		enc, err := json.Marshal([]int{newGeneration})
		if err != nil {
			return err
		}
		return mb.Put(manifestKeyGenerations, enc)
	})
}

func putUint64(buf []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

// streamMetadataRecord is the JSON-persisted form of types.StreamMetadata
// plus the tombstone flag, keyed by stream id.
type streamMetadataRecord struct {
	Tombstoned     bool  `json:"tombstoned"`
	TruncateBefore int64 `json:"truncate_before"`
	MaxAgeSeconds  int64 `json:"max_age_seconds,omitempty"`
	MaxCount       int64 `json:"max_count,omitempty"`
	Version        int64 `json:"version"`
}

func (s *boltStore) putStreamMetadata(streamID string, rec streamMetadataRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		enc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStreamMetadata).Put([]byte(streamID), enc)
	})
}

func (s *boltStore) getStreamMetadata(streamID string) (streamMetadataRecord, bool, error) {
	var rec streamMetadataRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketStreamMetadata).Get([]byte(streamID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	return rec, found, err
}

func (s *boltStore) putCheckpoint(logPosition int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		putUint64(buf, uint64(logPosition))
		return tx.Bucket(bucketCheckpoint).Put(checkpointKeyLogPos, buf)
	})
}

func (s *boltStore) getCheckpoint() (int64, error) {
	var pos int64 = -1
	err := s.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(bucketCheckpoint).Get(checkpointKeyLogPos)
		if buf == nil {
			return nil
		}
		var v uint64
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
		pos = int64(v)
		return nil
	})
	return pos, err
}

func (s *boltStore) close() error {
	return s.db.Close()
}
