package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSMData = []byte("sm_data")
	bucketSMMeta = []byte("sm_meta")

	keyAppliedIndex = []byte("applied_index")
	dedupKeyPrefix  = "dedup:"
)

// BoltStateStore implements StateStore with go.etcd.io/bbolt, following the
// teacher's bucket-per-collection idiom: sm_data holds one JSON record per
// key, sm_meta holds the applied index and the client dedup table.
type BoltStateStore struct {
	db *bolt.DB
}

// NewBoltStateStore opens (creating if absent) the state machine database
// under dataDir.
func NewBoltStateStore(dataDir string) (*BoltStateStore, error) {
	dbPath := filepath.Join(dataDir, "distacean-sm.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state machine database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSMData, bucketSMMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStateStore{db: db}, nil
}

func (s *BoltStateStore) Close() error {
	return s.db.Close()
}

func (s *BoltStateStore) Get(key string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSMData).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	return entry, found, err
}

func (s *BoltStateStore) Dedup(clientID uint64, seqID uint64) ([]byte, bool, error) {
	var record dedupRecord
	ok := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSMMeta).Get(dedupKey(clientID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		ok = record.SeqID == seqID
		return nil
	})
	if !ok {
		return nil, false, err
	}
	return record.Response, true, err
}

func (s *BoltStateStore) ApplyBatch(b Batch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if b.Mutation != nil {
			data, err := json.Marshal(b.Mutation.Entry)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketSMData).Put([]byte(b.Mutation.Key), data); err != nil {
				return err
			}
		}

		if b.HasDedup {
			record := dedupRecord{SeqID: b.DedupSeqID, Response: b.DedupResponse}
			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketSMMeta).Put(dedupKey(b.DedupClientID), data); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketSMMeta).Put(keyAppliedIndex, encodeUint64(b.AppliedIndex))
	})
}

func (s *BoltStateStore) AppliedIndex() (uint64, error) {
	var index uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSMMeta).Get(keyAppliedIndex)
		if data == nil {
			return nil
		}
		index = decodeUint64(data)
		return nil
	})
	return index, err
}

type dedupRecord struct {
	SeqID    uint64 `json:"seq_id"`
	Response []byte `json:"response,omitempty"`
}

type snapshotHeader struct {
	AppliedIndex uint64                 `json:"applied_index"`
	Dedup        map[string]dedupRecord `json:"dedup"`
}

type snapshotRecord struct {
	Key   string `json:"key"`
	Entry Entry  `json:"entry"`
}

// Snapshot writes a length-prefixed stream: a JSON header frame (applied
// index + the full dedup table), followed by one JSON frame per key entry.
func (s *BoltStateStore) Snapshot(w io.Writer) error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketSMMeta)

		header := snapshotHeader{
			AppliedIndex: decodeUint64(meta.Get(keyAppliedIndex)),
			Dedup:        make(map[string]dedupRecord),
		}

		prefix := []byte(dedupKeyPrefix)
		c := meta.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record dedupRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			header.Dedup[string(k[len(prefix):])] = record
		}

		headerBytes, err := json.Marshal(header)
		if err != nil {
			return err
		}
		if err := writeFrame(w, headerBytes); err != nil {
			return err
		}

		return tx.Bucket(bucketSMData).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			recordBytes, err := json.Marshal(snapshotRecord{Key: string(k), Entry: entry})
			if err != nil {
				return err
			}
			return writeFrame(w, recordBytes)
		})
	})
}

// Restore replaces sm_data and sm_meta's contents with the stream produced
// by Snapshot, inside a single transaction.
func (s *BoltStateStore) Restore(r io.Reader) error {
	headerBytes, err := readFrame(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot header: %w", err)
	}
	var header snapshotHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return fmt.Errorf("failed to decode snapshot header: %w", err)
	}

	var records []snapshotRecord
	for {
		frame, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read snapshot record: %w", err)
		}
		var record snapshotRecord
		if err := json.Unmarshal(frame, &record); err != nil {
			return fmt.Errorf("failed to decode snapshot record: %w", err)
		}
		records = append(records, record)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSMData); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if err := tx.DeleteBucket(bucketSMMeta); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		data, err := tx.CreateBucket(bucketSMData)
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucket(bucketSMMeta)
		if err != nil {
			return err
		}

		for _, record := range records {
			entryBytes, err := json.Marshal(record.Entry)
			if err != nil {
				return err
			}
			if err := data.Put([]byte(record.Key), entryBytes); err != nil {
				return err
			}
		}

		for clientID, record := range header.Dedup {
			recordBytes, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := meta.Put([]byte(dedupKeyPrefix+clientID), recordBytes); err != nil {
				return err
			}
		}

		return meta.Put(keyAppliedIndex, encodeUint64(header.AppliedIndex))
	})
}

func dedupKey(clientID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", dedupKeyPrefix, clientID))
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(data []byte) uint64 {
	if len(data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
