package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/types"
)

var (
	// Bucket names
	bucketPods        = []byte("pods")
	bucketStreams     = []byte("streams")
	bucketStreamPaths = []byte("stream_paths")
	bucketRecords     = []byte("records")
	bucketRecordNames = []byte("record_names")
	bucketCounters    = []byte("counters")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "webpods.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.CodeDatabaseError, "failed to open database", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPods,
			bucketStreams,
			bucketStreamPaths,
			bucketRecords,
			bucketRecordNames,
			bucketCounters,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to create bucket", err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Key encodings. Pod names and stream paths never contain NUL, so it is a
// safe separator; stream and record IDs are big-endian so cursor order is
// numeric order.

func streamIDKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func pathKey(pod, path string) []byte {
	return append(append([]byte(pod), 0x00), []byte(path)...)
}

func recordKey(streamID, index int64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(streamID))
	binary.BigEndian.PutUint64(buf[8:], uint64(index))
	return buf
}

func nameKey(streamID int64, name string, index int64) []byte {
	key := make([]byte, 0, 8+len(name)+1+8)
	key = append(key, streamIDKey(streamID)...)
	key = append(key, []byte(name)...)
	key = append(key, 0x00)
	idx := make([]byte, 8)
	binary.BigEndian.PutUint64(idx, uint64(index))
	return append(key, idx...)
}

func namePrefix(streamID int64, name string) []byte {
	key := make([]byte, 0, 8+len(name)+1)
	key = append(key, streamIDKey(streamID)...)
	key = append(key, []byte(name)...)
	return append(key, 0x00)
}

func counterKey(scope, action, window string) []byte {
	key := make([]byte, 0, len(scope)+len(action)+len(window)+2)
	key = append(key, []byte(scope)...)
	key = append(key, 0x00)
	key = append(key, []byte(action)...)
	key = append(key, 0x00)
	return append(key, []byte(window)...)
}

// Pod operations

func (s *BoltStore) CreatePod(pod *types.Pod) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPods)
		if b.Get([]byte(pod.Name)) != nil {
			return errdefs.Newf(errdefs.CodePodExists, "pod already exists: %s", pod.Name)
		}
		data, err := json.Marshal(pod)
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to encode pod", err)
		}
		return b.Put([]byte(pod.Name), data)
	})
}

func (s *BoltStore) GetPod(name string) (*types.Pod, error) {
	var pod types.Pod
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPods)
		data := b.Get([]byte(name))
		if data == nil {
			return errdefs.Newf(errdefs.CodePodNotFound, "pod not found: %s", name)
		}
		return json.Unmarshal(data, &pod)
	})
	if err != nil {
		return nil, err
	}
	return &pod, nil
}

func (s *BoltStore) ListPods() ([]*types.Pod, error) {
	var pods []*types.Pod
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPods)
		return b.ForEach(func(k, v []byte) error {
			var pod types.Pod
			if err := json.Unmarshal(v, &pod); err != nil {
				return err
			}
			pods = append(pods, &pod)
			return nil
		})
	})
	return pods, err
}

func (s *BoltStore) UpdatePod(pod *types.Pod) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPods)
		if b.Get([]byte(pod.Name)) == nil {
			return errdefs.Newf(errdefs.CodePodNotFound, "pod not found: %s", pod.Name)
		}
		data, err := json.Marshal(pod)
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to encode pod", err)
		}
		return b.Put([]byte(pod.Name), data)
	})
}

// DeletePod removes the pod and everything under it: streams, their
// records and the name index entries.
func (s *BoltStore) DeletePod(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pods := tx.Bucket(bucketPods)
		if pods.Get([]byte(name)) == nil {
			return errdefs.Newf(errdefs.CodePodNotFound, "pod not found: %s", name)
		}

		prefix := pathKey(name, "/")
		paths := tx.Bucket(bucketStreamPaths)
		c := paths.Cursor()

		var streamIDs [][]byte
		var pathKeys [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			streamIDs = append(streamIDs, append([]byte(nil), v...))
			pathKeys = append(pathKeys, append([]byte(nil), k...))
		}

		for _, sid := range streamIDs {
			if err := deleteStreamRows(tx, sid); err != nil {
				return err
			}
		}
		for _, pk := range pathKeys {
			if err := paths.Delete(pk); err != nil {
				return err
			}
		}

		return pods.Delete([]byte(name))
	})
}

// deleteStreamRows removes a stream row plus its records and name index,
// given the 8-byte stream ID key.
func deleteStreamRows(tx *bolt.Tx, sid []byte) error {
	if err := tx.Bucket(bucketStreams).Delete(sid); err != nil {
		return err
	}
	for _, bucket := range [][]byte{bucketRecords, bucketRecordNames} {
		c := tx.Bucket(bucket).Cursor()
		var keys [][]byte
		for k, _ := c.Seek(sid); k != nil && bytes.HasPrefix(k, sid); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := tx.Bucket(bucket).Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stream operations

func (s *BoltStore) CreateStream(stream *types.Stream) (*types.Stream, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		streams := tx.Bucket(bucketStreams)
		paths := tx.Bucket(bucketStreamPaths)

		pk := pathKey(stream.PodName, stream.Path)
		if paths.Get(pk) != nil {
			return errdefs.Newf(errdefs.CodeNameExists, "stream already exists: %s", stream.Path)
		}

		seq, err := streams.NextSequence()
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to allocate stream id", err)
		}
		stream.ID = int64(seq)

		data, err := json.Marshal(stream)
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to encode stream", err)
		}
		if err := streams.Put(streamIDKey(stream.ID), data); err != nil {
			return err
		}
		return paths.Put(pk, streamIDKey(stream.ID))
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *BoltStore) GetStream(id int64) (*types.Stream, error) {
	var stream types.Stream
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStreams).Get(streamIDKey(id))
		if data == nil {
			return errdefs.Newf(errdefs.CodeStreamNotFound, "stream not found: %d", id)
		}
		return json.Unmarshal(data, &stream)
	})
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

func (s *BoltStore) GetStreamByPath(pod, path string) (*types.Stream, error) {
	var stream types.Stream
	err := s.db.View(func(tx *bolt.Tx) error {
		sid := tx.Bucket(bucketStreamPaths).Get(pathKey(pod, path))
		if sid == nil {
			return errdefs.Newf(errdefs.CodeStreamNotFound, "stream not found: %s", path)
		}
		data := tx.Bucket(bucketStreams).Get(sid)
		if data == nil {
			return errdefs.Newf(errdefs.CodeStreamNotFound, "stream not found: %s", path)
		}
		return json.Unmarshal(data, &stream)
	})
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

func (s *BoltStore) ListStreams(pod string) ([]*types.Stream, error) {
	return s.ListStreamsWithPrefix(pod, "/")
}

// ListStreamsWithPrefix returns streams whose path equals prefix or begins
// with prefix + "/", ordered by path.
func (s *BoltStore) ListStreamsWithPrefix(pod, prefix string) ([]*types.Stream, error) {
	var streams []*types.Stream
	err := s.db.View(func(tx *bolt.Tx) error {
		paths := tx.Bucket(bucketStreamPaths)
		rows := tx.Bucket(bucketStreams)

		scan := pathKey(pod, "")
		c := paths.Cursor()
		for k, v := c.Seek(scan); k != nil && bytes.HasPrefix(k, scan); k, v = c.Next() {
			path := string(k[len(scan):])
			if !matchesPrefix(path, prefix) {
				continue
			}
			data := rows.Get(v)
			if data == nil {
				continue
			}
			var stream types.Stream
			if err := json.Unmarshal(data, &stream); err != nil {
				return err
			}
			streams = append(streams, &stream)
		}
		return nil
	})
	return streams, err
}

// matchesPrefix implements the path-prefix contract: exact match, or a
// descendant separated by "/". The root prefix "/" matches every stream.
func matchesPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

func (s *BoltStore) UpdateStream(stream *types.Stream) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		if b.Get(streamIDKey(stream.ID)) == nil {
			return errdefs.Newf(errdefs.CodeStreamNotFound, "stream not found: %d", stream.ID)
		}
		data, err := json.Marshal(stream)
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to encode stream", err)
		}
		return b.Put(streamIDKey(stream.ID), data)
	})
}

// DeleteStream removes a stream and all its descendants
func (s *BoltStore) DeleteStream(pod string, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStreams).Get(streamIDKey(id))
		if data == nil {
			return errdefs.Newf(errdefs.CodeStreamNotFound, "stream not found: %d", id)
		}
		var stream types.Stream
		if err := json.Unmarshal(data, &stream); err != nil {
			return err
		}

		paths := tx.Bucket(bucketStreamPaths)
		scan := pathKey(pod, stream.Path)

		c := paths.Cursor()
		var streamIDs [][]byte
		var pathKeys [][]byte
		for k, v := c.Seek(scan); k != nil && bytes.HasPrefix(k, scan); k, v = c.Next() {
			// The byte prefix also matches siblings like "/a2"; keep only
			// the stream itself and true descendants.
			if !matchesPrefix(string(k[len(pod)+1:]), stream.Path) {
				continue
			}
			streamIDs = append(streamIDs, append([]byte(nil), v...))
			pathKeys = append(pathKeys, append([]byte(nil), k...))
		}

		for _, sid := range streamIDs {
			if err := deleteStreamRows(tx, sid); err != nil {
				return err
			}
		}
		for _, pk := range pathKeys {
			if err := paths.Delete(pk); err != nil {
				return err
			}
		}
		return nil
	})
}

// Record operations

// AppendRecord runs build inside a single write transaction against the
// committed tail of the stream, then inserts the produced record. BoltDB
// serializes write transactions, so two appenders can never observe the
// same tail.
func (s *BoltStore) AppendRecord(streamID int64, build AppendFunc) (*types.Record, error) {
	var out *types.Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)

		prevIndex := int64(-1)
		prevHash := ""
		if last := lastRecordValue(records, streamID); last != nil {
			var prev types.Record
			if err := json.Unmarshal(last, &prev); err != nil {
				return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to decode tail record", err)
			}
			prevIndex = prev.Index
			prevHash = prev.Hash
		}

		record, err := build(prevIndex, prevHash)
		if err != nil {
			return err
		}

		seq, err := records.NextSequence()
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to allocate record id", err)
		}
		record.ID = int64(seq)
		record.StreamID = streamID

		data, err := json.Marshal(record)
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to encode record", err)
		}
		if err := records.Put(recordKey(streamID, record.Index), data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRecordNames).Put(nameKey(streamID, record.Name, record.Index), nil); err != nil {
			return err
		}

		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lastRecordValue returns the raw value of the highest-index record of a
// stream, or nil for an empty stream.
func lastRecordValue(records *bolt.Bucket, streamID int64) []byte {
	c := records.Cursor()
	sid := streamIDKey(streamID)

	// Seek just past the stream's key range, then step back once.
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, uint64(streamID)+1)
	k, v := c.Seek(next)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !bytes.HasPrefix(k, sid) {
		return nil
	}
	return v
}

func (s *BoltStore) GetRecordByIndex(streamID, index int64) (*types.Record, error) {
	var record types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get(recordKey(streamID, index))
		if data == nil {
			return errdefs.Newf(errdefs.CodeRecordNotFound, "record not found: index %d", index)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) GetLastRecord(streamID int64) (*types.Record, error) {
	var record types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := lastRecordValue(tx.Bucket(bucketRecords), streamID)
		if data == nil {
			return errdefs.New(errdefs.CodeRecordNotFound, "stream is empty")
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecords returns up to limit records with index > afterIndex, in
// index order. limit <= 0 means unbounded.
func (s *BoltStore) ListRecords(streamID int64, afterIndex int64, limit int) ([]*types.Record, error) {
	var records []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		sid := streamIDKey(streamID)

		start := recordKey(streamID, afterIndex+1)
		if afterIndex < 0 {
			start = sid
		}
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, sid); k, v = c.Next() {
			var record types.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})
	return records, err
}

func (s *BoltStore) ListAllRecords(streamID int64) ([]*types.Record, error) {
	return s.ListRecords(streamID, -1, 0)
}

func (s *BoltStore) CountRecords(streamID int64) (int64, error) {
	// Indexes are contiguous from 0, so the tail index gives the count.
	last, err := s.GetLastRecord(streamID)
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return last.Index + 1, nil
}

// GetRecordsByName returns every record carrying the given name, in index
// order.
func (s *BoltStore) GetRecordsByName(streamID int64, name string) ([]*types.Record, error) {
	var records []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketRecordNames).Cursor()
		rows := tx.Bucket(bucketRecords)

		prefix := namePrefix(streamID, name)
		for k, _ := names.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = names.Next() {
			index := int64(binary.BigEndian.Uint64(k[len(k)-8:]))
			data := rows.Get(recordKey(streamID, index))
			if data == nil {
				continue
			}
			var record types.Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	return records, err
}

// GetRecordsByNamePrefix returns every record whose name starts with the
// given prefix, in index order. Used to locate tombstones for a name.
func (s *BoltStore) GetRecordsByNamePrefix(streamID int64, prefix string) ([]*types.Record, error) {
	var records []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketRecordNames).Cursor()
		rows := tx.Bucket(bucketRecords)

		scan := append(streamIDKey(streamID), []byte(prefix)...)
		for k, _ := names.Seek(scan); k != nil && bytes.HasPrefix(k, scan); k, _ = names.Next() {
			index := int64(binary.BigEndian.Uint64(k[len(k)-8:]))
			data := rows.Get(recordKey(streamID, index))
			if data == nil {
				continue
			}
			var record types.Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Name-prefix scans interleave different names; restore index order.
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// UpdateRecord overwrites a record row in place. Only the purge transition
// uses this; everything else is append-only.
func (s *BoltStore) UpdateRecord(record *types.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		key := recordKey(record.StreamID, record.Index)
		if b.Get(key) == nil {
			return errdefs.Newf(errdefs.CodeRecordNotFound, "record not found: index %d", record.Index)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return errdefs.Wrap(errdefs.CodeDatabaseError, "failed to encode record", err)
		}
		return b.Put(key, data)
	})
}

// Counter operations

func (s *BoltStore) IncrementCounter(scope, action, window string) (int64, error) {
	var count int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		key := counterKey(scope, action, window)
		if data := b.Get(key); data != nil {
			count = int64(binary.BigEndian.Uint64(data))
		}
		count++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(count))
		return b.Put(key, buf)
	})
	if err != nil {
		return 0, errdefs.Wrap(errdefs.CodeDatabaseError, "failed to increment counter", err)
	}
	return count, nil
}

func (s *BoltStore) GetCounter(scope, action, window string) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketCounters).Get(counterKey(scope, action, window)); data != nil {
			count = int64(binary.BigEndian.Uint64(data))
		}
		return nil
	})
	return count, err
}

// PruneCounters drops counter rows whose window sorts before the given
// window string.
func (s *BoltStore) PruneCounters(before string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			parts := bytes.SplitN(k, []byte{0x00}, 3)
			if len(parts) == 3 && string(parts[2]) < before {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
