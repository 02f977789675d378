package storage

import (
	"github.com/webpods-org/webpods/pkg/types"
)

// AppendFunc builds the record to append given the committed tail of the
// stream. It runs inside the append transaction; prevIndex is -1 and
// prevHash empty for an empty stream.
type AppendFunc func(prevIndex int64, prevHash string) (*types.Record, error)

// Store defines the interface for catalog persistence.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Pods
	CreatePod(pod *types.Pod) error
	GetPod(name string) (*types.Pod, error)
	ListPods() ([]*types.Pod, error)
	UpdatePod(pod *types.Pod) error
	DeletePod(name string) error

	// Streams
	CreateStream(stream *types.Stream) (*types.Stream, error)
	GetStream(id int64) (*types.Stream, error)
	GetStreamByPath(pod, path string) (*types.Stream, error)
	ListStreams(pod string) ([]*types.Stream, error)
	ListStreamsWithPrefix(pod, prefix string) ([]*types.Stream, error)
	UpdateStream(stream *types.Stream) error
	DeleteStream(pod string, id int64) error

	// Records
	AppendRecord(streamID int64, build AppendFunc) (*types.Record, error)
	GetRecordByIndex(streamID, index int64) (*types.Record, error)
	GetLastRecord(streamID int64) (*types.Record, error)
	ListRecords(streamID int64, afterIndex int64, limit int) ([]*types.Record, error)
	ListAllRecords(streamID int64) ([]*types.Record, error)
	CountRecords(streamID int64) (int64, error)
	GetRecordsByName(streamID int64, name string) ([]*types.Record, error)
	GetRecordsByNamePrefix(streamID int64, prefix string) ([]*types.Record, error)
	UpdateRecord(record *types.Record) error

	// Rate-limit counters, keyed by scope, action and UTC hour window
	IncrementCounter(scope, action, window string) (int64, error)
	GetCounter(scope, action, window string) (int64, error)
	PruneCounters(before string) error

	// Utility
	Close() error
}
