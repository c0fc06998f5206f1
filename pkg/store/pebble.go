// Package store is the durable persistence layer backed by Pebble. Sessions
// are keyed by room id and annotations by annotation id, with secondary
// indexes by room and by sequence so room views and sequence views stay
// cheap. Values are JSON.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"biocollab/pkg/logger"
	"biocollab/pkg/models"
)

var db *pebble.DB
var dbPath string

// seq reduces index-key collisions when annotations share a nanosecond
// timestamp.
var seq uint64

// ErrNotOpened is returned when a store function is called before Open.
var ErrNotOpened = errors.New("pebble not opened; call store.Open first")

// Open opens (or creates) a Pebble database at the given path and keeps a
// package handle.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "err", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// IsNotFound reports whether err means the requested key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

func sessionKey(roomID string) []byte {
	return []byte("session:" + roomID + ":meta")
}

func annotationKey(annID string) []byte {
	return []byte("annotation:" + annID)
}

// indexSuffix returns the sortable "<ts>-<seq>" portion of an index key.
func indexSuffix(ts int64) string {
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%06d", ts, s%1000000)
}

// SaveSession stores session metadata under the room id.
func SaveSession(roomID string, data []byte) error {
	if db == nil {
		return ErrNotOpened
	}
	if err := db.Set(sessionKey(roomID), data, pebble.Sync); err != nil {
		logger.Error("save_session_failed", "room", roomID, "err", err)
		return err
	}
	logger.Debug("session_saved", "room", roomID)
	return nil
}

// GetSession returns the stored session JSON for a room id.
func GetSession(roomID string) ([]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	v, closer, err := db.Get(sessionKey(roomID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// ListSessions returns all saved session metadata values.
func ListSessions() ([][]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	prefix := []byte("session:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			out = append(out, append([]byte(nil), iter.Value()...))
		}
	}
	return out, iter.Error()
}

// SaveAnnotation writes the canonical annotation record and, on first write,
// its room and sequence index entries plus the local-id dedup marker, all in
// one atomic batch. Vote updates rewrite only the canonical record; the
// index entries hold annotation ids, not payloads, so they never go stale.
func SaveAnnotation(a models.Annotation, isNew bool) error {
	if db == nil {
		return ErrNotOpened
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal annotation: %w", err)
	}
	wb := db.NewBatch()
	if err := wb.Set(annotationKey(a.ID), data, nil); err != nil {
		return err
	}
	if isNew {
		sfx := indexSuffix(a.CreatedTS)
		roomIdx := []byte("room:" + a.RoomID + ":ann:" + sfx)
		seqIdx := []byte("seqidx:" + a.SequenceID + ":ann:" + sfx)
		if err := wb.Set(roomIdx, []byte(a.ID), nil); err != nil {
			return err
		}
		if err := wb.Set(seqIdx, []byte(a.ID), nil); err != nil {
			return err
		}
		if a.LocalID != "" {
			if err := wb.Set(dedupKey(a.RoomID, a.LocalID), []byte(a.ID), nil); err != nil {
				return err
			}
		}
	}
	if err := db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("save_annotation_failed", "annotation", a.ID, "room", a.RoomID, "err", err)
		return err
	}
	logger.Debug("annotation_saved", "annotation", a.ID, "room", a.RoomID, "new", isNew)
	return nil
}

// GetAnnotation returns the canonical annotation JSON for an id.
func GetAnnotation(annID string) ([]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	v, closer, err := db.Get(annotationKey(annID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// ListAnnotationsByRoom returns all annotations in a room in creation order.
func ListAnnotationsByRoom(roomID string) ([][]byte, error) {
	return listByIndex("room:" + roomID + ":ann:")
}

// ListAnnotationsBySequence returns all annotations referencing a sequence
// in creation order, across rooms.
func ListAnnotationsBySequence(sequenceID string) ([][]byte, error) {
	return listByIndex("seqidx:" + sequenceID + ":ann:")
}

func listByIndex(prefix string) ([][]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	pfx := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		annID := string(iter.Value())
		v, gerr := GetAnnotation(annID)
		if gerr != nil {
			// index entry without a canonical record; skip rather than fail
			logger.Warn("annotation_index_dangling", "annotation", annID, "err", gerr)
			continue
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

func dedupKey(roomID, localID string) []byte {
	return []byte("dedup:" + roomID + ":" + localID)
}

// GetDedup returns the annotation id previously stored for a client local
// id, if the same submission was already accepted in this room.
func GetDedup(roomID, localID string) (string, error) {
	if db == nil {
		return "", ErrNotOpened
	}
	v, closer, err := db.Get(dedupKey(roomID, localID))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SaveReview stores the latest flag/validate state for a finding. Later
// accepted actions simply overwrite.
func SaveReview(r models.Review) error {
	if db == nil {
		return ErrNotOpened
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal review: %w", err)
	}
	key := []byte("review:" + r.RoomID + ":" + r.SequenceID)
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("save_review_failed", "room", r.RoomID, "sequence", r.SequenceID, "err", err)
		return err
	}
	return nil
}

// GetReview returns the stored review JSON for a (room, sequence) pair.
func GetReview(roomID, sequenceID string) ([]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	v, closer, err := db.Get([]byte("review:" + roomID + ":" + sequenceID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// ListReviews returns all review records for a room.
func ListReviews(roomID string) ([][]byte, error) {
	if db == nil {
		return nil, ErrNotOpened
	}
	pfx := []byte("review:" + roomID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, iter.Error()
}

// DiskUsage returns the approximate on-disk size of the database, for the
// readiness endpoint and metrics.
func DiskUsage() uint64 {
	if db == nil {
		return 0
	}
	m := db.Metrics()
	if m == nil {
		return 0
	}
	return m.DiskSpaceUsage()
}

// timestamp helper kept here so acceptance paths stamp through one clock.
func NowTS() int64 { return time.Now().UTC().UnixNano() }
