package offline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	recordHeaderSize = 16         // 8 (offset) + 4 (crc) + 4 (length)
	fileHeaderSize   = 4          // magic
	fileMagic        = 0x42434A4C // "BCJL"
)

// journalRecord is a recovered entry with its sequence offset and data.
type journalRecord struct {
	offset int64
	data   []byte
}

// journal is an append-only, CRC-checked log that backs the local action
// queue across restarts. Records are fsynced on append; a torn tail from a
// crash is truncated during recovery instead of poisoning replay.
type journal struct {
	dir     string
	maxSize int64

	mu       sync.Mutex
	curr     *journalFile
	files    []*journalFile
	nextNum  int
	seq      int64
	crcTable *crc32.Table
	closed   bool
}

type journalFile struct {
	f      *os.File
	num    int
	size   int64
	minSeq int64
	maxSeq int64
}

func openJournal(dir string, maxFileSize int64) (*journal, error) {
	if maxFileSize <= 0 {
		maxFileSize = 4 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j := &journal{
		dir:      dir,
		maxSize:  maxFileSize,
		crcTable: crc32.MakeTable(crc32.Castagnoli),
	}
	maxSeq, err := j.recoverFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to recover journal files: %w", err)
	}
	j.seq = maxSeq + 1
	if j.curr == nil {
		if err := j.createNewFile(); err != nil {
			return nil, fmt.Errorf("failed to create initial journal file: %w", err)
		}
	} else if _, err := j.curr.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("failed to seek journal tail: %w", err)
	}
	return j, nil
}

// append writes data and fsyncs, returning the record's sequence offset.
func (j *journal) append(data []byte) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, errors.New("journal is closed")
	}
	recordSize := int64(recordHeaderSize + len(data))
	if j.curr.size+recordSize > j.maxSize {
		if err := j.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate journal file: %w", err)
		}
	}
	offset := j.seq
	if err := j.writeRecord(j.curr.f, offset, data); err != nil {
		return 0, fmt.Errorf("failed to write record at offset %d: %w", offset, err)
	}
	j.curr.size += recordSize
	j.seq++
	if j.curr.minSeq == -1 || offset < j.curr.minSeq {
		j.curr.minSeq = offset
	}
	if offset > j.curr.maxSeq {
		j.curr.maxSeq = offset
	}
	if err := j.curr.f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to fsync journal: %w", err)
	}
	return offset, nil
}

// nextSeq returns the offset the next append will receive.
func (j *journal) nextSeq() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// recover streams all records in offset order.
func (j *journal) recover(cb func(journalRecord) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, jf := range j.files {
		if _, err := jf.f.Seek(fileHeaderSize, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek file %d: %w", jf.num, err)
		}
		if err := j.readRecords(jf.f, cb); err != nil {
			return fmt.Errorf("failed to read records from file %d: %w", jf.num, err)
		}
	}
	return nil
}

// truncateBefore deletes all journal files whose records are entirely below
// minOffset. The current file is never deleted.
func (j *journal) truncateBefore(minOffset int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var keep []*journalFile
	var removed int
	for _, jf := range j.files {
		if jf.maxSeq < minOffset && jf != j.curr {
			if err := jf.f.Close(); err != nil {
				return fmt.Errorf("failed to close file %d: %w", jf.num, err)
			}
			path := filepath.Join(j.dir, fmt.Sprintf("%06d.journal", jf.num))
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
			removed++
			continue
		}
		keep = append(keep, jf)
	}
	j.files = keep
	if removed > 0 {
		return syncDir(j.dir)
	}
	return nil
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	var firstErr error
	for _, jf := range j.files {
		if err := jf.f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := jf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (j *journal) recoverFiles() (int64, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, err
	}
	type fileInfo struct {
		name string
		num  int
	}
	var found []fileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".journal" {
			continue
		}
		num := 0
		if _, err := fmt.Sscanf(e.Name(), "%d.journal", &num); err != nil {
			continue
		}
		found = append(found, fileInfo{name: e.Name(), num: num})
	}
	sort.Slice(found, func(i, k int) bool { return found[i].num < found[k].num })

	maxSeq := int64(-1)
	for _, fi := range found {
		f, err := os.OpenFile(filepath.Join(j.dir, fi.name), os.O_RDWR, 0o644)
		if err != nil {
			return 0, fmt.Errorf("failed to open journal file %s: %w", fi.name, err)
		}
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to stat journal file %s: %w", fi.name, err)
		}
		if err := j.checkHeader(f); err != nil {
			f.Close()
			return 0, fmt.Errorf("bad header in %s: %w", fi.name, err)
		}
		jf := &journalFile{f: f, num: fi.num, size: stat.Size(), minSeq: -1, maxSeq: -1}
		seqs, validSize, err := j.scanFile(f)
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("failed to scan journal file %s: %w", fi.name, err)
		}
		if validSize < stat.Size() {
			// torn tail from a crash; discard the partial record
			if err := f.Truncate(validSize); err != nil {
				f.Close()
				return 0, fmt.Errorf("failed to truncate %s: %w", fi.name, err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return 0, fmt.Errorf("failed to sync truncated %s: %w", fi.name, err)
			}
			jf.size = validSize
		}
		if len(seqs) > 0 {
			jf.minSeq = seqs[0]
			jf.maxSeq = seqs[len(seqs)-1]
			if jf.maxSeq > maxSeq {
				maxSeq = jf.maxSeq
			}
		}
		j.files = append(j.files, jf)
		if fi.num >= j.nextNum {
			j.nextNum = fi.num + 1
		}
		j.curr = jf
	}
	return maxSeq, nil
}

func (j *journal) checkHeader(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var magic uint32
	if err := binary.Read(f, binary.BigEndian, &magic); err != nil {
		if errors.Is(err, io.EOF) {
			return j.writeHeader(f)
		}
		return err
	}
	if magic != fileMagic {
		return fmt.Errorf("invalid file magic: 0x%X", magic)
	}
	return nil
}

func (j *journal) writeHeader(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(f, binary.BigEndian, uint32(fileMagic))
}

// scanFile validates records and returns their offsets plus the byte length
// of the valid prefix.
func (j *journal) scanFile(f *os.File) ([]int64, int64, error) {
	if _, err := f.Seek(fileHeaderSize, io.SeekStart); err != nil {
		return nil, 0, err
	}
	var seqs []int64
	validSize := int64(fileHeaderSize)
	for {
		offset, data, err := j.readOne(f)
		if err != nil {
			break
		}
		seqs = append(seqs, offset)
		validSize += int64(recordHeaderSize + len(data))
	}
	return seqs, validSize, nil
}

func (j *journal) createNewFile() error {
	name := fmt.Sprintf("%06d.journal", j.nextNum)
	path := filepath.Join(j.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if err := j.writeHeader(f); err != nil {
		f.Close()
		return err
	}
	if err := syncDir(j.dir); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	jf := &journalFile{f: f, num: j.nextNum, size: fileHeaderSize, minSeq: -1, maxSeq: -1}
	j.nextNum++
	j.files = append(j.files, jf)
	j.curr = jf
	return nil
}

func (j *journal) rotate() error {
	if err := j.curr.f.Sync(); err != nil {
		return err
	}
	return j.createNewFile()
}

func (j *journal) writeRecord(f *os.File, offset int64, data []byte) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, offset); err != nil {
		return err
	}
	crc := crc32.Checksum(data, j.crcTable)
	if err := binary.Write(&buf, binary.BigEndian, crc); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(len(data))); err != nil {
		return err
	}
	if _, err := buf.Write(data); err != nil {
		return err
	}
	_, err := f.Write(buf.Bytes())
	return err
}

func (j *journal) readRecords(f *os.File, cb func(journalRecord) error) error {
	for {
		offset, data, err := j.readOne(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := cb(journalRecord{offset: offset, data: data}); err != nil {
			return err
		}
	}
}

// readOne reads a single record; any malformed header, oversized length or
// CRC mismatch is reported as io.EOF so callers stop at the valid prefix.
func (j *journal) readOne(f *os.File) (int64, []byte, error) {
	var offset int64
	var crc uint32
	var length int32
	if err := binary.Read(f, binary.BigEndian, &offset); err != nil {
		return 0, nil, io.EOF
	}
	if err := binary.Read(f, binary.BigEndian, &crc); err != nil {
		return 0, nil, io.EOF
	}
	if err := binary.Read(f, binary.BigEndian, &length); err != nil {
		return 0, nil, io.EOF
	}
	if length < 0 || length > 16*1024*1024 {
		return 0, nil, io.EOF
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(f, data); err != nil {
		return 0, nil, io.EOF
	}
	if crc32.Checksum(data, j.crcTable) != crc {
		return 0, nil, io.EOF
	}
	return offset, data, nil
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
