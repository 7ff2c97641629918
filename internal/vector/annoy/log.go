package annoy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kailas-cloud/memex/internal/domain"
)

const logFilename = "vectors.log"

// header is the first line of a log. The next Forest records are the
// snapshot the generation's forest was built from, in slot order.
type header struct {
	Dimensions int   `json:"dimensions"`
	Generation int64 `json:"gen"`
	Forest     int   `json:"forest"`
}

// record is a put, or a delete when Delete is set.
type record struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"v,omitempty"`
	Delete bool      `json:"del,omitempty"`
}

func indexPath(dir string, gen int64) string {
	return filepath.Join(dir, "index-"+strconv.FormatInt(gen, 10)+".ann")
}

// writeLog atomically replaces the log with a header and records.
func writeLog(dir string, h header, records []record) (fs.FileInfo, error) {
	f, err := os.CreateTemp(dir, "vectors-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("annoy: create log: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	err = enc.Encode(h)
	for i := 0; err == nil && i < len(records); i++ {
		err = enc.Encode(records[i])
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("annoy: write log: %w", err)
	}

	path := filepath.Join(dir, logFilename)
	if err := os.Rename(f.Name(), path); err != nil {
		return nil, fmt.Errorf("annoy: commit log: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("annoy: stat log: %w", err)
	}
	return info, nil
}

// flush appends staged writes to the log, creating it on first use.
func (s *Store) flush(c *collection) error {
	if len(c.unsaved) == 0 {
		return nil
	}
	if c.log == nil {
		info, err := writeLog(c.dir, header{Dimensions: s.dims, Generation: c.gen}, c.unsaved)
		if err != nil {
			return err
		}
		c.log, c.logSize, c.unsaved = info, info.Size(), nil
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range c.unsaved {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("annoy: encode record %s: %w", r.ID, err)
		}
	}

	f, err := os.OpenFile(filepath.Join(c.dir, logFilename), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("annoy: open log: %w", err)
	}
	defer f.Close()

	// One write keeps readers from seeing records interleaved with a torn line.
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("annoy: append log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("annoy: sync log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("annoy: stat log: %w", err)
	}
	c.log, c.logSize, c.unsaved = info, info.Size(), nil
	return nil
}

// tail applies records appended by another process since the last read.
func (c *collection) tail() error {
	f, err := os.Open(filepath.Join(c.dir, logFilename))
	if err != nil {
		return fmt.Errorf("annoy: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(c.logSize, io.SeekStart); err != nil {
		return fmt.Errorf("annoy: seek log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("annoy: read log: %w", err)
	}

	n, err := eachLine(data, func(line []byte) error {
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		c.apply(r)
		return nil
	})
	c.logSize += int64(n)
	if err != nil {
		return fmt.Errorf("annoy: %s: %w", c.dir, err)
	}
	return nil
}

// open replays a collection's log and maps its forest. A forest that cannot
// be loaded leaves every vector in the exact-scan set until the next rebuild.
func (s *Store) open(name, dir string) (*collection, error) {
	path := filepath.Join(dir, logFilename)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("annoy: open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("annoy: stat %s: %w", name, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("annoy: read %s: %w", name, err)
	}

	c := newCollection(dir)
	var h *header
	n, err := eachLine(data, func(line []byte) error {
		if h == nil {
			h = new(header)
			if err := json.Unmarshal(line, h); err != nil {
				return err
			}
			if h.Dimensions != s.dims {
				return domain.Misconfigured("collection %s has %d dimensions, store expects %d",
					name, h.Dimensions, s.dims)
			}
			c.gen = h.Generation
			return nil
		}

		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		if len(c.slots) < h.Forest {
			c.slots = append(c.slots, r.ID)
			c.forest[r.ID] = struct{}{}
			c.vectors[r.ID] = r.Vector
			return nil
		}
		c.apply(r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("annoy: open %s: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("annoy: open %s: log has no header", name)
	}
	c.log, c.logSize = info, int64(n)

	if len(c.slots) > 0 {
		idx := s.newIndex()
		if err := idx.Load(indexPath(dir, c.gen)); err != nil {
			_ = idx.Close()
			for _, id := range c.slots {
				if _, ok := c.vectors[id]; ok {
					c.pending[id] = struct{}{}
				}
			}
			c.slots = nil
			clear(c.forest)
			clear(c.stale)
			return c, nil
		}
		c.idx = idx
	}
	return c, nil
}

// eachLine calls fn for every complete line in data and returns the number of
// bytes consumed. A trailing partial line is left for the next read.
func eachLine(data []byte, fn func([]byte) error) (int, error) {
	consumed := 0
	for {
		i := bytes.IndexByte(data[consumed:], '\n')
		if i < 0 {
			return consumed, nil
		}
		line := data[consumed : consumed+i]
		if len(line) > 0 {
			if err := fn(line); err != nil {
				if errors.Is(err, domain.ErrConfiguration) {
					return consumed, err
				}
				return consumed, fmt.Errorf("corrupt log at byte %d: %w", consumed, err)
			}
		}
		consumed += i + 1
	}
}
