// Package chain writes committed engine events to a sha256 hash-chained JSONL file.
package chain

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

type Writer struct {
	mu   sync.Mutex
	f    *os.File
	prev []byte // previous hash
}

var _ ports.EventPublisher = (*Writer)(nil)

// NewWriter opens path for appending and resumes the chain from its last record.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	prev := make([]byte, 32)
	if last, err := lastRecord(path); err != nil {
		return nil, err
	} else if last != nil {
		h, err := hex.DecodeString(last.Hash)
		if err != nil || len(h) != 32 {
			return nil, fmt.Errorf("audit chain %s: bad trailing hash %q", path, last.Hash)
		}
		prev = h
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, prev: prev}, nil
}

func (w *Writer) Close() error { return w.f.Close() }

// Record is one line of the chain file.
type Record struct {
	Event *ports.Event `json:"event"`
	Topic string       `json:"topic"`
	Prev  string       `json:"prev"`
	Hash  string       `json:"hash"`
}

// Publish appends ev, linking it to the previous record.
func (w *Writer) Publish(ev *ports.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := Record{Event: ev, Topic: ev.Kind.Topic().Hex(), Prev: hex.EncodeToString(w.prev)}
	h, err := rec.digest()
	if err != nil {
		return err
	}
	rec.Hash = hex.EncodeToString(h)
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(append(b, '\n')); err != nil {
		return err
	}
	copy(w.prev, h)
	return nil
}

func (r Record) digest() ([]byte, error) {
	prev, err := hex.DecodeString(r.Prev)
	if err != nil {
		return nil, err
	}
	r.Hash = ""
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(append(prev, b...))
	return h[:], nil
}

// Verify walks the chain in r and returns the number of valid records or the
// first broken link.
func Verify(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	prev := make([]byte, 32)
	n := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		if rec.Prev != hex.EncodeToString(prev) {
			return n, fmt.Errorf("record %d: prev link mismatch", n+1)
		}
		h, err := rec.digest()
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		if rec.Hash != hex.EncodeToString(h) {
			return n, fmt.Errorf("record %d: hash mismatch", n+1)
		}
		prev = h
		n++
	}
	return n, sc.Err()
}

func lastRecord(path string) (*Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var last []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(last, &rec); err != nil {
		return nil, fmt.Errorf("audit chain %s: %w", path, err)
	}
	return &rec, nil
}
