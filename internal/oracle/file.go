package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// feedFile is the on-disk format of FileSource:
//
//	feeds:
//	  - id: "0xff61..."
//	    price: 200000
//	    conf: 150
//	    expo: -2
//	    publish_time: 2026-01-02T15:04:05Z   # optional
type feedFile struct {
	Feeds []struct {
		ID          string     `yaml:"id"`
		Price       int64      `yaml:"price"`
		Conf        uint64     `yaml:"conf"`
		Expo        int32      `yaml:"expo"`
		PublishTime *time.Time `yaml:"publish_time"`
	} `yaml:"feeds"`
}

type fileEntry struct {
	price ports.Price
	live  bool // no publish_time in file: reading is reported as published now
}

// FileSource serves readings from a YAML file and reloads it when the file changes.
type FileSource struct {
	path string
	now  func() time.Time

	mu    sync.RWMutex
	feeds map[common.Hash]fileEntry
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now, feeds: map[common.Hash]fileEntry{}}
}

// Load reads the file, replacing all feeds. On error the previous feeds stay in place.
func (s *FileSource) Load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var f feedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	next := make(map[common.Hash]fileEntry, len(f.Feeds))
	for _, fd := range f.Feeds {
		if !IsFeedID(fd.ID) {
			return fmt.Errorf("parse %s: invalid feed id %q", s.path, fd.ID)
		}
		e := fileEntry{price: ports.Price{Price: fd.Price, Conf: fd.Conf, Expo: fd.Expo}}
		if fd.PublishTime != nil {
			e.price.PublishTime = *fd.PublishTime
		} else {
			e.live = true
		}
		next[common.HexToHash(fd.ID)] = e
	}
	s.mu.Lock()
	s.feeds = next
	s.mu.Unlock()
	return nil
}

func (s *FileSource) Latest(_ context.Context, feedID common.Hash) (ports.Price, error) {
	s.mu.RLock()
	e, ok := s.feeds[feedID]
	s.mu.RUnlock()
	if !ok {
		return ports.Price{}, unknownFeed(feedID)
	}
	p := e.price
	if e.live {
		p.PublishTime = s.now()
	}
	return p, nil
}

// Watch reloads the file on every write/create until ctx is done.
// The parent directory is watched so atomic renames by editors are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if err := s.Load(); err != nil {
					slog.Error("reload price file", "file", s.path, "error", err)
					continue
				}
				slog.Info("price file reloaded", "file", s.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("price file watcher error", "error", err)
			}
		}
	}()
	return nil
}

// IsFeedID reports whether s is a 0x-prefixed 32-byte feed id.
func IsFeedID(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}
