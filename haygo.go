package haygo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/haygo/internal/fs"
	"github.com/hupe1980/haygo/needle"
	"github.com/hupe1980/haygo/volume"
)

// writeAttempts bounds how often a write is retried when the picked
// volume fills up between selection and the write itself.
const writeAttempts = 3

// volumeHandle pairs a volume with the lock that serializes its writes.
// Reads take the lock shared; the volume itself does not synchronize.
type volumeHandle struct {
	mu  sync.RWMutex
	vol *volume.Volume
}

// Store manages a directory of volumes and routes keys to them. A key
// written twice may live in two volumes; the routing table always points
// at the most recent copy. Store is safe for concurrent use.
type Store struct {
	dir  string
	opts options

	mu      sync.RWMutex
	volumes map[uint32]*volumeHandle
	routing map[string]uint32
	nextID  uint32
	closed  bool
}

// Open recovers every volume found in dir and builds the key routing
// table. The directory is created if it does not exist. Volumes are
// opened in parallel; the first failure aborts the whole open.
func Open(ctx context.Context, dir string, optFns ...Option) (*Store, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.fsys.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	paths, err := indexPaths(opts.fsys, dir, opts.logger)
	if err != nil {
		return nil, err
	}

	vols := make([]*volume.Volume, len(paths))

	g, _ := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			v, err := volume.Open(opts.fsys, path, opts.volumeCapacity, func(o *volume.Options) {
				o.Logger = opts.logger.Logger
				o.StrictRead = opts.strictRead
			})
			if err != nil {
				return fmt.Errorf("open volume %q: %w", path, err)
			}

			vols[i] = v

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, v := range vols {
			if v != nil {
				_ = v.Close()
			}
		}

		return nil, translateError(err)
	}

	s := &Store{
		dir:     dir,
		opts:    opts,
		volumes: make(map[uint32]*volumeHandle, len(vols)),
		routing: make(map[string]uint32),
		nextID:  1,
	}

	// Ascending id order so that for keys present in several volumes the
	// highest volume id, the most recent copy, wins the routing slot.
	sort.Slice(vols, func(i, j int) bool { return vols[i].ID() < vols[j].ID() })

	for _, v := range vols {
		s.volumes[v.ID()] = &volumeHandle{vol: v}

		for _, key := range v.Keys() {
			s.routing[key] = v.ID()
		}

		if v.ID() >= s.nextID {
			s.nextID = v.ID() + 1
		}

		opts.metrics.RecordVolumeOpen(v.ID(), v.NeedleCount())
		opts.logger.Info("volume recovered", "volume", v.ID(), "needles", v.NeedleCount(), "length", v.CurrentLength())
	}

	opts.logger.Info("store opened", "dir", dir, "volumes", len(vols), "keys", len(s.routing))

	return s, nil
}

// Write stores body under key. Equivalent to WriteNeedle with an inline
// needle.
func (s *Store) Write(ctx context.Context, key string, body []byte) error {
	return s.WriteNeedle(ctx, key, needle.New(body))
}

// WriteNeedle appends n to a volume with enough free capacity, creating
// a fresh volume when none has room. Writing an existing key appends a
// new copy and repoints the routing table; old copies stay on disk.
//
// Streamed needles are written in a single attempt since their chunk
// source cannot be replayed.
func (s *Store) WriteNeedle(ctx context.Context, key string, n *needle.Needle) error {
	start := time.Now()

	err := s.writeNeedle(ctx, key, n)

	s.opts.metrics.RecordWrite(n.TotalLength(), time.Since(start), err)

	if err != nil {
		s.opts.logger.Warn("write failed", "key", key, "length", n.TotalLength(), "error", err)
	}

	return translateError(err)
}

func (s *Store) writeNeedle(ctx context.Context, key string, n *needle.Needle) error {
	total := n.TotalLength()
	if total > s.opts.volumeCapacity {
		return fmt.Errorf("%w: needle needs %d bytes, capacity is %d", ErrNeedleTooLarge, total, s.opts.volumeCapacity)
	}

	var lastErr error

	for attempt := 0; attempt < writeAttempts; attempt++ {
		h, err := s.writableVolume(total)
		if err != nil {
			return err
		}

		h.mu.Lock()
		err = h.vol.Write(ctx, key, n)
		h.mu.Unlock()

		if err == nil {
			s.mu.Lock()
			s.routing[key] = h.vol.ID()
			s.mu.Unlock()

			return nil
		}

		lastErr = err

		// Another writer may have consumed the capacity between picking
		// the volume and writing. Inline needles can simply try again;
		// a stream is already partially drained.
		var overflow *volume.ErrOverflow
		if errors.As(err, &overflow) && !n.IsStream() {
			continue
		}

		return err
	}

	return lastErr
}

// writableVolume returns a volume with at least total free bytes,
// creating one when every existing volume is too full.
func (s *Store) writableVolume(total uint64) (*volumeHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		best   *volumeHandle
		bestID uint32
	)

	for id, h := range s.volumes {
		h.mu.RLock()
		avail := h.vol.AvailableCapacity()
		h.mu.RUnlock()

		if avail >= total && (best == nil || id < bestID) {
			best = h
			bestID = id
		}
	}

	if best != nil {
		return best, nil
	}

	id := s.nextID

	v, err := volume.Create(s.opts.fsys, s.dir, id, s.opts.volumeCapacity, func(o *volume.Options) {
		o.Logger = s.opts.logger.Logger
		o.StrictRead = s.opts.strictRead
	})
	if err != nil {
		return nil, fmt.Errorf("create volume %d: %w", id, err)
	}

	s.nextID++

	h := &volumeHandle{vol: v}
	s.volumes[id] = h

	s.opts.metrics.RecordVolumeCreate(id)
	s.opts.logger.Info("volume created", "volume", id, "capacity", s.opts.volumeCapacity)

	return h, nil
}

// Get returns the most recently written needle for key. Large needles
// stream their body; the caller must drain the stream or cancel ctx so the
// producing goroutine can exit. See needle.Needle.
func (s *Store) Get(ctx context.Context, key string) (*needle.Needle, error) {
	start := time.Now()

	n, err := s.get(ctx, key)

	var bytes uint64
	if err == nil {
		bytes = n.TotalLength()
	}

	s.opts.metrics.RecordRead(bytes, time.Since(start), err)

	return n, translateError(err)
}

func (s *Store) get(ctx context.Context, key string) (*needle.Needle, error) {
	s.mu.RLock()

	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}

	id, ok := s.routing[key]
	h := s.volumes[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", volume.ErrNotFound, key)
	}

	h.mu.RLock()
	n, err := h.vol.Get(ctx, key)
	h.mu.RUnlock()

	return n, err
}

// Len returns the number of distinct keys the store can serve.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.routing)
}

// Describe returns a snapshot of every volume, ordered by id.
func (s *Store) Describe() []volume.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]volume.Info, 0, len(s.volumes))

	for _, h := range s.volumes {
		h.mu.RLock()
		infos = append(infos, h.vol.Describe())
		h.mu.RUnlock()
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Close closes every volume. Further operations fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	var firstErr error

	for id, h := range s.volumes {
		h.mu.Lock()
		if err := h.vol.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close volume %d: %w", id, err)
		}
		h.mu.Unlock()
	}

	return firstErr
}

// indexPaths lists the index files in dir, skipping entries whose name
// does not parse as a volume id.
func indexPaths(fsys fs.FileSystem, dir string, logger *Logger) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var paths []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != volume.IndexExt {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if _, err := volume.ParseID(path); err != nil {
			logger.Warn("skipping unrecognized index file", "path", path, "error", err)
			continue
		}

		paths = append(paths, path)
	}

	return paths, nil
}
