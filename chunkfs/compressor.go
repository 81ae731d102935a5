package chunkfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dendrascience/chunkfs/util"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// RetryPolicy decides what happens to a chunk whose compression failed.
type RetryPolicy int

const (
	// RetryDrop forgets the chunk; it stays plain until it is written
	// and released again.
	RetryDrop RetryPolicy = iota
	// RetryRequeue puts the chunk back at the end of its idle window,
	// up to MaxAttempts compressions in total.
	RetryRequeue
)

func (p RetryPolicy) String() string {
	if p == RetryRequeue {
		return "requeue"
	}
	return "drop"
}

// CompressorOptions configures a Compressor.
type CompressorOptions struct {
	// Codec compresses chunk images. Nil selects zstd.
	Codec util.Codec

	// IdleThreshold is how long a chunk must go unwritten before it
	// is compressed.
	IdleThreshold time.Duration

	// PollInterval is how often the worker looks at the queue when it
	// has nothing eligible.
	PollInterval time.Duration

	Mode        QueueMode
	Retry       RetryPolicy
	MaxAttempts int

	// CacheSize is the number of decompressed chunks kept in memory.
	// Zero disables the cache.
	CacheSize int

	Logger logrus.FieldLogger
}

// DefaultCompressorOptions returns the stock 10 second idle threshold,
// one second poll and head-only FIFO queue.
func DefaultCompressorOptions() CompressorOptions {
	return CompressorOptions{
		IdleThreshold: 10 * time.Second,
		PollInterval:  time.Second,
		Mode:          QueueFIFO,
		Retry:         RetryDrop,
		MaxAttempts:   3,
		CacheSize:     16,
	}
}

// Compressor is the background compactor. It queues chunk paths, compresses
// full chunks once they have been idle long enough, and decompresses them
// on demand. One Compressor is shared by every handle of a mount.
type Compressor struct {
	codec       util.Codec
	idle        time.Duration
	poll        time.Duration
	mode        QueueMode
	retry       RetryPolicy
	maxAttempts int
	log         logrus.FieldLogger

	// stat looks at a queued chunk. It runs without mu held.
	stat func(string) (os.FileInfo, error)

	mu    sync.Mutex
	queue compactionQueue
	seq   uint64
	pins  map[string]int
	busy  bool

	locks chunkLocks
	cache *lru.Cache[string, []byte]
	group singleflight.Group
	bufs  sync.Pool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewCompressor builds a Compressor and starts its worker goroutine. The
// worker runs until Close.
func NewCompressor(opts CompressorOptions) (*Compressor, error) {
	if opts.IdleThreshold < 0 {
		return nil, fmt.Errorf("%w: negative idle threshold", util.ErrInvalidConfig)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Codec == nil {
		codec, err := util.ParseCodec("zstd")
		if err != nil {
			return nil, err
		}
		opts.Codec = codec
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c := &Compressor{
		codec:       opts.Codec,
		idle:        opts.IdleThreshold,
		poll:        opts.PollInterval,
		mode:        opts.Mode,
		retry:       opts.Retry,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Logger.WithField("component", "compressor"),
		stat:        os.Stat,
		queue:       newQueue(opts.Mode),
		pins:        make(map[string]int),
		bufs: sync.Pool{New: func() any {
			buf := make([]byte, ChunkSize)
			return &buf
		}},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []byte](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}

	go c.run()
	return c, nil
}

// Enqueue appends path to the queue. Duplicates are allowed.
func (c *Compressor) Enqueue(path string) {
	c.mu.Lock()
	c.pushLocked(path, 0)
	c.mu.Unlock()
	c.log.WithField("chunk", path).Debug("queued for compaction")
}

// EnqueueIfAbsent appends path unless checkPath is already queued. It
// reports whether path was added.
func (c *Compressor) EnqueueIfAbsent(path, checkPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.contains(checkPath) {
		return false
	}
	c.pushLocked(path, 0)
	return true
}

func (c *Compressor) pushLocked(path string, attempts int) {
	c.seq++
	c.queue.push(queueEntry{
		path:     path,
		deadline: time.Now().Add(c.idle),
		attempts: attempts,
		seq:      c.seq,
	})
}

// Forget removes every queue entry for path and returns how many there
// were. Used when a chunk is deleted or moved away.
func (c *Compressor) Forget(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.remove(path)
}

// Queued reports whether path has at least one queue entry.
func (c *Compressor) Queued(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.contains(path)
}

// Len returns the number of queue entries.
func (c *Compressor) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// pin marks path as open for writing. Compress refuses pinned chunks.
func (c *Compressor) pin(path string) {
	c.mu.Lock()
	c.pins[path]++
	c.mu.Unlock()
}

// release undoes pin and, when enqueue is set, queues the chunk so its
// idle timer starts now.
func (c *Compressor) release(path string, enqueue bool) {
	c.mu.Lock()
	if n := c.pins[path]; n <= 1 {
		delete(c.pins, path)
	} else {
		c.pins[path] = n - 1
	}
	if enqueue {
		c.pushLocked(path, 0)
	}
	c.mu.Unlock()
}

func (c *Compressor) pinned(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pins[path] > 0
}

// run is the worker loop: drain every eligible entry, then wait for the
// next poll tick.
func (c *Compressor) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		for c.processNext() {
			select {
			case <-c.stop:
				return
			default:
			}
		}
		select {
		case <-ticker.C:
		case <-c.stop:
			return
		}
	}
}

// processNext handles the entry at the head of the queue. It returns
// false when there is nothing to do before the next poll.
func (c *Compressor) processNext() bool {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.queue.peek()
	c.mu.Unlock()
	if !ok {
		return false
	}
	if c.mode == QueueDeadline && e.deadline.After(now) {
		return false
	}

	info, err := c.stat(e.path)

	c.mu.Lock()
	if head, ok := c.queue.peek(); !ok || head.seq != e.seq || head.path != e.path {
		// The queue changed while the chunk was being looked at.
		c.mu.Unlock()
		return true
	}
	if err != nil {
		// Gone (compressed, deleted or moved) or unreadable; either way
		// there is nothing to compress.
		c.queue.pop()
		c.mu.Unlock()
		c.log.WithField("chunk", e.path).WithError(err).Debug("dropping queue entry")
		return true
	}

	if now.Sub(info.ModTime()) <= c.idle {
		if c.mode == QueueFIFO {
			c.mu.Unlock()
			return false
		}
		// Written since it was queued; move it to its new idle deadline.
		c.queue.pop()
		c.seq++
		e.deadline = info.ModTime().Add(c.idle)
		e.seq = c.seq
		c.queue.push(e)
		c.mu.Unlock()
		return true
	}

	c.queue.pop()
	c.busy = true
	c.mu.Unlock()

	err = c.Compress(e.path)

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.failedLocked(e, err)
	}
	c.mu.Unlock()
	return true
}

func (c *Compressor) failedLocked(e queueEntry, err error) {
	log := c.log.WithField("chunk", e.path).WithError(err)
	if errors.Is(err, ErrChunkBusy) {
		log.Debug("chunk busy, writer will requeue it")
		return
	}
	e.attempts++
	if c.retry == RetryRequeue && e.attempts < c.maxAttempts {
		c.seq++
		e.seq = c.seq
		e.deadline = time.Now().Add(c.idle)
		c.queue.push(e)
		log.WithField("attempts", e.attempts).Warn("compression failed, requeued")
		return
	}
	log.WithField("attempts", e.attempts).Warn("compression failed, dropped")
}

// Drain blocks until the queue is empty and the worker is idle, or ctx
// is done. Entries still become eligible only after the idle threshold.
func (c *Compressor) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		empty := c.queue.len() == 0 && !c.busy
		c.mu.Unlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("compressor closed with %d queued chunks", c.Len())
		case <-ticker.C:
		}
	}
}

// Close stops the worker and waits for it to exit. Queued entries are
// abandoned; their chunks stay plain. Close is idempotent.
func (c *Compressor) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		if c.cache != nil {
			c.cache.Purge()
		}
	})
	return nil
}

// Compress replaces a full, idle plain chunk with its compressed sibling.
// Missing files and chunks shorter than ChunkSize are left alone, as is
// data that does not shrink.
func (c *Compressor) Compress(path string) error {
	unlock := c.locks.lock(path)
	defer unlock()
	return c.compressLocked(path)
}

func (c *Compressor) compressLocked(path string) error {
	if c.pinned(path) {
		return ErrChunkBusy
	}
	log := c.log.WithField("chunk", path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioFailure("stat chunk", path, err)
	}
	if info.Size() != ChunkSize {
		return nil
	}
	lastWrite := info.ModTime()

	bufp := c.bufs.Get().(*[]byte)
	defer c.bufs.Put(bufp)
	buf := *bufp

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ioFailure("open chunk", path, err)
	}
	_, err = io.ReadFull(f, buf)
	f.Close()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			// Truncated underneath us.
			return nil
		}
		return ioFailure("read chunk", path, err)
	}

	image, err := util.EncodeImage(c.codec, buf)
	if errors.Is(err, util.ErrIncompressible) || (err == nil && len(image) >= ChunkSize) {
		log.Info("not compressed")
		return c.DeleteCompressedFile(path)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	compressed := CompressedPath(path)
	if err := writeFileAtomic(compressed, image); err != nil {
		return ioFailure("write compressed chunk", compressed, err)
	}
	if c.cache != nil {
		c.cache.Remove(path)
	}

	info, err = os.Stat(path)
	switch {
	case err != nil && os.IsNotExist(err):
	case err != nil:
		return ioFailure("stat chunk", path, err)
	case info.ModTime().Equal(lastWrite) && info.Size() == ChunkSize:
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ioFailure("remove chunk", path, err)
		}
	default:
		// Rewritten by someone outside this process while we were
		// encoding. The plain file wins.
		log.Warn("chunk changed during compression, keeping plain copy")
		return c.DeleteCompressedFile(path)
	}

	log.WithField("ratio", fmt.Sprintf("%d%%", 100*len(image)/ChunkSize)).Info("compressed")
	return nil
}

// Decompress returns the contents of path's compressed sibling as an
// in-memory reader positioned at zero. A chunk without a sibling is a
// hole and yields an empty reader.
func (c *Compressor) Decompress(path string) (*bytes.Reader, error) {
	data, err := c.decompressed(path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// decompressed returns the decoded chunk. The slice may be shared with
// the cache and other readers and must not be modified.
func (c *Compressor) decompressed(path string) ([]byte, error) {
	if c.cache != nil {
		if data, ok := c.cache.Get(path); ok {
			return data, nil
		}
	}
	v, err, _ := c.group.Do(path, func() (any, error) {
		compressed := CompressedPath(path)
		image, err := os.ReadFile(compressed)
		if err != nil {
			if os.IsNotExist(err) {
				return []byte(nil), nil
			}
			return nil, ioFailure("read compressed chunk", compressed, err)
		}
		data, err := util.DecodeImage(image, ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", compressed, err)
		}
		if c.cache != nil {
			c.cache.Add(path, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// DeleteCompressedFile removes path's compressed sibling if there is one.
func (c *Compressor) DeleteCompressedFile(path string) error {
	if c.cache != nil {
		c.cache.Remove(path)
	}
	compressed := CompressedPath(path)
	if err := os.Remove(compressed); err != nil && !os.IsNotExist(err) {
		return ioFailure("remove compressed chunk", compressed, err)
	}
	return nil
}

// writeFileAtomic writes data next to path under a temporary name and
// renames it into place, so readers never see a partial chunk image.
func writeFileAtomic(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, chunkFileMode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
