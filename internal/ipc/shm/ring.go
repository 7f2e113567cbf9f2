// Package shm implements the out-of-process counterpart to
// internal/ipc.Channel: a fixed-slot ring living in a memory-mapped file
// so a spawned worker process (internal/worker) and the runtime can share
// wire frames without a copy through a socket.
//
// original_source/runtime/src/python/multiprocess/ipc_channel.rs reaches
// for iceoryx2's zero-copy publish-subscribe service for this; iceoryx2
// has no Go binding anywhere in the retrieval pack, so this is
// re-expressed as an mmap'd ring guarded by a spinlock living in the
// mapping itself (no lock-free queue or cross-process condvar library
// exists in the pack either — see DESIGN.md). Blocking Publish/Receive
// therefore poll at a short fixed interval rather than waiting on a
// condition variable.
package shm

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mediarun/mediarun/internal/ipc"
)

// MaxSliceLen mirrors the original's MAX_SLICE_LEN: the largest wire frame
// a shared-memory slot can hold (spec.md §4.D default payload cap).
const MaxSliceLen = 10 * 1024 * 1024

const (
	headerSize   = 64
	pollInterval = 500 * time.Microsecond
)

// ring header, laid directly over the start of the mapping. lock and
// closed are accessed through sync/atomic; lock is an in-mapping spinlock,
// and Publish and Receive read and advance writeSeq/readSeq only while
// holding it (Depth loads them atomically without it). slotCount and
// slotSize are written once by Create.
type ringHeader struct {
	lock      uint32
	closed    uint32
	_pad0     uint32
	_pad1     uint32
	writeSeq  uint64
	readSeq   uint64
	slotCount uint64
	slotSize  uint64
}

// Config parameterizes a shared-memory ring segment.
type Config struct {
	// Path is the backing file. Conventionally under IPCConfig's
	// shared-memory segment directory, named after the edge it carries.
	Path      string
	SlotCount int
	SlotSize  int // must be <= MaxSliceLen

	Policy ipc.OverflowPolicy
	Merge  ipc.MergeFunc // required when Policy == ipc.MergeOnOverflow
}

// Ring is a fixed-slot, single-writer/single-reader shared-memory queue
// backing one executor edge across a process boundary.
type Ring struct {
	cfg  Config
	file *os.File
	data []byte
	hdr  *ringHeader
}

var (
	_ ipc.Publisher  = (*Ring)(nil)
	_ ipc.Subscriber = (*Ring)(nil)
)

func segmentSize(slotCount, slotSize int) int64 {
	return int64(headerSize) + int64(slotCount)*int64(4+slotSize)
}

// Create allocates a new shared-memory segment at cfg.Path, truncating
// any previous contents. The creating process owns the file and removes
// it with Unlink once every process using the ring has called Close.
func Create(cfg Config) (*Ring, error) {
	if cfg.SlotCount <= 0 {
		return nil, fmt.Errorf("shm: slot_count must be > 0")
	}
	if cfg.SlotSize <= 0 || cfg.SlotSize > MaxSliceLen {
		return nil, fmt.Errorf("shm: slot_size must be in (0, %d]", MaxSliceLen)
	}
	if cfg.Policy == ipc.MergeOnOverflow && cfg.Merge == nil {
		return nil, fmt.Errorf("shm: merge_on_overflow requires a merge function")
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %q: %w", cfg.Path, err)
	}
	size := segmentSize(cfg.SlotCount, cfg.SlotSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: truncate %q: %w", cfg.Path, err)
	}

	r, err := mapFile(cfg, f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.hdr.slotCount = uint64(cfg.SlotCount)
	r.hdr.slotSize = uint64(cfg.SlotSize)
	return r, nil
}

// Open maps an existing segment created by Create at cfg.Path, for a
// second process (or a second handle in the same process) that shares the
// ring with its creator.
func Open(cfg Config) (*Ring, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: stat %q: %w", cfg.Path, err)
	}
	r, err := mapFile(cfg, f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	if cfg.Policy == ipc.MergeOnOverflow && cfg.Merge == nil {
		r.Close()
		return nil, fmt.Errorf("shm: merge_on_overflow requires a merge function")
	}
	return r, nil
}

func mapFile(cfg Config, f *os.File, size int64) (*Ring, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %q: %w", cfg.Path, err)
	}
	return &Ring{
		cfg:  cfg,
		file: f,
		data: data,
		hdr:  (*ringHeader)(unsafe.Pointer(&data[0])),
	}, nil
}

func (r *Ring) lockSpin(ctx context.Context) error {
	for {
		if atomic.CompareAndSwapUint32(&r.hdr.lock, 0, 1) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		time.Sleep(pollInterval)
	}
}

func (r *Ring) unlock() {
	atomic.StoreUint32(&r.hdr.lock, 0)
}

func (r *Ring) slotOffset(i uint64) int {
	slotStride := 4 + int(r.hdr.slotSize)
	return headerSize + int(i%r.hdr.slotCount)*slotStride
}

func (r *Ring) writeSlot(i uint64, frame []byte) {
	off := r.slotOffset(i)
	binary.LittleEndian.PutUint32(r.data[off:off+4], uint32(len(frame)))
	copy(r.data[off+4:off+4+len(frame)], frame)
}

func (r *Ring) readSlot(i uint64) []byte {
	off := r.slotOffset(i)
	n := binary.LittleEndian.Uint32(r.data[off : off+4])
	out := make([]byte, n)
	copy(out, r.data[off+4:off+4+int(n)])
	return out
}

func (r *Ring) isClosed() bool {
	return atomic.LoadUint32(&r.hdr.closed) != 0
}

func (r *Ring) depthLocked() uint64 {
	return r.hdr.writeSeq - r.hdr.readSeq
}

// Publish writes a frame into the ring, applying cfg.Policy if the ring is
// full. Semantics mirror internal/ipc.Channel's Publish exactly.
func (r *Ring) Publish(ctx context.Context, frame []byte) error {
	if uint64(len(frame)) > r.hdr.slotSize {
		return fmt.Errorf("shm: frame of %d bytes exceeds slot_size %d", len(frame), r.hdr.slotSize)
	}

	if err := r.lockSpin(ctx); err != nil {
		return err
	}
	held := true
	unlockIfHeld := func() {
		if held {
			r.unlock()
			held = false
		}
	}
	defer unlockIfHeld()

	if r.isClosed() {
		return fmt.Errorf("shm: ring %q is closed", r.cfg.Path)
	}

	for r.depthLocked() >= r.hdr.slotCount {
		switch r.cfg.Policy {
		case ipc.DropOldest:
			r.hdr.readSeq++
		case ipc.DropNewest:
			return nil
		case ipc.MergeOnOverflow:
			oldest := r.readSlot(r.hdr.readSeq)
			r.writeSlot(r.hdr.readSeq, r.cfg.Merge(oldest, frame))
			return nil
		case ipc.Block:
			unlockIfHeld()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			if err := r.lockSpin(ctx); err != nil {
				return err
			}
			held = true
			if r.isClosed() {
				return fmt.Errorf("shm: ring %q is closed", r.cfg.Path)
			}
		default:
			return fmt.Errorf("shm: unknown overflow policy %q", r.cfg.Policy)
		}
	}

	r.writeSlot(r.hdr.writeSeq, frame)
	r.hdr.writeSeq++
	return nil
}

// Receive returns the next queued frame, polling until one is available,
// the ring is closed (ok=false), or ctx is done.
func (r *Ring) Receive(ctx context.Context) (frame []byte, ok bool, err error) {
	for {
		if err := r.lockSpin(ctx); err != nil {
			return nil, false, err
		}

		if r.depthLocked() > 0 {
			frame = r.readSlot(r.hdr.readSeq)
			r.hdr.readSeq++
			r.unlock()
			return frame, true, nil
		}
		closed := r.isClosed()
		r.unlock()
		if closed {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Depth returns the number of queued, unread frames.
func (r *Ring) Depth() int {
	return int(atomic.LoadUint64(&r.hdr.writeSeq) - atomic.LoadUint64(&r.hdr.readSeq))
}

// Close marks the ring closed (waking any polling Publish/Receive
// callers), unmaps the segment, and closes the backing file. It does not
// remove the file; Unlink does.
func (r *Ring) Close() error {
	atomic.StoreUint32(&r.hdr.closed, 1)
	if err := unix.Munmap(r.data); err != nil {
		r.file.Close()
		return fmt.Errorf("shm: munmap %q: %w", r.cfg.Path, err)
	}
	return r.file.Close()
}

// Unlink removes the backing segment file. Call once every process
// sharing the ring has called Close.
func Unlink(path string) error {
	return os.Remove(path)
}
