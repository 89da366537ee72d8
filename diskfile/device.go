// Package diskfile is the buffer cache's downward collaborator: the
// synchronous block driver, implemented against a real file on the
// host filesystem rather than virtio. It generalizes
// _examples/Anthony4m-UltraSQL/kfile.FileMgr's per-file handle cache
// and block-offset seek/read/write into bio.BlockDevice, and borrows
// calvinalkan-agent-task's mmap'd-cache technique for the read path.
package diskfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"

	"rvkernel/bio"
)

// FileBlockDevice backs one or more simulated devices with files in a
// directory, one file per device number, each mmap'd. Block reads and
// writes both copy through the mapping under the device mutex;
// atomic.WriteFile is used only by Snapshot's whole-file rewrite.
type FileBlockDevice struct {
	dir    string
	bsize  int
	mu     sync.Mutex
	files  map[int32]*mappedFile
}

type mappedFile struct {
	f    *os.File
	data []byte // mmap'd view, grows via remap as the file is extended
}

// New opens (creating if necessary) a FileBlockDevice rooted at dir.
func New(dir string, bsize int) (*FileBlockDevice, error) {
	if bsize <= 0 {
		return nil, fmt.Errorf("diskfile: invalid block size %d", bsize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskfile: creating %s: %w", dir, err)
	}
	return &FileBlockDevice{dir: dir, bsize: bsize, files: make(map[int32]*mappedFile)}, nil
}

func (d *FileBlockDevice) path(dev int32) string {
	return filepath.Join(d.dir, fmt.Sprintf("dev%d.img", dev))
}

// ensure returns a mapping covering at least through blockno, growing
// and remapping the backing file if needed.
func (d *FileBlockDevice) ensure(dev int32, blockno uint32) (*mappedFile, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	need := int64(blockno+1) * int64(d.bsize)

	mf, ok := d.files[dev]
	if !ok {
		f, err := os.OpenFile(d.path(dev), os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, 0, fmt.Errorf("diskfile: opening device %d: %w", dev, err)
		}
		mf = &mappedFile{f: f}
		d.files[dev] = mf
	}

	info, err := mf.f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("diskfile: stat device %d: %w", dev, err)
	}

	if info.Size() < need {
		if err := mf.f.Truncate(need); err != nil {
			return nil, 0, fmt.Errorf("diskfile: growing device %d: %w", dev, err)
		}
	}

	if mf.data != nil && int64(len(mf.data)) >= need {
		return mf, need, nil
	}

	if mf.data != nil {
		if err := unix.Munmap(mf.data); err != nil {
			return nil, 0, fmt.Errorf("diskfile: unmap device %d: %w", dev, err)
		}
		mf.data = nil
	}

	data, err := unix.Mmap(int(mf.f.Fd()), 0, int(need), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("diskfile: mmap device %d: %w", dev, err)
	}
	mf.data = data
	return mf, need, nil
}

// ReadBlock implements bio.BlockDevice.
func (d *FileBlockDevice) ReadBlock(id bio.BlockID, buf []byte) error {
	mf, _, err := d.ensure(id.Dev, id.Blockno)
	if err != nil {
		return err
	}
	off := int64(id.Blockno) * int64(d.bsize)
	d.mu.Lock()
	copy(buf, mf.data[off:off+int64(d.bsize)])
	d.mu.Unlock()
	return nil
}

// WriteBlock implements bio.BlockDevice. It writes through the mmap'd
// view for immediate visibility to subsequent reads; no per-block
// atomic file rewrite is made. Sync flushes the mapping to disk.
func (d *FileBlockDevice) WriteBlock(id bio.BlockID, buf []byte) error {
	mf, _, err := d.ensure(id.Dev, id.Blockno)
	if err != nil {
		return err
	}
	off := int64(id.Blockno) * int64(d.bsize)
	d.mu.Lock()
	copy(mf.data[off:off+int64(d.bsize)], buf)
	d.mu.Unlock()
	return nil
}

// Sync flushes dev's mmap'd view to disk.
func (d *FileBlockDevice) Sync(dev int32) error {
	d.mu.Lock()
	mf, ok := d.files[dev]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.Msync(mf.data, unix.MS_SYNC)
}

// Checksum returns the xxhash of dev's currently mapped contents, for
// diagnostics. It does not rewrite or sync the file, and it reads the
// mapping without holding the device mutex.
func (d *FileBlockDevice) Checksum(dev int32) (uint64, error) {
	d.mu.Lock()
	mf, ok := d.files[dev]
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("diskfile: unknown device %d", dev)
	}
	return xxhash.Sum64(mf.data), nil
}

// Snapshot durably rewrites dev's backing file from its current mmap'd
// contents, atomically (no reader ever observes a half-written file).
func (d *FileBlockDevice) Snapshot(dev int32) error {
	d.mu.Lock()
	mf, ok := d.files[dev]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("diskfile: unknown device %d", dev)
	}
	return atomic.WriteFile(d.path(dev), bytes.NewReader(mf.data))
}

// Close unmaps and closes every open device file.
func (d *FileBlockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for dev, mf := range d.files {
		if mf.data != nil {
			if err := unix.Munmap(mf.data); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("diskfile: unmap device %d: %w", dev, err)
			}
		}
		if err := mf.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diskfile: close device %d: %w", dev, err)
		}
	}
	d.files = make(map[int32]*mappedFile)
	return firstErr
}
