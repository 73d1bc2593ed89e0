package hnswdb

import "os"
import "sync/atomic"

import "golang.org/x/sys/unix"


//============================================= Mmap-backed Index File


// MMap is the byte-slice view of a memory-mapped index file.
type MMap []byte

// mapFile memory-maps f read-only for its full current size, giving the
// registry random-access reads without a page-cache copy per lookup.
func mapFile(f *os.File) (MMap, error) {
	info, statErr := f.Stat()
	if statErr != nil { return nil, newErr(ErrIO, "stat for mmap: %w", statErr) }

	if info.Size() == 0 { return MMap{}, nil }

	data, mmapErr := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if mmapErr != nil { return nil, newErr(ErrIO, "mmap: %w", mmapErr) }

	return MMap(data), nil
}

func (mapped MMap) unmap() error {
	if len(mapped) == 0 { return nil }
	if err := unix.Munmap([]byte(mapped)); err != nil { return newErr(ErrIO, "munmap: %w", err) }
	return nil
}

// IndexFile is a read-only, mmap-backed view over one "<version>.index" file,
// mapped at open for the file's size at that moment. Each commit writes a new
// version file and Store opens a new IndexFile for it; Remap re-maps an open
// file to its current size when called. Satisfies io.ReaderAt for NodeRegistry.
type IndexFile struct {
	file *os.File
	data atomic.Pointer[MMap]
}

func OpenIndexFile(path string) (*IndexFile, error) {
	file, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if openErr != nil { return nil, newErr(ErrIO, "opening index file %s: %w", path, openErr) }

	indexFile := &IndexFile{ file: file }
	if remapErr := indexFile.Remap(); remapErr != nil { file.Close(); return nil, remapErr }

	return indexFile, nil
}

// Remap re-maps the file to its current on-disk size. Call after a writer
// elsewhere has flushed new bytes, so subsequent reads can see them.
func (index *IndexFile) Remap() error {
	fresh, mapErr := mapFile(index.file)
	if mapErr != nil { return mapErr }

	old := index.data.Swap(&fresh)
	if old != nil { return (*old).unmap() }
	return nil
}

// ReadAt satisfies io.ReaderAt against the current mapping.
func (index *IndexFile) ReadAt(buf []byte, offset int64) (int, error) {
	mapped := index.data.Load()
	if mapped == nil { return 0, newErr(ErrIO, "index file not mapped") }

	data := *mapped
	if offset < 0 || offset+int64(len(buf)) > int64(len(data)) { return 0, ErrCorrupt }

	copy(buf, data[offset:offset+int64(len(buf))])
	return len(buf), nil
}

func (index *IndexFile) Close() error {
	if mapped := index.data.Load(); mapped != nil { (*mapped).unmap() }
	return index.file.Close()
}
