package hnswdb

import "encoding/binary"
import "io"
import "os"


//============================================= Buffered Writer


// defaultWindowSize mirrors the teacher's page-aligned growth granularity:
// it is the window's initial capacity, so small records fill it without
// reallocating; past it the window grows as Go's append grows any slice.
const defaultWindowSize = 4096

// BufferedWriter is a seekable, append-only writer over a file, holding an
// in-memory window of not-yet-flushed bytes so a chunked record's forward
// offset placeholders can be seeked back to and patched before the bytes
// ever reach disk. Seeking to a position already flushed is a hard error:
// once bytes cross baseOffset they are immutable from this writer's view.
type BufferedWriter struct {
	file *os.File
	window []byte
	baseOffset int64
	cursor int64
}

// OpenBufferedWriter opens path for append (creating it if absent) and
// starts the writer's window at the file's current end.
func OpenBufferedWriter(path string) (*BufferedWriter, error) {
	file, openErr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if openErr != nil { return nil, newErr(ErrIO, "opening %s: %w", path, openErr) }

	info, statErr := file.Stat()
	if statErr != nil { file.Close(); return nil, newErr(ErrIO, "stat %s: %w", path, statErr) }

	writer := &BufferedWriter{
		file: file,
		window: make([]byte, 0, defaultWindowSize),
		baseOffset: info.Size(),
		cursor: info.Size(),
	}
	return writer, nil
}

// Position returns the writer's current append cursor, the offset at which
// the next Write call's bytes will land.
func (writer *BufferedWriter) Position() uint32 { return uint32(writer.cursor) }

// Write appends bytes at the current cursor, growing the in-memory window.
func (writer *BufferedWriter) Write(data []byte) (int, error) {
	writer.window = append(writer.window, data...)
	writer.cursor += int64(len(data))
	return len(data), nil
}

func (writer *BufferedWriter) WriteUint32(value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err := writer.Write(buf[:])
	return err
}

func (writer *BufferedWriter) WriteUint16(value uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	_, err := writer.Write(buf[:])
	return err
}

func (writer *BufferedWriter) WriteByte(value byte) error {
	_, err := writer.Write([]byte{ value })
	return err
}

// Patch overwrites the 4 bytes at offset with value. offset must fall within
// the unflushed window -- patching a position already on disk returns
// ErrPatchPastFlush, since this writer never reads back flushed bytes.
func (writer *BufferedWriter) Patch(offset uint32, value uint32) error {
	target := int64(offset)
	if target < writer.baseOffset { return ErrPatchPastFlush }

	pos := target - writer.baseOffset
	if pos+4 > int64(len(writer.window)) {
		return newErr(ErrIO, "patch offset %d beyond written window", offset)
	}

	binary.LittleEndian.PutUint32(writer.window[pos:pos+4], value)
	return nil
}

// Flush writes the entire unflushed window to the file and advances
// baseOffset past it, permanently closing the window to further patches.
func (writer *BufferedWriter) Flush() error {
	if len(writer.window) == 0 { return nil }

	if _, seekErr := writer.file.Seek(writer.baseOffset, io.SeekStart); seekErr != nil {
		return newErr(ErrIO, "seeking to flush window: %w", seekErr)
	}
	if _, writeErr := writer.file.Write(writer.window); writeErr != nil {
		return newErr(ErrIO, "flushing buffered writer: %w", writeErr)
	}

	writer.baseOffset += int64(len(writer.window))
	writer.window = writer.window[:0]
	return nil
}

// Sync flushes the window and fsyncs the underlying file.
func (writer *BufferedWriter) Sync() error {
	if flushErr := writer.Flush(); flushErr != nil { return flushErr }
	return writer.file.Sync()
}

func (writer *BufferedWriter) Close() error {
	if flushErr := writer.Flush(); flushErr != nil { writer.file.Close(); return flushErr }
	return writer.file.Close()
}
