package format

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// minColumnEntry is the smallest footer entry: empty name length, tag, offset, length.
const minColumnEntry = lenPrefix + 1 + 8 + 8

// byteReader reads little-endian fields from a bounded slice and reports
// positions relative to the start of the blob.
type byteReader struct {
	data []byte
	pos  int
	base int64
}

func (r *byteReader) at() int64 {
	return r.base + int64(r.pos)
}

func (r *byteReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *byteReader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, corruptf(r.at(), "truncated %s: need %d bytes, have %d", what, n, r.remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) u8(what string) (uint8, error) {
	b, err := r.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) u64(what string) (uint64, error) {
	b, err := r.take(8, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) bytes(what string) ([]byte, error) {
	n, err := r.u32(what + " length")
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, corruptf(r.at(), "truncated %s: length %d exceeds %d remaining bytes", what, n, r.remaining())
	}
	return r.take(int(n), what)
}

// ReadFooter locates and parses the footer of a blob without decoding any
// column data.
func ReadFooter(blob []byte) (Footer, error) {
	if len(blob) < TrailerSize {
		return Footer{}, corruptf(0, "blob is %d bytes, shorter than the %d-byte trailer", len(blob), TrailerSize)
	}
	trailerStart := len(blob) - TrailerSize
	footerOffset := binary.LittleEndian.Uint64(blob[trailerStart:])
	if footerOffset > uint64(trailerStart) {
		return Footer{}, corruptf(int64(trailerStart), "footer offset %d beyond trailer at %d", footerOffset, trailerStart)
	}

	r := &byteReader{data: blob[footerOffset:trailerStart], base: int64(footerOffset)}
	rowCount, err := r.u32("row count")
	if err != nil {
		return Footer{}, err
	}
	colCount, err := r.u32("column count")
	if err != nil {
		return Footer{}, err
	}
	if colCount == 0 {
		return Footer{}, corruptf(r.at()-4, "footer declares zero columns")
	}
	if uint64(colCount) > uint64(r.remaining()/minColumnEntry) {
		return Footer{}, corruptf(r.at()-4, "footer declares %d columns but only %d bytes remain", colCount, r.remaining())
	}

	f := Footer{
		RowCount: rowCount,
		Columns:  make([]ColumnMeta, 0, colCount),
		Offset:   footerOffset,
	}
	seen := make(map[string]struct{}, colCount)
	// Runs must tile the data region in column order.
	var next uint64
	for i := uint32(0); i < colCount; i++ {
		entryAt := r.at()
		nameBytes, err := r.bytes("column name")
		if err != nil {
			return Footer{}, err
		}
		if len(nameBytes) == 0 || !utf8.Valid(nameBytes) {
			return Footer{}, corruptf(entryAt, "column %d has an empty or non-UTF-8 name", i)
		}
		name := string(nameBytes)
		if _, dup := seen[name]; dup {
			return Footer{}, corruptf(entryAt, "duplicate column %q", name)
		}
		seen[name] = struct{}{}

		tagAt := r.at()
		tag, err := r.u8("type tag")
		if err != nil {
			return Footer{}, err
		}
		if !ColumnType(tag).Valid() {
			return Footer{}, &ColumnError{Column: name, Row: -1, Err: ErrUnsupportedType,
				Detail: fmt.Sprintf("type tag %d at offset %d", tag, tagAt)}
		}
		off, err := r.u64("column offset")
		if err != nil {
			return Footer{}, err
		}
		length, err := r.u64("column length")
		if err != nil {
			return Footer{}, err
		}
		if off != next {
			return Footer{}, corruptf(entryAt, "column %q run starts at %d, want %d", name, off, next)
		}
		if length > footerOffset-off {
			return Footer{}, corruptf(entryAt, "column %q run [%d, +%d) outside data region of %d bytes", name, off, length, footerOffset)
		}
		next = off + length
		f.Columns = append(f.Columns, ColumnMeta{Name: name, Type: ColumnType(tag), Offset: off, Length: length})
	}
	if next != footerOffset {
		return Footer{}, corruptf(int64(next), "column runs end at %d, footer starts at %d", next, footerOffset)
	}
	if r.remaining() != 0 {
		return Footer{}, corruptf(r.at(), "%d unexpected bytes between footer and trailer", r.remaining())
	}
	return f, nil
}

// Decode reconstructs the schema and rows stored in blob. The blob is not
// modified and decoded values do not alias it.
func Decode(blob []byte) (*Schema, []Row, error) {
	f, err := ReadFooter(blob)
	if err != nil {
		return nil, nil, err
	}
	s, err := f.Schema()
	if err != nil {
		return nil, nil, corruptf(int64(f.Offset), "footer schema: %v", err)
	}

	n := uint64(f.RowCount)
	for _, c := range f.Columns {
		switch c.Type {
		case Int32:
			if c.Length != n*int32Width {
				return nil, nil, corruptf(int64(c.Offset), "column %q is %d bytes, want %d for %d INT32 rows", c.Name, c.Length, n*int32Width, n)
			}
		case UTF8:
			if c.Length < n*lenPrefix {
				return nil, nil, corruptf(int64(c.Offset), "column %q is %d bytes, too short for %d UTF8 rows", c.Name, c.Length, n)
			}
		}
	}

	rows := make([]Row, f.RowCount)
	for i := range rows {
		rows[i] = make(Row, len(f.Columns))
	}
	for _, c := range f.Columns {
		run := blob[c.Offset : c.Offset+c.Length]
		if err := decodeColumn(c, run, rows); err != nil {
			return nil, nil, err
		}
	}
	return s, rows, nil
}

func decodeColumn(c ColumnMeta, run []byte, rows []Row) error {
	switch c.Type {
	case Int32:
		for i := range rows {
			rows[i][c.Name] = int32(binary.LittleEndian.Uint32(run[i*int32Width:]))
		}
	case UTF8:
		r := &byteReader{data: run, base: int64(c.Offset)}
		for i := range rows {
			at := r.at()
			b, err := r.bytes("string value")
			if err != nil {
				return err
			}
			if !utf8.Valid(b) {
				return corruptf(at, "column %q row %d is not valid UTF-8", c.Name, i)
			}
			rows[i][c.Name] = string(b)
		}
		if r.remaining() != 0 {
			return corruptf(r.at(), "column %q has %d trailing bytes", c.Name, r.remaining())
		}
	default:
		return &ColumnError{Column: c.Name, Row: -1, Err: ErrUnsupportedType}
	}
	return nil
}

// DecodeReader reads a whole blob from r and decodes it.
func DecodeReader(r io.Reader) (*Schema, []Row, error) {
	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read blob: %w", err)
	}
	return Decode(blob)
}

// MmapFile represents a memory-mapped file.
type MmapFile struct {
	path string
	data []byte
	size int64
}

// OpenMmap opens a file and maps it into memory.
func OpenMmap(path string) (*MmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return &MmapFile{path: path, data: nil, size: 0}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &MmapFile{
		path: path,
		data: data,
		size: size,
	}, nil
}

// Close unmaps the file.
func (m *MmapFile) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Data returns the raw memory-mapped bytes.
func (m *MmapFile) Data() []byte {
	return m.data
}

// Size returns the file size.
func (m *MmapFile) Size() int64 {
	return m.size
}

// File is a blob file opened for reading.
//
// Thread Safety: File is safe for concurrent reads. Close should only be
// called once, after all reads have completed.
type File struct {
	mmap   *MmapFile
	footer Footer
}

// OpenFile maps a blob file and validates its footer.
func OpenFile(path string) (*File, error) {
	mmap, err := OpenMmap(path)
	if err != nil {
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	footer, err := ReadFooter(mmap.Data())
	if err != nil {
		mmap.Close()
		return nil, fmt.Errorf("read footer of %s: %w", path, err)
	}

	return &File{mmap: mmap, footer: footer}, nil
}

// Footer returns the parsed footer.
func (f *File) Footer() Footer {
	return f.footer
}

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	return f.mmap.Size()
}

// Decode decodes the whole file. Returned rows stay valid after Close.
func (f *File) Decode() (*Schema, []Row, error) {
	return Decode(f.mmap.Data())
}

// Close releases the memory mapping.
func (f *File) Close() error {
	return f.mmap.Close()
}

// ReadFile opens, decodes and closes a blob file.
func ReadFile(path string) (*Schema, []Row, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return f.Decode()
}
