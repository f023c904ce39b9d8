// Package archive implements the two on-disk container formats the
// scheduler deals with: unpacking a student-supplied ZIP program archive,
// and writing/reading the sequential "bundle" container used for result
// archives.
//
// The bundle format is a simple sequential container: each entry is a
// path (length-prefixed), a flag byte (1 if the payload is deflate
// compressed), a length-prefixed payload, repeated until EOF. There is no
// index or central directory, matching the reference's "simple sequential
// container" description; entries are read back in the order they were
// written.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
)

// MaxEntryBytes is the cap each source file is truncated to before being
// embedded in a bundle entry.
const MaxEntryBytes = 1_000_000

// Entry is one named payload within a bundle.
type Entry struct {
	Name       string
	Compressed bool
	Data       []byte
}

// Builder accumulates entries for a new bundle.
type Builder struct {
	entries []Entry
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends an entry verbatim (no compression).
func (b *Builder) Add(name string, data []byte) {
	b.entries = append(b.entries, Entry{Name: name, Data: data})
}

// AddCompressed appends an entry whose payload is stored deflate
// compressed.
func (b *Builder) AddCompressed(name string, data []byte) {
	b.entries = append(b.entries, Entry{Name: name, Compressed: true, Data: data})
}

// AddFileIfExists reads path, truncates its contents to MaxEntryBytes, and
// adds it as an entry under name. A missing file is silently skipped, per
// the result-archive construction rule that missing source files are
// omitted rather than erroring.
func (b *Builder) AddFileIfExists(name string, path string, compressed bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive: read %q: %w", path, err)
	}
	if len(data) > MaxEntryBytes {
		data = data[:MaxEntryBytes]
	}
	if compressed {
		b.AddCompressed(name, data)
	} else {
		b.Add(name, data)
	}
	return nil
}

// WriteFile encodes the accumulated entries and writes them to path.
func (b *Builder) WriteFile(path string) error {
	buf, err := b.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// Encode serializes the accumulated entries to their on-disk form.
func (b *Builder) Encode() ([]byte, error) {
	var out bytes.Buffer
	for _, e := range b.entries {
		payload := e.Data
		if e.Compressed {
			var compressed bytes.Buffer
			w, err := flate.NewWriter(&compressed, flate.DefaultCompression)
			if err != nil {
				return nil, fmt.Errorf("archive: flate writer: %w", err)
			}
			if _, err := w.Write(e.Data); err != nil {
				return nil, fmt.Errorf("archive: flate write: %w", err)
			}
			if err := w.Close(); err != nil {
				return nil, fmt.Errorf("archive: flate close: %w", err)
			}
			payload = compressed.Bytes()
		}

		if err := writeLengthPrefixed(&out, []byte(e.Name)); err != nil {
			return nil, err
		}
		flag := byte(0)
		if e.Compressed {
			flag = 1
		}
		out.WriteByte(flag)
		if err := writeLengthPrefixed(&out, payload); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

func writeLengthPrefixed(w *bytes.Buffer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.Write(lenBuf[:])
	w.Write(b)
	return nil
}

// Read decodes every entry in a bundle, in the order it was written.
// Compressed entries are inflated before being returned.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	for {
		name, err := readLengthPrefixed(r)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read entry name: %w", err)
		}

		var flag [1]byte
		if _, err := io.ReadFull(r, flag[:]); err != nil {
			return nil, fmt.Errorf("archive: read entry flag: %w", err)
		}

		payload, err := readLengthPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("archive: read entry payload: %w", err)
		}

		compressed := flag[0] == 1
		data := payload
		if compressed {
			data, err = io.ReadAll(flate.NewReader(bytes.NewReader(payload)))
			if err != nil {
				return nil, fmt.Errorf("archive: inflate entry %q: %w", string(name), err)
			}
		}

		entries = append(entries, Entry{Name: string(name), Compressed: compressed, Data: data})
	}
}

// ReadFile decodes every entry of the bundle at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
