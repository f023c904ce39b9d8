package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestBundleRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Add("1_100", []byte("result payload"))
	b.AddCompressed("student_log", []byte("stdout stdout stdout\nstderr\n"))
	b.AddCompressed("log", bytes.Repeat([]byte("x"), 4096))

	encoded, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	entries, err := Read(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "1_100" || string(entries[0].Data) != "result payload" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Name != "student_log" || string(entries[1].Data) != "stdout stdout stdout\nstderr\n" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if entries[2].Name != "log" || len(entries[2].Data) != 4096 {
		t.Fatalf("unexpected third entry length: %d", len(entries[2].Data))
	}
}

func TestBundleFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle")
	b := NewBuilder()
	b.Add("entry", []byte("hello"))
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(entries) != 1 || string(entries[0].Data) != "hello" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestAddFileIfExistsSkipsMissing(t *testing.T) {
	b := NewBuilder()
	if err := b.AddFileIfExists("missing", filepath.Join(t.TempDir(), "nope"), false); err != nil {
		t.Fatalf("AddFileIfExists: %v", err)
	}
	encoded, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	entries, err := Read(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want no entries for a missing source file, got %d", len(entries))
	}
}

func TestAddFileIfExistsTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), MaxEntryBytes+500), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder()
	if err := b.AddFileIfExists("big", path, false); err != nil {
		t.Fatalf("AddFileIfExists: %v", err)
	}
	if len(b.entries) != 1 || len(b.entries[0].Data) != MaxEntryBytes {
		t.Fatalf("want entry truncated to %d bytes, got %d", MaxEntryBytes, len(b.entries[0].Data))
	}
}

func TestUnpackZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "program.zip")

	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("main.py")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("print('hi')\n")); err != nil {
		t.Fatal(err)
	}
	w, err = zw.Create("lib/helper.py")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("def helper(): pass\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(dir, "archives", "1")
	if err := UnpackZip(zipPath, destDir); err != nil {
		t.Fatalf("UnpackZip: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(destDir, "main.py"))
	if err != nil {
		t.Fatalf("read main.py: %v", err)
	}
	if string(data) != "print('hi')\n" {
		t.Fatalf("unexpected main.py contents: %q", data)
	}
	if _, err := os.Stat(filepath.Join(destDir, "lib", "helper.py")); err != nil {
		t.Fatalf("nested entry missing: %v", err)
	}
}

func TestUnpackZipOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	destDir := filepath.Join(dir, "archives", "1")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "main.py"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(dir, "program.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("main.py")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if err := UnpackZip(zipPath, destDir); err != nil {
		t.Fatalf("UnpackZip: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(destDir, "main.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Fatalf("want overwritten contents %q, got %q", "new", data)
	}
}

func TestStageTemp(t *testing.T) {
	dir := t.TempDir()
	path, err := StageTemp(dir, []byte("zip bytes"))
	if err != nil {
		t.Fatalf("StageTemp: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "zip bytes" {
		t.Fatalf("unexpected staged contents: %q", data)
	}
}
