package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/simbatch/internal/store"
)

// FormatVersion is the archive layout version written by Write.
const FormatVersion = 1

// MaxPayloadSize bounds the decompressed payload (200MB).
const MaxPayloadSize = 200 * 1024 * 1024

// Header is the plain-text first line of an archive file. It can be read
// without decompressing the payload.
type Header struct {
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	Study          string    `json:"study"`
	Checksum       string    `json:"checksum"`
	ConfigRows     int       `json:"config_rows"`
	GenerationRows int       `json:"generation_rows"`
}

// Archive is the payload: every row of the study store.
type Archive struct {
	CreatedAt time.Time   `json:"created_at"`
	Study     string      `json:"study"`
	Configs   []store.Row `json:"configs"`
	Metadata  []store.Row `json:"metadata"`
}

// Write stores a as a header line followed by the gzip-compressed payload.
func Write(path string, a *Archive) (*Header, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      a.CreatedAt,
		Study:          a.Study,
		Checksum:       checksum(compressed.Bytes()),
		ConfigRows:     len(a.Configs),
		GenerationRows: len(a.Metadata),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	return header, f.Close()
}

// Read loads an archive, verifying its checksum before decompressing.
func Read(path string) (*Header, *Archive, error) {
	header, compressed, err := readRaw(path)
	if err != nil {
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	payload, err := io.ReadAll(io.LimitReader(gzr, MaxPayloadSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxPayloadSize)
	}

	var a Archive
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, nil, fmt.Errorf("parsing archive payload: %w", err)
	}
	return header, &a, nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return parseHeader(bufio.NewReader(f))
}

// Verify checks the payload checksum without decompressing.
func Verify(path string) error {
	_, _, err := readRaw(path)
	return err
}

func readRaw(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := parseHeader(r)
	if err != nil {
		return nil, nil, err
	}
	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload: %w", err)
	}
	if got := checksum(compressed); got != header.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, got)
	}
	return header, compressed, nil
}

func parseHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported archive version %d", header.Version)
	}
	return &header, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
