package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Metadata is the document stored in a logical file's meta marker. The
// marker's existence is what makes the logical file exist; the document
// carries the canonical name, permission bits and the three timestamps.
type Metadata struct {
	Name     string      `json:"name"`
	Mode     os.FileMode `json:"mode"`
	Created  time.Time   `json:"created"`
	Accessed time.Time   `json:"accessed"`
	Modified time.Time   `json:"modified"`
}

// DefaultFileMode is applied to logical files created without a mode.
const DefaultFileMode os.FileMode = 0o644

// NewMetadata returns metadata for a file created at now.
func NewMetadata(name string, now time.Time) Metadata {
	return Metadata{
		Name:     name,
		Mode:     DefaultFileMode,
		Created:  now,
		Accessed: now,
		Modified: now,
	}
}

// LoadMetadata reads a meta marker. Markers written without a document
// (zero length) are accepted; their fields are filled from the marker's
// own stat information.
func LoadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, err
	}
	if info.IsDir() {
		return Metadata{}, ErrExpectedFile
	}

	m := Metadata{}
	if info.Size() > 0 {
		if err := json.NewDecoder(io.LimitReader(f, 1<<20)).Decode(&m); err != nil {
			return Metadata{}, fmt.Errorf("decode meta marker %s: %w", path, err)
		}
	}
	if m.Mode == 0 {
		m.Mode = DefaultFileMode
	}
	if m.Modified.IsZero() {
		m.Modified = info.ModTime()
	}
	if m.Accessed.IsZero() {
		m.Accessed = m.Modified
	}
	if m.Created.IsZero() {
		m.Created = m.Modified
	}
	return m, nil
}

// Save writes the document and then stamps the marker's own access and
// modification times so tools looking at the backing directory agree
// with the document.
func (m Metadata) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	return os.Chtimes(path, m.Accessed, m.Modified)
}
