// Package archive moves load order history between databases and machines.
//
// An archive is a JSON document holding the snapshots of one game. It is
// written to a local file or an S3 object and may be LZ4 compressed; Decode
// detects compression from the frame magic, so readers need no hint.
package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4"

	"github.com/dshills/plugsync/internal/history"
	"github.com/dshills/plugsync/internal/loadorder"
)

// Version is the document format written by Encode.
const Version = 1

// lz4Magic starts every LZ4 frame.
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// ErrUnsupportedVersion is returned for documents newer than Version.
var ErrUnsupportedVersion = errors.New("unsupported archive version")

// Entry is one plugin of a snapshot, in load order.
type Entry struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Snapshot is one recorded load order.
type Snapshot struct {
	ID      string    `json:"id"`
	Reason  string    `json:"reason"`
	Created time.Time `json:"created"`
	Entries []Entry   `json:"entries"`
}

// Document is an archive of one game's history.
type Document struct {
	Version   int        `json:"version"`
	Game      string     `json:"game"`
	Exported  time.Time  `json:"exported"`
	Snapshots []Snapshot `json:"snapshots"`
}

// FromHistory builds a document from snapshots of game. Snapshots of other
// games are skipped.
func FromHistory(game string, snaps []*history.Snapshot) *Document {
	doc := &Document{
		Version:   Version,
		Game:      game,
		Exported:  time.Now().UTC(),
		Snapshots: make([]Snapshot, 0, len(snaps)),
	}
	for _, s := range snaps {
		if s.GameID != game {
			continue
		}
		entries := make([]Entry, len(s.Entries))
		for i, e := range s.Entries {
			entries[i] = Entry{Name: e.Name, Enabled: e.Enabled}
		}
		doc.Snapshots = append(doc.Snapshots, Snapshot{
			ID:      s.ID,
			Reason:  s.Reason,
			Created: s.Created,
			Entries: entries,
		})
	}
	return doc
}

// History converts the document back to history snapshots. Positions follow
// entry order.
func (d *Document) History() []*history.Snapshot {
	out := make([]*history.Snapshot, 0, len(d.Snapshots))
	for _, s := range d.Snapshots {
		entries := make([]loadorder.Entry, len(s.Entries))
		for i, e := range s.Entries {
			entries[i] = loadorder.Entry{Name: e.Name, Position: i, Enabled: e.Enabled}
		}
		out = append(out, &history.Snapshot{
			ID:      s.ID,
			GameID:  d.Game,
			Reason:  s.Reason,
			Created: s.Created,
			Entries: entries,
		})
	}
	return out
}

// Encode writes doc to w, LZ4 compressed when compress is set.
func Encode(w io.Writer, doc *Document, compress bool) error {
	if !compress {
		return writeJSON(w, doc)
	}
	zw := lz4.NewWriter(w)
	if err := writeJSON(zw, doc); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress archive: %w", err)
	}
	return nil
}

// Marshal encodes doc into memory.
func Marshal(doc *Document, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, compress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a plain or LZ4 compressed document.
func Decode(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if head, err := br.Peek(len(lz4Magic)); err == nil && bytes.Equal(head, lz4Magic) {
		src = lz4.NewReader(br)
	}

	var doc Document
	if err := json.NewDecoder(src).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if doc.Version < 1 || doc.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.Game == "" {
		return nil, errors.New("decode archive: missing game")
	}
	return &doc, nil
}

func writeJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	return nil
}
