// Package esp reads the header record of Gamebryo/Creation engine plugin
// files. Only the information the sort oracle needs is decoded: the record
// flags and the list of master files the plugin depends on.
package esp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dshills/plugsync/internal/fsys"
)

// Errors returned when decoding a header.
var (
	// ErrNotPlugin indicates the data does not start with a TES4/TES3 record.
	ErrNotPlugin = errors.New("not a plugin file")

	// ErrTruncated indicates the header record ends early.
	ErrTruncated = errors.New("truncated plugin header")
)

const (
	flagMaster = 0x00000001
	flagLight  = 0x00000200

	// maxHeaderData bounds the header record payload.
	maxHeaderData = 16 << 20
)

// Header is the decoded header record.
type Header struct {
	// IsMaster is set when the master flag is present (ESM semantics).
	IsMaster bool

	// IsLight is set when the light flag is present.
	IsLight bool

	// Masters lists the plugins this plugin requires, in declared order.
	Masters []string
}

// Tags renders the header as dependency tags for the sort oracle.
func (h *Header) Tags() []string {
	tags := make([]string, 0, len(h.Masters)+2)
	if h.IsMaster {
		tags = append(tags, "esm")
	}
	if h.IsLight {
		tags = append(tags, "esl")
	}
	for _, m := range h.Masters {
		tags = append(tags, "master:"+m)
	}
	return tags
}

// Read decodes the header record from r. headerSize is the record header
// length of the game's format (20 for Oblivion, 24 for later games).
func Read(r io.Reader, headerSize int) (*Header, error) {
	if headerSize < 20 {
		return nil, fmt.Errorf("invalid record header size %d", headerSize)
	}

	rec := make([]byte, headerSize)
	if _, err := io.ReadFull(r, rec); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotPlugin
		}
		return nil, err
	}
	if !bytes.Equal(rec[0:4], []byte("TES4")) {
		return nil, ErrNotPlugin
	}

	size := binary.LittleEndian.Uint32(rec[4:8])
	flags := binary.LittleEndian.Uint32(rec[8:12])
	if size > maxHeaderData {
		return nil, fmt.Errorf("%w: header payload of %d bytes", ErrTruncated, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, ErrTruncated
	}

	h := &Header{
		IsMaster: flags&flagMaster != 0,
		IsLight:  flags&flagLight != 0,
	}
	if err := h.decodeFields(data); err != nil {
		return nil, err
	}
	return h, nil
}

// decodeFields walks the subrecords of the header record.
func (h *Header) decodeFields(data []byte) error {
	var override uint32
	for off := 0; off < len(data); {
		if len(data)-off < 6 {
			return ErrTruncated
		}
		typ := string(data[off : off+4])
		size := uint32(binary.LittleEndian.Uint16(data[off+4 : off+6]))
		off += 6

		if override != 0 {
			size = override
			override = 0
		}
		if uint32(len(data)-off) < size {
			return ErrTruncated
		}
		field := data[off : off+int(size)]
		off += int(size)

		switch typ {
		case "XXXX":
			if len(field) != 4 {
				return ErrTruncated
			}
			override = binary.LittleEndian.Uint32(field)
		case "MAST":
			h.Masters = append(h.Masters, string(bytes.TrimRight(field, "\x00")))
		}
	}
	return nil
}

// ReadFile decodes the header of the plugin at path.
func ReadFile(fs fsys.FS, path string, headerSize int) (*Header, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h, err := Read(bytes.NewReader(data), headerSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}
