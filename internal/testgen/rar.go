package testgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

// RAREntry is one stored file of a generated RAR archive.
type RAREntry struct {
	Name string
	Data []byte
}

var rarMarker = []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07, 0x00}

const (
	rarBlockMain = 0x73
	rarBlockFile = 0x74
	rarBlockEnd  = 0x7b

	rarFlagLongBlock = 0x8000
	rarFlagEndNoData = 0x4000
	rarMethodStore   = 0x30
	rarUnpackVersion = 20
	rarAttrArchive   = 0x20
	// 2020-01-01 00:00:00 in MS-DOS date/time format.
	rarDosTime = uint32(40<<25 | 1<<21 | 1<<16)
)

// GenerateRAR writes a RAR 4 archive with every entry stored uncompressed and
// returns its path.
func GenerateRAR(t *testing.T, dir, filename string, entries []RAREntry) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create RAR parent: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(rarMarker)
	writeRarBlock(&buf, rarBlockMain, 0, make([]byte, 6))

	for _, e := range entries {
		name := []byte(e.Name)
		var body bytes.Buffer
		le := func(v interface{}) { _ = binary.Write(&body, binary.LittleEndian, v) }
		le(uint32(len(e.Data))) // packed size
		le(uint32(len(e.Data))) // unpacked size
		le(uint8(0))            // host OS: MS-DOS
		le(crc32.ChecksumIEEE(e.Data))
		le(rarDosTime)
		le(uint8(rarUnpackVersion))
		le(uint8(rarMethodStore))
		le(uint16(len(name)))
		le(uint32(rarAttrArchive))
		body.Write(name)
		writeRarBlock(&buf, rarBlockFile, rarFlagLongBlock, body.Bytes())
		buf.Write(e.Data)
	}

	writeRarBlock(&buf, rarBlockEnd, rarFlagEndNoData, nil)

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("failed to write RAR file: %v", err)
	}
	return path
}

// GenerateCBR writes a RAR comic laid out like GenerateCBZ: numbered pages
// and, when requested, a ComicInfo.xml.
func GenerateCBR(t *testing.T, dir, filename string, opts CBZOptions) string {
	t.Helper()

	pageCount := opts.PageCount
	if pageCount <= 0 {
		pageCount = 3
	}
	width, height := opts.PageWidth, opts.PageHeight
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = 150
	}

	entries := []RAREntry{}
	if opts.HasComicInfo {
		entries = append(entries, RAREntry{Name: "ComicInfo.xml", Data: []byte(generateComicInfo(opts, pageCount))})
	}
	img := GenerateImage(t, "image/png", width, height)
	for i := 0; i < pageCount; i++ {
		entries = append(entries, RAREntry{Name: fmt.Sprintf("%03d.png", i), Data: img})
	}
	return GenerateRAR(t, dir, filename, entries)
}

// writeRarBlock writes a block header: CRC16, type, flags, size, then body.
// The CRC is the low half of the CRC32 of everything after the CRC field.
func writeRarBlock(buf *bytes.Buffer, typ byte, flags uint16, body []byte) {
	head := make([]byte, 5, 5+len(body))
	head[0] = typ
	binary.LittleEndian.PutUint16(head[1:], flags)
	binary.LittleEndian.PutUint16(head[3:], uint16(7+len(body)))
	head = append(head, body...)

	crc := make([]byte, 2)
	binary.LittleEndian.PutUint16(crc, uint16(crc32.ChecksumIEEE(head)))
	buf.Write(crc)
	buf.Write(head)
}
