package mdf4

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// idBlockSize is the fixed prefix at offset 0 of every MDF4 file. It is
// not a linked block: it carries no tag, reserved field, or link count
// of its own.
const idBlockSize = 64

const fileIdentifierTag = "MDF     "

// Identification is the decoded 64-byte file identification prefix.
type Identification struct {
	VersionString  string // e.g. "4.11"
	ProgramID      string
	ByteOrderLE    bool
	VersionNumber  int // e.g. 411
}

// readIdentification decodes and validates the file identification
// prefix. A tag mismatch yields FileIdentifierError; a version outside
// [400,411] yields FileVersioningError.
func readIdentification(data []byte) (Identification, error) {
	if len(data) < idBlockSize {
		return Identification{}, &InvalidDataError{Context: "file shorter than identification block"}
	}
	raw := data[:idBlockSize]

	tag := string(raw[0:8])
	if tag != fileIdentifierTag {
		return Identification{}, &FileIdentifierError{Found: tag}
	}

	versionStr := strings.TrimRight(string(raw[8:16]), " \x00")
	programID := strings.TrimRight(string(raw[16:24]), " \x00")
	// bytes 28..30: default byte order (0 = LE, the only form this library
	// produces). A nonzero value is reported as ByteOrderLE=false, not
	// rejected.
	byteOrderLE := binary.LittleEndian.Uint16(raw[28:30]) == 0
	versionNumber := int(binary.LittleEndian.Uint16(raw[34:36]))

	if versionNumber == 0 {
		// Some writers only populate the ASCII field; fall back to it.
		digits := strings.ReplaceAll(versionStr, ".", "")
		if n, err := strconv.Atoi(digits); err == nil {
			if len(digits) == 2 {
				n *= 10 // "4.1" -> 410 style normalization
			}
			versionNumber = n // "4.11" -> 411
		}
	}

	if versionNumber < 400 || versionNumber > 411 {
		return Identification{}, &FileVersioningError{Version: versionNumber}
	}

	return Identification{
		VersionString: versionStr,
		ProgramID:     programID,
		ByteOrderLE:   byteOrderLE,
		VersionNumber: versionNumber,
	}, nil
}

// writeIdentification encodes id into a fresh idBlockSize-byte prefix.
func writeIdentification(id Identification) []byte {
	buf := make([]byte, idBlockSize)
	copy(buf[0:8], fileIdentifierTag)

	versionStr := id.VersionString
	if versionStr == "" {
		versionStr = "4.11"
	}
	copy(buf[8:16], padRight(versionStr, 8))
	copy(buf[16:24], padRight(id.ProgramID, 8))

	binary.LittleEndian.PutUint16(buf[28:30], 0) // little-endian
	versionNumber := id.VersionNumber
	if versionNumber == 0 {
		versionNumber = 411
	}
	binary.LittleEndian.PutUint16(buf[34:36], uint16(versionNumber))
	return buf
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
