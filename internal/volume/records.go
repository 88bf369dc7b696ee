package volume

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/standardbeagle/mftindex/internal/types"
)

// usnRecordHeaderSize is the fixed portion of a USN_RECORD_V2/V3/V4
// header preceding the variable-length filename, grounded on the
// field layout other_examples/7d94ea3c_fsnotify-fsnotify__backend_usn.go.go
// uses for USN_RECORD_V4.
const usnRecordHeaderSize = 60

const (
	fileAttributeDirectory = 0x00000010
	fileAttributeHidden    = 0x00000002
	fileAttributeReparse   = 0x00000400
)

// parseRecordBuffer walks a buffer of back-to-back USN records (as
// returned by FSCTL_READ_USN_JOURNAL or FSCTL_ENUM_USN_DATA) and
// returns the decoded records plus the number of bytes consumed.
// Malformed trailing data (a record whose declared length would run
// past the buffer) stops parsing without error; the caller re-reads
// from the journal at the next offset on the next call.
func parseRecordBuffer(buf []byte) ([]types.USNRecord, uint32, error) {
	var (
		records []types.USNRecord
		offset  uint32
		bufLen  = uint32(len(buf))
	)

	for offset+8 <= bufLen {
		recLen := binary.LittleEndian.Uint32(buf[offset:])
		if recLen == 0 || offset+recLen > bufLen {
			break
		}
		if recLen < usnRecordHeaderSize {
			return records, offset, fmt.Errorf("volume: corrupt USN record at offset %d: length %d shorter than header", offset, recLen)
		}

		rec := buf[offset : offset+recLen]
		frn := binary.LittleEndian.Uint64(rec[8:16])
		parentFRN := binary.LittleEndian.Uint64(rec[16:24])
		usn := int64(binary.LittleEndian.Uint64(rec[24:32]))
		reason := binary.LittleEndian.Uint32(rec[40:44])
		fileAttrs := binary.LittleEndian.Uint32(rec[52:56])
		nameLen := binary.LittleEndian.Uint16(rec[56:58])
		nameOffset := binary.LittleEndian.Uint16(rec[58:60])

		var name string
		var nameValid = true
		if uint32(nameOffset)+uint32(nameLen) <= recLen && nameLen > 0 {
			name = decodeUTF16Name(rec[nameOffset : uint32(nameOffset)+uint32(nameLen)])
		} else {
			nameValid = false
		}

		offset += recLen

		if !nameValid || name == "" {
			// Corrupt or empty name: skip per §4.A "skip records whose
			// name lies outside the record... or is empty".
			continue
		}

		flags := flagsFromAttributes(fileAttrs, name)
		records = append(records, types.USNRecord{
			FRN:       frn,
			ParentFRN: parentFRN,
			Name:      name,
			Flags:     flags,
			USN:       usn,
			Reason:    reason,
		})
	}

	return records, offset, nil
}

func flagsFromAttributes(attrs uint32, name string) types.Flags {
	var f types.Flags
	if attrs&fileAttributeDirectory != 0 {
		f |= types.FlagDirectory
	}
	if attrs&fileAttributeHidden != 0 {
		f |= types.FlagHidden
	}
	if !isASCII(name) {
		f |= types.FlagNonASCII
	}
	return f
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

// decodeUTF16Name decodes a little-endian UTF-16 filename as stored in
// a USN record into a UTF-8 Go string.
func decodeUTF16Name(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}
