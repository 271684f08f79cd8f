package waveform

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	headerSize          = 48
	defaultRecordLength = 4096
	blocketteDataOnly   = 1000
	flagTimeCorrected   = 0x02
)

type record struct {
	network    string
	station    string
	location   string
	channel    string
	quality    string
	start      time.Time
	sampleRate float64
	samples    int
	length     int
}

// MiniSEED parses miniSEED 2 fixed section data headers.
type MiniSEED struct{}

// NewMiniSEED returns the miniSEED parser.
func NewMiniSEED() MiniSEED { return MiniSEED{} }

// Parse reads every record header in path and merges them into traces.
func (MiniSEED) Parse(path string) (*Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory miniSEED volume.
func ParseBytes(data []byte) (*Stream, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnreadable)
	}
	var records []record
	for offset := 0; offset < len(data); {
		rest := data[offset:]
		if len(rest) < headerSize {
			if isPadding(rest) && len(records) > 0 {
				break
			}
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrUnreadable, offset)
		}
		rec, err := decodeHeader(rest)
		if err != nil {
			if isPadding(rest) && len(records) > 0 {
				break
			}
			return nil, fmt.Errorf("%w: offset %d: %v", ErrUnreadable, offset, err)
		}
		if rec.length > len(rest) {
			return nil, fmt.Errorf("%w: record at offset %d needs %d bytes, have %d", ErrUnreadable, offset, rec.length, len(rest))
		}
		records = append(records, rec)
		offset += rec.length
	}

	samples := 0
	for _, rec := range records {
		samples += rec.samples
	}
	if samples == 0 {
		return nil, fmt.Errorf("%w: %d records carry no samples", ErrBroken, len(records))
	}
	return mergeRecords(records), nil
}

func decodeHeader(h []byte) (record, error) {
	for _, c := range h[0:6] {
		if (c < '0' || c > '9') && c != ' ' {
			return record{}, fmt.Errorf("invalid sequence number %q", h[0:6])
		}
	}
	quality := h[6]
	if !strings.ContainsRune("DRQM", rune(quality)) {
		return record{}, fmt.Errorf("invalid data quality indicator %q", quality)
	}

	order, err := detectByteOrder(h[20:24])
	if err != nil {
		return record{}, err
	}

	start := btime(order, h[20:30])
	rec := record{
		station:  strings.TrimSpace(string(h[8:13])),
		location: strings.TrimSpace(string(h[13:15])),
		channel:  strings.TrimSpace(string(h[15:18])),
		network:  strings.TrimSpace(string(h[18:20])),
		quality:  string(quality),
		samples:  int(order.Uint16(h[30:32])),
	}
	rec.sampleRate = sampleRate(int16(order.Uint16(h[32:34])), int16(order.Uint16(h[34:36])))

	activity := h[36]
	correction := int32(order.Uint32(h[40:44]))
	if activity&flagTimeCorrected == 0 && correction != 0 {
		start = start.Add(time.Duration(correction) * 100 * time.Microsecond)
	}
	rec.start = start

	rec.length = defaultRecordLength
	blockettes := int(h[39])
	next := int(order.Uint16(h[46:48]))
	for i := 0; i < blockettes && next >= headerSize && next+4 <= len(h); i++ {
		kind := order.Uint16(h[next : next+2])
		if kind == blocketteDataOnly && next+7 <= len(h) {
			exp := int(h[next+6])
			if exp < 7 || exp > 20 {
				return record{}, fmt.Errorf("invalid record length exponent %d", exp)
			}
			rec.length = 1 << exp
			break
		}
		following := int(order.Uint16(h[next+2 : next+4]))
		if following <= next {
			break
		}
		next = following
	}
	return rec, nil
}

// detectByteOrder picks the order in which the BTIME year and day of year are
// plausible.
func detectByteOrder(b []byte) (binary.ByteOrder, error) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		year := order.Uint16(b[0:2])
		day := order.Uint16(b[2:4])
		if year >= 1900 && year <= 2100 && day >= 1 && day <= 366 {
			return order, nil
		}
	}
	return nil, fmt.Errorf("implausible start time")
}

func btime(order binary.ByteOrder, b []byte) time.Time {
	year := int(order.Uint16(b[0:2]))
	day := int(order.Uint16(b[2:4]))
	hour := int(b[4])
	minute := int(b[5])
	second := int(b[6])
	fract := int(order.Uint16(b[8:10]))
	t := time.Date(year, time.January, 1, hour, minute, second, 0, time.UTC)
	return t.AddDate(0, 0, day-1).Add(time.Duration(fract) * 100 * time.Microsecond)
}

// sampleRate applies the SEED factor/multiplier convention.
func sampleRate(factor, multiplier int16) float64 {
	f := float64(factor)
	m := float64(multiplier)
	switch {
	case factor == 0 || multiplier == 0:
		return 0
	case factor > 0 && multiplier > 0:
		return f * m
	case factor > 0 && multiplier < 0:
		return -f / m
	case factor < 0 && multiplier > 0:
		return -m / f
	default:
		return 1 / (f * m)
	}
}

func isPadding(b []byte) bool {
	return len(bytes.Trim(b, "\x00 ")) == 0
}
