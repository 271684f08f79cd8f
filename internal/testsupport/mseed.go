package testsupport

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Record describes one miniSEED 2 record to synthesize.
type Record struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Quality  byte
	Start    time.Time
	// Factor and Multiplier encode the sample rate; a zero Factor derives
	// them from Rate.
	Rate       float64
	Factor     int16
	Multiplier int16
	Samples    uint16
	// LittleEndian writes the header in little endian byte order.
	LittleEndian bool
	// Exponent is the blockette 1000 record length exponent; zero omits the
	// blockette and the reader assumes 4096 bytes.
	Exponent uint8
}

// MiniSEED encodes records into a miniSEED volume with zeroed payloads.
func MiniSEED(records ...Record) []byte {
	var out []byte
	for i, rec := range records {
		out = append(out, encodeRecord(i+1, rec)...)
	}
	return out
}

// WriteMiniSEED writes records to path, creating parents.
func WriteMiniSEED(t testing.TB, path string, records ...Record) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, MiniSEED(records...), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// DayRecord returns a one-record description at rate starting at the
// beginning of the given day of year.
func DayRecord(net, sta, loc, cha string, year, doy int, rate float64) Record {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
	return Record{
		Network:  net,
		Station:  sta,
		Location: loc,
		Channel:  cha,
		Start:    start,
		Rate:     rate,
		Samples:  100,
		Exponent: 9,
	}
}

func encodeRecord(seq int, rec Record) []byte {
	length := 4096
	if rec.Exponent != 0 {
		length = 1 << rec.Exponent
	}
	buf := make([]byte, length)
	var order binary.ByteOrder = binary.BigEndian
	if rec.LittleEndian {
		order = binary.LittleEndian
	}

	copy(buf[0:6], fmt.Sprintf("%06d", seq))
	quality := rec.Quality
	if quality == 0 {
		quality = 'D'
	}
	buf[6] = quality
	buf[7] = ' '
	copy(buf[8:13], pad(rec.Station, 5))
	copy(buf[13:15], pad(rec.Location, 2))
	copy(buf[15:18], pad(rec.Channel, 3))
	copy(buf[18:20], pad(rec.Network, 2))

	start := rec.Start.UTC()
	order.PutUint16(buf[20:22], uint16(start.Year()))
	order.PutUint16(buf[22:24], uint16(start.YearDay()))
	buf[24] = byte(start.Hour())
	buf[25] = byte(start.Minute())
	buf[26] = byte(start.Second())
	order.PutUint16(buf[28:30], uint16(start.Nanosecond()/100000))

	order.PutUint16(buf[30:32], rec.Samples)
	factor, multiplier := rec.Factor, rec.Multiplier
	if factor == 0 {
		factor, multiplier = rateFactors(rec.Rate)
	}
	order.PutUint16(buf[32:34], uint16(factor))
	order.PutUint16(buf[34:36], uint16(multiplier))
	buf[36] = 0x02

	order.PutUint16(buf[44:46], 64)
	if rec.Exponent != 0 {
		buf[39] = 1
		order.PutUint16(buf[46:48], 48)
		order.PutUint16(buf[48:50], 1000)
		order.PutUint16(buf[50:52], 0)
		buf[52] = 11
		if rec.LittleEndian {
			buf[53] = 0
		} else {
			buf[53] = 1
		}
		buf[54] = rec.Exponent
	}
	return buf
}

func rateFactors(rate float64) (int16, int16) {
	switch {
	case rate <= 0:
		return 0, 1
	case rate >= 1:
		return int16(rate), 1
	default:
		return -int16(1 / rate), 1
	}
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + fmt.Sprintf("%*s", n-len(s), "")
}
