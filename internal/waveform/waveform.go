// Package waveform reads the trace statistics of miniSEED 2 files: stream
// identifiers, time spans, sample rates and record counts. Sample payloads are
// never decoded.
package waveform

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrUnreadable reports an empty or corrupt waveform file.
	ErrUnreadable = errors.New("unreadable waveform")
	// ErrBroken reports a readable file that holds no usable traces.
	ErrBroken = errors.New("broken waveform")
)

// Trace is a contiguous run of records from one channel.
type Trace struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	Quality    string
	Start      time.Time
	End        time.Time
	SampleRate float64
	Samples    int
	Records    int
}

// ID renders NET.STA.LOC.CHA.
func (t Trace) ID() string {
	return t.Network + "." + t.Station + "." + t.Location + "." + t.Channel
}

// Stream is the parsed content of one file.
type Stream struct {
	Traces   []Trace
	Records  int
	Gaps     int
	Overlaps int
}

// Start returns the earliest trace start.
func (s *Stream) Start() time.Time {
	var start time.Time
	for i, tr := range s.Traces {
		if i == 0 || tr.Start.Before(start) {
			start = tr.Start
		}
	}
	return start
}

// End returns the latest trace end.
func (s *Stream) End() time.Time {
	var end time.Time
	for i, tr := range s.Traces {
		if i == 0 || tr.End.After(end) {
			end = tr.End
		}
	}
	return end
}

// Parser turns a waveform file into trace statistics.
type Parser interface {
	Parse(path string) (*Stream, error)
}

// mergeRecords groups records by stream id and merges runs whose start time
// follows the previous end within half a sample.
func mergeRecords(records []record) *Stream {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].id() != records[j].id() {
			return records[i].id() < records[j].id()
		}
		return records[i].start.Before(records[j].start)
	})

	stream := &Stream{Records: len(records)}
	for _, rec := range records {
		n := len(stream.Traces)
		if n > 0 {
			last := &stream.Traces[n-1]
			if last.ID() == rec.id() && last.SampleRate == rec.sampleRate && rec.sampleRate > 0 {
				period := 1 / rec.sampleRate
				expected := last.End.Add(seconds(period))
				delta := rec.start.Sub(expected).Seconds()
				if math.Abs(delta) <= period/2 {
					last.End = rec.end()
					last.Samples += rec.samples
					last.Records++
					continue
				}
				if delta > 0 {
					stream.Gaps++
				} else {
					stream.Overlaps++
				}
			}
		}
		stream.Traces = append(stream.Traces, Trace{
			Network:    rec.network,
			Station:    rec.station,
			Location:   rec.location,
			Channel:    rec.channel,
			Quality:    rec.quality,
			Start:      rec.start,
			End:        rec.end(),
			SampleRate: rec.sampleRate,
			Samples:    rec.samples,
			Records:    1,
		})
	}
	return stream
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func (r record) id() string {
	return r.network + "." + r.station + "." + r.location + "." + r.channel
}

func (r record) end() time.Time {
	if r.sampleRate <= 0 || r.samples <= 1 {
		return r.start
	}
	return r.start.Add(seconds(float64(r.samples-1) / r.sampleRate))
}

func (r record) String() string {
	return fmt.Sprintf("%s %s %d@%g", r.id(), r.start.Format(time.RFC3339Nano), r.samples, r.sampleRate)
}
