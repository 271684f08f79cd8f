package station

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"seisarchive/internal/services"
)

const channelBody = `#Network | Station | Location | Channel | Latitude | Longitude | Elevation | Depth | Azimuth | Dip | SensorDescription | Scale | ScaleFreq | ScaleUnits | SampleRate | StartTime | EndTime
IV|ACER||EHZ|40.7867|15.9427|690.0|0.0|0.0|-90.0|Lennartz LE-3D|4.0E8|1.0|M/S|100.0|2007-05-01T00:00:00|2019-03-14T10:00:00
IV|ACER||EHZ|40.7867|15.9427|690.0|0.0|0.0|-90.0|Lennartz LE-3D|4.0E8|1.0|M/S|100.0|2019-03-14T10:00:00|
`

const stationBody = `#Network | Station | Latitude | Longitude | Elevation | SiteName | StartTime | EndTime
IV|ACER|40.7867|15.9427|690.0|ACERENZA|2007-05-01T00:00:00|
`

func TestChannelEpochs(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(channelBody))
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second, WithRateLimit(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	epochs, err := client.ChannelEpochs(context.Background(), "IV", "ACER")
	if err != nil {
		t.Fatalf("ChannelEpochs: %v", err)
	}
	for _, want := range []string{"level=channel", "net=IV", "station=ACER", "format=text"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query %q missing %q", query, want)
		}
	}
	want := []Epoch{
		{
			Network: "IV", Station: "ACER", Channel: "EHZ",
			Latitude: 40.7867, Longitude: 15.9427, Elevation: 690,
			Start: time.Date(2007, 5, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2019, 3, 14, 10, 0, 0, 0, time.UTC),
		},
		{
			Network: "IV", Station: "ACER", Channel: "EHZ",
			Latitude: 40.7867, Longitude: 15.9427, Elevation: 690,
			Start: time.Date(2019, 3, 14, 10, 0, 0, 0, time.UTC),
			End:   OpenEnd,
		},
	}
	if diff := cmp.Diff(want, epochs); diff != "" {
		t.Fatalf("epochs mismatch (-want +got):\n%s", diff)
	}
	if epochs[0].ID() != "IV.ACER..EHZ" {
		t.Fatalf("id = %q", epochs[0].ID())
	}
}

func TestStationEpochs(t *testing.T) {
	epochs, err := ParseText(strings.NewReader(stationBody), LevelStation)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(epochs) != 1 {
		t.Fatalf("expected 1 epoch, got %d", len(epochs))
	}
	got := epochs[0]
	if got.ID() != "IV.ACER" || got.Latitude != 40.7867 || got.Elevation != 690 || !got.End.Equal(OpenEnd) {
		t.Fatalf("unexpected epoch %+v", got)
	}
}

func TestNoContentMeansNoEpochs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	epochs, err := client.ChannelEpochs(context.Background(), "XX", "NONE")
	if err != nil || len(epochs) != 0 {
		t.Fatalf("expected no epochs, got %v, %v", epochs, err)
	}
}

func TestServerErrorIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.StationEpochs(context.Background(), "IV", "ACER"); !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestInRange(t *testing.T) {
	day := func(m, d int) time.Time { return time.Date(2024, time.Month(m), d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		name             string
		start, end, when time.Time
		want             bool
	}{
		{"inside", day(1, 1), day(12, 31), day(6, 1), true},
		{"start inclusive", day(1, 1), day(12, 31), day(1, 1), true},
		{"end inclusive", day(1, 1), day(12, 31), day(12, 31), true},
		{"before", day(2, 1), day(12, 31), day(1, 1), false},
		{"wrapped after start", day(11, 1), day(2, 1), day(12, 1), true},
		{"wrapped before end", day(11, 1), day(2, 1), day(1, 15), true},
		{"wrapped gap", day(11, 1), day(2, 1), day(6, 1), false},
	}
	for _, tc := range tests {
		if got := InRange(tc.start, tc.end, tc.when); got != tc.want {
			t.Fatalf("%s: InRange = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEpochContainsUsesDates(t *testing.T) {
	epoch := Epoch{
		Start: time.Date(2019, 3, 14, 10, 0, 0, 0, time.UTC),
		End:   OpenEnd,
	}
	if !epoch.Contains(time.Date(2019, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected day of epoch start to be contained")
	}
	if epoch.Contains(time.Date(2019, 3, 13, 23, 0, 0, 0, time.UTC)) {
		t.Fatal("expected prior day to be outside")
	}
}

func TestParseTextRejectsShortRows(t *testing.T) {
	if _, err := ParseText(strings.NewReader("IV|ACER|x\n"), LevelChannel); err == nil {
		t.Fatal("expected error for short row")
	}
}
