package testsupport

import (
	"context"
	"path"
	"path/filepath"
	"sync"
	"time"

	"seisarchive/internal/services/station"
)

// StationStub answers station lookups from fixed epoch lists.
type StationStub struct {
	Channels []station.Epoch
	Stations []station.Epoch
	Err      error
}

var _ station.Lookup = (*StationStub)(nil)

// ChannelEpochs returns the configured channel epochs of network.station.
func (s *StationStub) ChannelEpochs(_ context.Context, network, sta string) ([]station.Epoch, error) {
	return filterEpochs(s.Channels, network, sta), s.Err
}

// StationEpochs returns the configured station epochs of network.station.
func (s *StationStub) StationEpochs(_ context.Context, network, sta string) ([]station.Epoch, error) {
	return filterEpochs(s.Stations, network, sta), s.Err
}

func filterEpochs(epochs []station.Epoch, network, sta string) []station.Epoch {
	var out []station.Epoch
	for _, e := range epochs {
		if e.Network == network && e.Station == sta {
			out = append(out, e)
		}
	}
	return out
}

// OpenEpochs returns one open channel epoch and one station epoch for the
// given stream starting in 2000.
func OpenEpochs(net, sta, loc, cha string) *StationStub {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &StationStub{
		Channels: []station.Epoch{{
			Network: net, Station: sta, Location: loc, Channel: cha,
			Latitude: 40.7873, Longitude: 15.9427, Elevation: 690,
			Start: start, End: station.OpenEnd,
		}},
		Stations: []station.Epoch{{
			Network: net, Station: sta,
			Latitude: 40.7873, Longitude: 15.9427, Elevation: 690,
			Start: start, End: station.OpenEnd,
		}},
	}
}

// RegistryCall records one identifier registry request.
type RegistryCall struct {
	Op       string
	Handle   string
	Location string
}

// RegistryStub records Mint and Modify calls.
type RegistryStub struct {
	mu    sync.Mutex
	Calls []RegistryCall
	Err   error
}

// Mint records the request and echoes the handle.
func (r *RegistryStub) Mint(_ context.Context, handle, location string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, RegistryCall{Op: "mint", Handle: handle, Location: location})
	if r.Err != nil {
		return "", r.Err
	}
	return handle, nil
}

// Modify records the request.
func (r *RegistryStub) Modify(_ context.Context, handle, location string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, RegistryCall{Op: "modify", Handle: handle, Location: location})
	return r.Err
}

// UploaderStub records uploads without touching a filesystem.
type UploaderStub struct {
	mu        sync.Mutex
	Connected bool
	Uploaded  []string
	Closed    int
	Err       error
}

// Connect marks the session open.
func (u *UploaderStub) Connect(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	u.Connected = true
	return nil
}

// Upload records the remote path of localPath.
func (u *UploaderStub) Upload(_ context.Context, localPath, remoteDir string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	remote := path.Join(remoteDir, filepath.Base(localPath))
	u.Uploaded = append(u.Uploaded, remote)
	return remote, nil
}

// Close marks the session closed.
func (u *UploaderStub) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Connected = false
	u.Closed++
	return nil
}
