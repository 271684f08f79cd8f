package session

import (
	"encoding/json"
	"time"
)

// Snapshot is the diagnostic view of a session persisted by the journal.
type Snapshot struct {
	Source      string       `json:"source"`
	Location    string       `json:"location"`
	Exit        string       `json:"exit"`
	Identifier  string       `json:"identifier,omitempty"`
	WorkingCopy *WorkingCopy `json:"working_copy,omitempty"`
	Coverage    *Coverage    `json:"coverage,omitempty"`
	Start       *time.Time   `json:"start,omitempty"`
	End         *time.Time   `json:"end,omitempty"`
	Version     *Version     `json:"version,omitempty"`
	Rejection   *Rejection   `json:"rejection,omitempty"`
	Network     *Network     `json:"network,omitempty"`
}

// Snapshot captures the current field values.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Source:      s.source,
		Location:    s.location,
		Exit:        s.exit.String(),
		Identifier:  s.identifier,
		WorkingCopy: s.workingCopy,
		Coverage:    s.coverage,
		Version:     s.version,
		Rejection:   s.rejection,
		Network:     s.network,
	}
	if s.timeRange != nil {
		start, end := s.timeRange.Start.UTC(), s.timeRange.End.UTC()
		snap.Start = &start
		snap.End = &end
	}
	return snap
}

// JSON renders the snapshot for storage.
func (s *Session) JSON() (string, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
