// Package metadata keeps the Dublin Core, provenance and version records of
// archived files consistent: at most one enabled record per identifier,
// version numbers that grow by one, and superseded heads that are rewritten
// instead of deleted.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"seisarchive/internal/logging"
	"seisarchive/internal/services"
)

// ErrObjectExists reports a file that already carries a minted record.
var ErrObjectExists = errors.New("metadata record already exists")

// FirstVersion is the number of the first link of every chain.
const FirstVersion = "0"

// Outcome classifies what CheckinObject did.
type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeEnabled        Outcome = "enabled"
	OutcomeAlreadyEnabled Outcome = "already-enabled"
)

// Checkin is the result of CheckinObject.
type Checkin struct {
	Outcome Outcome
	Object  DigitalObject
}

// Manager enforces the record lifecycle on top of a Store.
type Manager struct {
	store       Store
	placeholder string
	resolver    string
	logger      *slog.Logger
}

// NewManager wraps store. placeholder is the identifier carried by records
// before minting; resolver prefixes version positions.
func NewManager(store Store, placeholder, resolver string, logger *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		placeholder: placeholder,
		resolver:    resolver,
		logger:      logging.NewComponentLogger(logger, "metadata"),
	}
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Placeholder returns the pre-minting identifier.
func (m *Manager) Placeholder() string { return m.placeholder }

// PreviousObject looks up the record of a file, by identifier when one is
// known and by file name otherwise.
func (m *Manager) PreviousObject(ctx context.Context, identifier, fileID string) (*DigitalObject, error) {
	if identifier != "" && identifier != m.placeholder {
		return m.store.FindObjectByIdentifier(ctx, identifier)
	}
	return m.store.FindObjectByFile(ctx, fileID)
}

// CheckinObject re-enables the existing record of a file or creates one with
// build. A file whose record already carries a minted identifier that does
// not match fails with ErrObjectExists.
func (m *Manager) CheckinObject(ctx context.Context, identifier, fileID string, build func(context.Context) (DigitalObject, error)) (Checkin, error) {
	prev, err := m.PreviousObject(ctx, identifier, fileID)
	if err != nil {
		return Checkin{}, err
	}
	if prev == nil {
		existing, err := m.store.FindObjectByFile(ctx, fileID)
		if err != nil {
			return Checkin{}, err
		}
		if existing != nil {
			if existing.Identifier != m.placeholder {
				return Checkin{}, fmt.Errorf("%w: %s is registered as %s", ErrObjectExists, fileID, existing.Identifier)
			}
			prev = existing
		}
	}

	if prev != nil {
		if prev.Enabled {
			return Checkin{Outcome: OutcomeAlreadyEnabled, Object: *prev}, nil
		}
		if err := m.ensureNoEnabled(ctx, prev.Identifier, prev.ID); err != nil {
			return Checkin{}, err
		}
		if err := m.store.SetObjectFile(ctx, prev.ID, fileID); err != nil {
			return Checkin{}, err
		}
		if err := m.store.SetObjectEnabled(ctx, prev.ID, true); err != nil {
			return Checkin{}, err
		}
		prev.FileID = fileID
		prev.Enabled = true
		m.logger.Info("metadata record re-enabled",
			logging.String(logging.FieldFile, fileID),
			logging.String(logging.FieldIdentifier, prev.Identifier),
		)
		return Checkin{Outcome: OutcomeEnabled, Object: *prev}, nil
	}

	obj, err := build(ctx)
	if err != nil {
		return Checkin{}, err
	}
	obj.FileID = fileID
	obj.Enabled = true
	if obj.Identifier == "" {
		obj.Identifier = m.placeholder
	}
	if err := m.ensureNoEnabled(ctx, obj.Identifier, ""); err != nil {
		return Checkin{}, err
	}
	if err := m.store.InsertObject(ctx, &obj); err != nil {
		return Checkin{}, err
	}
	m.logger.Info("metadata record created",
		logging.String(logging.FieldFile, fileID),
		logging.String(logging.FieldIdentifier, obj.Identifier),
	)
	return Checkin{Outcome: OutcomeCreated, Object: obj}, nil
}

// ensureNoEnabled fails when a record other than exceptID is enabled under
// a minted identifier.
func (m *Manager) ensureNoEnabled(ctx context.Context, identifier, exceptID string) error {
	if identifier == "" || identifier == m.placeholder {
		return nil
	}
	objs, err := m.store.ListObjectsByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if obj.Enabled && obj.ID != exceptID {
			return fmt.Errorf("%w: identifier %s already has enabled record %s", services.ErrInvariant, identifier, obj.ID)
		}
	}
	return nil
}

// AssignIdentifier replaces the placeholder of record objectID with
// identifier and moves placeholder-keyed provenance and versions of the same
// file along with it.
func (m *Manager) AssignIdentifier(ctx context.Context, objectID, fileID, identifier string) error {
	if identifier == "" || identifier == m.placeholder {
		return fmt.Errorf("%w: cannot assign placeholder identifier", services.ErrInvariant)
	}
	existing, err := m.store.ListObjectsByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: identifier %s already assigned", services.ErrInvariant, identifier)
	}
	return m.withinTx(ctx, func(store Store) error {
		if err := store.SetObjectIdentifier(ctx, objectID, identifier); err != nil {
			return err
		}
		if err := store.RekeyProvenance(ctx, fileID, m.placeholder, identifier); err != nil {
			return err
		}
		return store.RekeyVersions(ctx, fileID, m.placeholder, identifier)
	})
}

// RecordFirstVersion stores provenance and version FirstVersion when the
// identifier has no provenance yet. It reports whether anything was written.
func (m *Manager) RecordFirstVersion(ctx context.Context, prov Provenance, ver Version) (bool, error) {
	existing, err := m.store.FindProvenance(ctx, prov.Identifier)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	prov.Enabled = true
	ver.Enabled = true
	ver.Identifier = prov.Identifier
	ver.Number = FirstVersion
	err = m.withinTx(ctx, func(store Store) error {
		if err := store.InsertProvenance(ctx, &prov); err != nil {
			return err
		}
		return store.InsertVersion(ctx, &ver)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppendVersion adds next after the current head of identifier, rewrites the
// head to its superseded name and position, and re-enables provenance and
// every version. It returns the superseded head.
func (m *Manager) AppendVersion(ctx context.Context, identifier string, next Version) (Version, error) {
	var head Version
	err := m.withinTx(ctx, func(store Store) error {
		versions, err := store.ListVersions(ctx, identifier)
		if err != nil {
			return err
		}
		current, err := HeadVersion(versions)
		if err != nil {
			return err
		}
		number, err := NextVersion(current.Number)
		if err != nil {
			return err
		}
		head = current

		next.Identifier = identifier
		next.Number = number
		next.Enabled = true
		if err := store.InsertVersion(ctx, &next); err != nil {
			return err
		}
		name := current.File.Name + "-" + current.Number
		position := m.resolver + identifier + "#version=" + current.Number
		if err := store.SupersedeVersion(ctx, current.ID, name, position); err != nil {
			return err
		}
		if err := store.SetProvenanceEnabled(ctx, identifier, true); err != nil {
			return err
		}
		return store.SetVersionsEnabled(ctx, identifier, true)
	})
	if err != nil {
		return Version{}, err
	}
	m.logger.Info("version appended",
		logging.String(logging.FieldIdentifier, identifier),
		logging.String("superseded", head.Number),
		logging.String("file", head.File.Name),
	)
	return head, nil
}

// WithdrawObject disables the record of fileID, or removes it when remove
// is set. A missing record returns ErrNotFound.
func (m *Manager) WithdrawObject(ctx context.Context, fileID string, remove bool) (DigitalObject, error) {
	obj, err := m.store.FindObjectByFile(ctx, fileID)
	if err != nil {
		return DigitalObject{}, err
	}
	if obj == nil {
		return DigitalObject{}, fmt.Errorf("%w: no metadata record for %s", services.ErrNotFound, fileID)
	}
	if remove {
		err = m.store.DeleteObject(ctx, obj.ID)
	} else {
		err = m.store.SetObjectEnabled(ctx, obj.ID, false)
		obj.Enabled = false
	}
	if err != nil {
		return DigitalObject{}, err
	}
	return *obj, nil
}

// WithdrawProvenance disables the provenance and every version of identifier.
func (m *Manager) WithdrawProvenance(ctx context.Context, identifier string) error {
	return m.withinTx(ctx, func(store Store) error {
		if err := store.SetProvenanceEnabled(ctx, identifier, false); err != nil {
			return err
		}
		return store.SetVersionsEnabled(ctx, identifier, false)
	})
}

// Verify checks that identifier has at most one enabled record and a single
// highest version.
func (m *Manager) Verify(ctx context.Context, identifier string) error {
	objs, err := m.store.ListObjectsByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	enabled := 0
	for _, obj := range objs {
		if obj.Enabled {
			enabled++
		}
	}
	if enabled > 1 {
		return fmt.Errorf("%w: identifier %s has %d enabled records", services.ErrInvariant, identifier, enabled)
	}
	versions, err := m.store.ListVersions(ctx, identifier)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return nil
	}
	_, err = HeadVersion(versions)
	return err
}

// Versions returns the chain of identifier in ascending numeric order.
func (m *Manager) Versions(ctx context.Context, identifier string) ([]Version, error) {
	versions, err := m.store.ListVersions(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := SortVersions(versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (m *Manager) withinTx(ctx context.Context, fn func(Store) error) error {
	if tx, ok := m.store.(Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(m.store)
}

// ParseVersion parses a decimal version string.
func ParseVersion(number string) (*big.Int, error) {
	trimmed := strings.TrimSpace(number)
	n, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: malformed version number %q", services.ErrInvariant, number)
	}
	return n, nil
}

// CompareVersions compares two decimal version strings numerically.
func CompareVersions(a, b string) (int, error) {
	x, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	y, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// NextVersion returns number + 1.
func NextVersion(number string) (string, error) {
	n, err := ParseVersion(number)
	if err != nil {
		return "", err
	}
	return n.Add(n, big.NewInt(1)).String(), nil
}

// HeadVersion returns the version with the highest number. An empty chain
// or a tie at the top is an invariant violation.
func HeadVersion(versions []Version) (Version, error) {
	if len(versions) == 0 {
		return Version{}, fmt.Errorf("%w: empty version chain", services.ErrInvariant)
	}
	sorted := append([]Version(nil), versions...)
	if err := SortVersions(sorted); err != nil {
		return Version{}, err
	}
	head := sorted[len(sorted)-1]
	if len(sorted) > 1 {
		cmp, err := CompareVersions(sorted[len(sorted)-2].Number, head.Number)
		if err != nil {
			return Version{}, err
		}
		if cmp == 0 {
			return Version{}, fmt.Errorf("%w: identifier %s has two versions numbered %s", services.ErrInvariant, head.Identifier, head.Number)
		}
	}
	return head, nil
}

// SortVersions orders versions by ascending numeric number.
func SortVersions(versions []Version) error {
	for _, v := range versions {
		if _, err := ParseVersion(v.Number); err != nil {
			return err
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		cmp, _ := CompareVersions(versions[i].Number, versions[j].Number)
		return cmp < 0
	})
	return nil
}
