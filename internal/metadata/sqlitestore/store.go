// Package sqlitestore keeps metadata records in a local SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"seisarchive/internal/metadata"
	"seisarchive/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const objectColumns = "id, enabled, file_id, dc_identifier, dc_title, dc_subject, dc_creator, dc_contributor, dc_publisher, dc_type, dc_format, dc_date, dc_coverage_x, dc_coverage_y, dc_coverage_z, dc_coverage_t_min, dc_coverage_t_max, dc_rights, dcterms_available, dcterms_date_accepted, dcterms_is_part_of"

const provenanceColumns = "id, enabled, dc_identifier, file_id, dcterms_is_part_of, generated_at, attributed_to, software_application"

const versionColumns = "id, enabled, dc_identifier, dc_has_version, start_date, organization, software_agent, spatial_x, spatial_y, spatial_z, file_name, file_position, primary_source, generated_software, generated_organization, accrual_periodicity"

const streamColumns = "id, file_id, net, sta, loc, cha, quality, start_time, end_time, sample_rate, num_samples, num_records, num_gaps, num_overlaps, availability, created"

// Store implements metadata.Store on SQLite.
type Store struct {
	db *sql.DB
	q  sqlitedb.Querier
}

var (
	_ metadata.Store      = (*Store)(nil)
	_ metadata.Transactor = (*Store)(nil)
)

// Open creates or opens the metadata database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "metadata", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, q: db}, nil
}

// Close closes the database. Stores handed to WithinTx callbacks do not own it.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx runs fn against a store bound to one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(metadata.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metadata tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metadata tx: %w", err)
	}
	return nil
}

// FindObjectByFile returns the most recent record of fileID.
func (s *Store) FindObjectByFile(ctx context.Context, fileID string) (*metadata.DigitalObject, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+objectColumns+" FROM wf_do WHERE file_id = ? ORDER BY id DESC LIMIT 1", fileID)
	return scanObjectRow(row)
}

// FindObjectByIdentifier returns the enabled record of identifier, or the
// most recent one when none is enabled.
func (s *Store) FindObjectByIdentifier(ctx context.Context, identifier string) (*metadata.DigitalObject, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+objectColumns+" FROM wf_do WHERE dc_identifier = ? ORDER BY enabled DESC, id DESC LIMIT 1", identifier)
	return scanObjectRow(row)
}

func (s *Store) ListObjectsByIdentifier(ctx context.Context, identifier string) ([]metadata.DigitalObject, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+objectColumns+" FROM wf_do WHERE dc_identifier = ? ORDER BY id", identifier)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()
	var out []metadata.DigitalObject
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *obj)
	}
	return out, rows.Err()
}

func (s *Store) InsertObject(ctx context.Context, obj *metadata.DigitalObject) error {
	res, err := sqlitedb.Exec(ctx, s.q,
		"INSERT INTO wf_do ("+objectColumns[len("id, "):]+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		boolInt(obj.Enabled), obj.FileID, obj.Identifier, obj.Title, obj.Subject, obj.Creator,
		obj.Contributor, obj.Publisher, obj.Type, obj.Format, formatTime(obj.Date),
		obj.CoverageX, obj.CoverageY, obj.CoverageZ,
		formatTime(obj.CoverageTMin), formatTime(obj.CoverageTMax), obj.Rights,
		formatTime(obj.Available), formatTime(obj.DateAccepted), obj.IsPartOf,
	)
	if err != nil {
		return fmt.Errorf("insert object: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert object id: %w", err)
	}
	obj.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *Store) SetObjectEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateByID(ctx, "UPDATE wf_do SET enabled = ? WHERE id = ?", id, boolInt(enabled))
}

func (s *Store) SetObjectFile(ctx context.Context, id, fileID string) error {
	return s.updateByID(ctx, "UPDATE wf_do SET file_id = ? WHERE id = ?", id, fileID)
}

func (s *Store) SetObjectIdentifier(ctx context.Context, id, identifier string) error {
	return s.updateByID(ctx, "UPDATE wf_do SET dc_identifier = ? WHERE id = ?", id, identifier)
}

func (s *Store) DeleteObject(ctx context.Context, id string) error {
	key, err := parseID(id)
	if err != nil {
		return err
	}
	if _, err := sqlitedb.Exec(ctx, s.q, "DELETE FROM wf_do WHERE id = ?", key); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *Store) FindProvenance(ctx context.Context, identifier string) (*metadata.Provenance, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+provenanceColumns+" FROM do_prov WHERE dc_identifier = ? ORDER BY id LIMIT 1", identifier)
	var (
		id          int64
		enabled     int
		generatedAt sql.NullString
		prov        metadata.Provenance
	)
	err := row.Scan(&id, &enabled, &prov.Identifier, &prov.FileID, &prov.IsPartOf,
		&generatedAt, &prov.AttributedTo, &prov.Usage.SoftwareApplication)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find provenance: %w", err)
	}
	prov.ID = strconv.FormatInt(id, 10)
	prov.Enabled = enabled != 0
	prov.GeneratedAt = parseTime(generatedAt)
	return &prov, nil
}

func (s *Store) InsertProvenance(ctx context.Context, prov *metadata.Provenance) error {
	res, err := sqlitedb.Exec(ctx, s.q,
		"INSERT INTO do_prov ("+provenanceColumns[len("id, "):]+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		boolInt(prov.Enabled), prov.Identifier, prov.FileID, prov.IsPartOf,
		formatTime(prov.GeneratedAt), prov.AttributedTo, prov.Usage.SoftwareApplication,
	)
	if err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert provenance id: %w", err)
	}
	prov.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *Store) SetProvenanceEnabled(ctx context.Context, identifier string, enabled bool) error {
	if _, err := sqlitedb.Exec(ctx, s.q,
		"UPDATE do_prov SET enabled = ? WHERE dc_identifier = ?", boolInt(enabled), identifier); err != nil {
		return fmt.Errorf("update provenance: %w", err)
	}
	return nil
}

func (s *Store) RekeyProvenance(ctx context.Context, fileID, from, to string) error {
	if _, err := sqlitedb.Exec(ctx, s.q,
		"UPDATE do_prov SET dc_identifier = ? WHERE dc_identifier = ? AND file_id = ?", to, from, fileID); err != nil {
		return fmt.Errorf("rekey provenance: %w", err)
	}
	return nil
}

func (s *Store) ListVersions(ctx context.Context, identifier string) ([]metadata.Version, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM do_vers WHERE dc_identifier = ? ORDER BY id", identifier)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	var out []metadata.Version
	for rows.Next() {
		var (
			id        int64
			enabled   int
			startDate sql.NullString
			v         metadata.Version
		)
		if err := rows.Scan(&id, &enabled, &v.Identifier, &v.Number, &startDate,
			&v.Organization, &v.SoftwareAgent, &v.Spatial.X, &v.Spatial.Y, &v.Spatial.Z,
			&v.File.Name, &v.File.Position, &v.GeneratedBy.PrimarySource,
			&v.GeneratedBy.Software, &v.GeneratedBy.Organization, &v.GeneratedBy.Periodicity,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.ID = strconv.FormatInt(id, 10)
		v.Enabled = enabled != 0
		v.StartDate = parseTime(startDate)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) InsertVersion(ctx context.Context, ver *metadata.Version) error {
	res, err := sqlitedb.Exec(ctx, s.q,
		"INSERT INTO do_vers ("+versionColumns[len("id, "):]+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		boolInt(ver.Enabled), ver.Identifier, ver.Number, formatTime(ver.StartDate),
		ver.Organization, ver.SoftwareAgent, ver.Spatial.X, ver.Spatial.Y, ver.Spatial.Z,
		ver.File.Name, ver.File.Position, ver.GeneratedBy.PrimarySource,
		ver.GeneratedBy.Software, ver.GeneratedBy.Organization, ver.GeneratedBy.Periodicity,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert version id: %w", err)
	}
	ver.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *Store) SupersedeVersion(ctx context.Context, id, name, position string) error {
	key, err := parseID(id)
	if err != nil {
		return err
	}
	if _, err := sqlitedb.Exec(ctx, s.q,
		"UPDATE do_vers SET file_name = ?, file_position = ? WHERE id = ?", name, position, key); err != nil {
		return fmt.Errorf("supersede version: %w", err)
	}
	return nil
}

func (s *Store) SetVersionsEnabled(ctx context.Context, identifier string, enabled bool) error {
	if _, err := sqlitedb.Exec(ctx, s.q,
		"UPDATE do_vers SET enabled = ? WHERE dc_identifier = ?", boolInt(enabled), identifier); err != nil {
		return fmt.Errorf("update versions: %w", err)
	}
	return nil
}

func (s *Store) RekeyVersions(ctx context.Context, fileID, from, to string) error {
	if _, err := sqlitedb.Exec(ctx, s.q,
		"UPDATE do_vers SET dc_identifier = ? WHERE dc_identifier = ? AND file_name = ?", to, from, fileID); err != nil {
		return fmt.Errorf("rekey versions: %w", err)
	}
	return nil
}

func (s *Store) FindNetwork(ctx context.Context, code string) (*metadata.Network, error) {
	var network metadata.Network
	err := s.q.QueryRowContext(ctx,
		"SELECT net, description FROM net_info WHERE net = ?", code).Scan(&network.Code, &network.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find network: %w", err)
	}
	return &network, nil
}

func (s *Store) UpsertNetwork(ctx context.Context, network metadata.Network) error {
	if _, err := sqlitedb.Exec(ctx, s.q,
		`INSERT INTO net_info (net, description) VALUES (?, ?)
		 ON CONFLICT(net) DO UPDATE SET description = excluded.description`,
		network.Code, network.Description); err != nil {
		return fmt.Errorf("upsert network: %w", err)
	}
	return nil
}

// ReplaceStreams drops the catalog rows of fileID and inserts streams.
func (s *Store) ReplaceStreams(ctx context.Context, fileID string, streams []metadata.DailyStream) error {
	return s.WithinTx(ctx, func(tx metadata.Store) error {
		inner := tx.(*Store)
		if _, err := sqlitedb.Exec(ctx, inner.q, "DELETE FROM daily_streams WHERE file_id = ?", fileID); err != nil {
			return fmt.Errorf("clear streams: %w", err)
		}
		for _, st := range streams {
			if _, err := sqlitedb.Exec(ctx, inner.q,
				"INSERT INTO daily_streams ("+streamColumns[len("id, "):]+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				fileID, st.Network, st.Station, st.Location, st.Channel, st.Quality,
				formatTime(st.StartTime), formatTime(st.EndTime), st.SampleRate,
				st.NumSamples, st.NumRecords, st.NumGaps, st.NumOverlaps, st.Availability,
				formatTime(st.Created),
			); err != nil {
				return fmt.Errorf("insert stream: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListStreams(ctx context.Context, fileID string) ([]metadata.DailyStream, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+streamColumns+" FROM daily_streams WHERE file_id = ? ORDER BY id", fileID)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()
	var out []metadata.DailyStream
	for rows.Next() {
		var (
			id                    int64
			start, end, createdAt sql.NullString
			st                    metadata.DailyStream
		)
		if err := rows.Scan(&id, &st.FileID, &st.Network, &st.Station, &st.Location, &st.Channel,
			&st.Quality, &start, &end, &st.SampleRate, &st.NumSamples, &st.NumRecords,
			&st.NumGaps, &st.NumOverlaps, &st.Availability, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		st.ID = strconv.FormatInt(id, 10)
		st.StartTime = parseTime(start)
		st.EndTime = parseTime(end)
		st.Created = parseTime(createdAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) DeleteStreams(ctx context.Context, fileID string) (int, error) {
	res, err := sqlitedb.Exec(ctx, s.q, "DELETE FROM daily_streams WHERE file_id = ?", fileID)
	if err != nil {
		return 0, fmt.Errorf("delete streams: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete streams count: %w", err)
	}
	return int(n), nil
}

func (s *Store) updateByID(ctx context.Context, query, id string, value any) error {
	key, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := sqlitedb.Exec(ctx, s.q, query, value, key)
	if err != nil {
		return fmt.Errorf("update object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update object %s: no such record", id)
	}
	return nil
}

func scanObjectRow(row *sql.Row) (*metadata.DigitalObject, error) {
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return obj, err
}

func scanObject(scanner interface{ Scan(dest ...any) error }) (*metadata.DigitalObject, error) {
	var (
		id                                   int64
		enabled                              int
		date, tmin, tmax, available, accepted sql.NullString
		obj                                  metadata.DigitalObject
	)
	if err := scanner.Scan(&id, &enabled, &obj.FileID, &obj.Identifier, &obj.Title, &obj.Subject,
		&obj.Creator, &obj.Contributor, &obj.Publisher, &obj.Type, &obj.Format, &date,
		&obj.CoverageX, &obj.CoverageY, &obj.CoverageZ, &tmin, &tmax, &obj.Rights,
		&available, &accepted, &obj.IsPartOf,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan object: %w", err)
	}
	obj.ID = strconv.FormatInt(id, 10)
	obj.Enabled = enabled != 0
	obj.Date = parseTime(date)
	obj.CoverageTMin = parseTime(tmin)
	obj.CoverageTMax = parseTime(tmax)
	obj.Available = parseTime(available)
	obj.DateAccepted = parseTime(accepted)
	return &obj, nil
}

func parseID(id string) (int64, error) {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", id, err)
	}
	return key, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
