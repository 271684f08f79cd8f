// Package mongostore keeps metadata records in the MongoDB collections the
// EIDA repository tooling reads: wf_do, do_prov, do_vers, net_info and
// daily_streams.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"seisarchive/internal/metadata"
	"seisarchive/internal/services"
)

const (
	collObjects    = "wf_do"
	collProvenance = "do_prov"
	collVersions   = "do_vers"
	collNetworks   = "net_info"
	collStreams    = "daily_streams"
)

// Store implements metadata.Store on MongoDB. Every call is bounded by the
// configured timeout.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

var _ metadata.Store = (*Store)(nil)

// Open connects to uri and verifies the server with a ping.
func Open(ctx context.Context, uri, database string, timeout time.Duration) (*Store, error) {
	if uri == "" {
		return nil, services.Wrap(services.ErrConfiguration, "metadata", "open", "mongo uri is empty", nil)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(uri).
		SetRegistry(Registry()).
		SetTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "metadata", "connect", uri, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, services.Wrap(services.ErrExternalService, "metadata", "ping", uri, err)
	}
	return &Store{client: client, db: client.Database(database), timeout: timeout}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) FindObjectByFile(ctx context.Context, fileID string) (*metadata.DigitalObject, error) {
	var obj metadata.DigitalObject
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	found, err := s.findOne(ctx, collObjects, bson.M{"fileId": fileID}, &obj, opts)
	if err != nil || !found {
		return nil, err
	}
	return &obj, nil
}

// FindObjectByIdentifier prefers the enabled record, then the newest. The
// choice is made client side because legacy flags mix types and the server
// orders strings above numbers.
func (s *Store) FindObjectByIdentifier(ctx context.Context, identifier string) (*metadata.DigitalObject, error) {
	objs, err := s.ListObjectsByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return preferredObject(objs), nil
}

// preferredObject picks from records listed in ascending _id order.
func preferredObject(objs []metadata.DigitalObject) *metadata.DigitalObject {
	var pick *metadata.DigitalObject
	for i := range objs {
		if pick == nil || objs[i].Enabled || !pick.Enabled {
			pick = &objs[i]
		}
	}
	return pick
}

func (s *Store) ListObjectsByIdentifier(ctx context.Context, identifier string) ([]metadata.DigitalObject, error) {
	var out []metadata.DigitalObject
	err := s.findAll(ctx, collObjects, bson.M{"dc_identifier": identifier}, &out)
	return out, err
}

func (s *Store) InsertObject(ctx context.Context, obj *metadata.DigitalObject) error {
	id, err := s.insert(ctx, collObjects, obj)
	if err != nil {
		return err
	}
	obj.ID = id
	return nil
}

func (s *Store) SetObjectEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateByID(ctx, collObjects, id, bson.M{"enabled": enabled})
}

func (s *Store) SetObjectFile(ctx context.Context, id, fileID string) error {
	return s.updateByID(ctx, collObjects, id, bson.M{"fileId": fileID})
}

func (s *Store) SetObjectIdentifier(ctx context.Context, id, identifier string) error {
	return s.updateByID(ctx, collObjects, id, bson.M{"dc_identifier": identifier})
}

func (s *Store) DeleteObject(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := s.db.Collection(collObjects).DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return s.wrap("delete object", err)
	}
	return nil
}

func (s *Store) FindProvenance(ctx context.Context, identifier string) (*metadata.Provenance, error) {
	var prov metadata.Provenance
	found, err := s.findOne(ctx, collProvenance, bson.M{"dc_identifier": identifier}, &prov, options.FindOne())
	if err != nil || !found {
		return nil, err
	}
	return &prov, nil
}

func (s *Store) InsertProvenance(ctx context.Context, prov *metadata.Provenance) error {
	id, err := s.insert(ctx, collProvenance, prov)
	if err != nil {
		return err
	}
	prov.ID = id
	return nil
}

func (s *Store) SetProvenanceEnabled(ctx context.Context, identifier string, enabled bool) error {
	return s.updateMany(ctx, collProvenance, bson.M{"dc_identifier": identifier}, bson.M{"enabled": enabled})
}

func (s *Store) RekeyProvenance(ctx context.Context, fileID, from, to string) error {
	return s.updateMany(ctx, collProvenance,
		bson.M{"dc_identifier": from, "fileId": fileID}, bson.M{"dc_identifier": to})
}

func (s *Store) ListVersions(ctx context.Context, identifier string) ([]metadata.Version, error) {
	var out []metadata.Version
	err := s.findAll(ctx, collVersions, bson.M{"dc_identifier": identifier}, &out)
	return out, err
}

func (s *Store) InsertVersion(ctx context.Context, ver *metadata.Version) error {
	id, err := s.insert(ctx, collVersions, ver)
	if err != nil {
		return err
	}
	ver.ID = id
	return nil
}

func (s *Store) SupersedeVersion(ctx context.Context, id, name, position string) error {
	return s.updateByID(ctx, collVersions, id, bson.M{
		"schema_file.name":     name,
		"schema_file.position": position,
	})
}

func (s *Store) SetVersionsEnabled(ctx context.Context, identifier string, enabled bool) error {
	return s.updateMany(ctx, collVersions, bson.M{"dc_identifier": identifier}, bson.M{"enabled": enabled})
}

func (s *Store) RekeyVersions(ctx context.Context, fileID, from, to string) error {
	return s.updateMany(ctx, collVersions,
		bson.M{"dc_identifier": from, "schema_file.name": fileID}, bson.M{"dc_identifier": to})
}

func (s *Store) FindNetwork(ctx context.Context, code string) (*metadata.Network, error) {
	var network metadata.Network
	found, err := s.findOne(ctx, collNetworks, bson.M{"net": code}, &network, options.FindOne())
	if err != nil || !found {
		return nil, err
	}
	return &network, nil
}

func (s *Store) UpsertNetwork(ctx context.Context, network metadata.Network) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	_, err := s.db.Collection(collNetworks).UpdateOne(ctx,
		bson.M{"net": network.Code},
		bson.M{"$set": bson.M{"description": network.Description}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return s.wrap("upsert network", err)
	}
	return nil
}

func (s *Store) ReplaceStreams(ctx context.Context, fileID string, streams []metadata.DailyStream) error {
	if _, err := s.DeleteStreams(ctx, fileID); err != nil {
		return err
	}
	if len(streams) == 0 {
		return nil
	}
	docs := make([]any, 0, len(streams))
	for _, st := range streams {
		st.ID = ""
		st.FileID = fileID
		docs = append(docs, st)
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := s.db.Collection(collStreams).InsertMany(ctx, docs); err != nil {
		return s.wrap("insert streams", err)
	}
	return nil
}

func (s *Store) ListStreams(ctx context.Context, fileID string) ([]metadata.DailyStream, error) {
	var out []metadata.DailyStream
	err := s.findAll(ctx, collStreams, bson.M{"fileId": fileID}, &out)
	return out, err
}

func (s *Store) DeleteStreams(ctx context.Context, fileID string) (int, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	res, err := s.db.Collection(collStreams).DeleteMany(ctx, bson.M{"fileId": fileID})
	if err != nil {
		return 0, s.wrap("delete streams", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) findOne(ctx context.Context, coll string, filter bson.M, out any, opts *options.FindOneOptions) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	err := s.db.Collection(coll).FindOne(ctx, filter, opts).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("find "+coll, err)
	}
	return true, nil
}

func (s *Store) findAll(ctx context.Context, coll string, filter bson.M, out any) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	cur, err := s.db.Collection(coll).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return s.wrap("find "+coll, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return s.wrap("decode "+coll, err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, coll string, doc any) (string, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	res, err := s.db.Collection(coll).InsertOne(ctx, doc)
	if err != nil {
		return "", s.wrap("insert "+coll, err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert %s: unexpected id type %T", coll, res.InsertedID)
	}
	return oid.Hex(), nil
}

func (s *Store) updateByID(ctx context.Context, coll, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	res, err := s.db.Collection(coll).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return s.wrap("update "+coll, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s %s: no such record", coll, id)
	}
	return nil
}

func (s *Store) updateMany(ctx context.Context, coll string, filter, set bson.M) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := s.db.Collection(coll).UpdateMany(ctx, filter, bson.M{"$set": set}); err != nil {
		return s.wrap("update "+coll, err)
	}
	return nil
}

func (s *Store) wrap(op string, err error) error {
	marker := services.ErrExternalService
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		marker = services.ErrTimeout
	}
	return services.Wrap(marker, "metadata", op, "", err)
}
