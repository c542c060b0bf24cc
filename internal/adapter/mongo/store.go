// Package mongo persists weather records in a MongoDB collection compatible
// with the bot's existing "weathers" documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tinglebot/weather-service/internal/domain"
)

type conditionDoc struct {
	Label       string `bson:"label"`
	Emoji       string `bson:"emoji"`
	Probability string `bson:"probability"`
}

// weatherDoc mirrors the stored document. The posted flags are pointers so a
// missing field (documents older than the flag) stays distinguishable from false.
type weatherDoc struct {
	ID                primitive.ObjectID `bson:"_id"`
	Village           string             `bson:"village"`
	Date              time.Time          `bson:"date"`
	Season            string             `bson:"season"`
	Temperature       conditionDoc       `bson:"temperature"`
	Wind              conditionDoc       `bson:"wind"`
	Precipitation     conditionDoc       `bson:"precipitation"`
	Special           *conditionDoc      `bson:"special,omitempty"`
	PostedToDiscord   *bool              `bson:"postedToDiscord,omitempty"`
	PostedAt          *time.Time         `bson:"postedAt,omitempty"`
	PmPostedToDiscord *bool              `bson:"pmPostedToDiscord,omitempty"`
	PmPostedAt        *time.Time         `bson:"pmPostedAt,omitempty"`
}

// Store implements weather.Store on a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// Connect dials uri, verifies the connection and ensures indexes.
func Connect(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	s := New(client, client.Database(database).Collection(collection), logger)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New wraps an existing collection. client may be nil when the caller owns
// the connection.
func New(client *mongo.Client, coll *mongo.Collection, logger *slog.Logger) *Store {
	return &Store{client: client, coll: coll, logger: logger}
}

// EnsureIndexes creates the unique (village, date) index that makes
// concurrent generation safe.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "village", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("village_date_unique"),
	})
	if err != nil {
		return fmt.Errorf("create weather index: %w", err)
	}
	return nil
}

// Close disconnects the client if the store owns one.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func villageFilter(village domain.Village, onlyPosted bool) bson.D {
	f := bson.D{{Key: "village", Value: string(village)}}
	if onlyPosted {
		f = append(f, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "postedToDiscord", Value: true}},
			bson.D{{Key: "postedToDiscord", Value: bson.D{{Key: "$exists", Value: false}}}},
		}})
	}
	return f
}

func (s *Store) findOne(ctx context.Context, filter bson.D, opts ...*options.FindOneOptions) (domain.Record, error) {
	var doc weatherDoc
	if err := s.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, err
	}
	return doc.toDomain(), nil
}

func (s *Store) FindLatestInRange(ctx context.Context, village domain.Village, from, to time.Time, onlyPosted bool) (domain.Record, error) {
	filter := append(villageFilter(village, onlyPosted), bson.E{Key: "date", Value: bson.D{
		{Key: "$gte", Value: from.UTC()},
		{Key: "$lt", Value: to.UTC()},
	}})
	return s.findOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}}))
}

func (s *Store) FindByDate(ctx context.Context, village domain.Village, date time.Time, onlyPosted bool) (domain.Record, error) {
	filter := append(villageFilter(village, onlyPosted), bson.E{Key: "date", Value: date.UTC()})
	return s.findOne(ctx, filter)
}

// InsertIfAbsent upserts with $setOnInsert, so an existing document is
// returned untouched. Two upserts racing on an empty slot can still collide on
// the unique index; that surfaces as domain.ErrDuplicate.
func (s *Store) InsertIfAbsent(ctx context.Context, rec domain.Record) (domain.Record, bool, error) {
	doc := fromDomain(rec)
	doc.ID = primitive.NewObjectID()

	filter := bson.D{
		{Key: "village", Value: doc.Village},
		{Key: "date", Value: doc.Date},
	}
	update := bson.D{{Key: "$setOnInsert", Value: doc}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored weatherDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Debug("weather upsert lost a race", "village", rec.Village, "date", doc.Date)
			return domain.Record{}, false, domain.ErrDuplicate
		}
		return domain.Record{}, false, fmt.Errorf("upsert weather: %w", err)
	}
	return stored.toDomain(), stored.ID == doc.ID, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: oid}}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Recent(ctx context.Context, village domain.Village, before time.Time, n int) ([]domain.Record, error) {
	filter := append(villageFilter(village, false), bson.E{Key: "date", Value: bson.D{{Key: "$lt", Value: before.UTC()}}})
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}}).SetLimit(int64(n))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []weatherDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Record, len(docs))
	for i := range docs {
		out[i] = docs[i].toDomain()
	}
	return out, nil
}

func (s *Store) SetPosted(ctx context.Context, id string, at time.Time) error {
	return s.markPosted(ctx, id, "postedToDiscord", "postedAt", at)
}

func (s *Store) SetPmPosted(ctx context.Context, id string, at time.Time) error {
	return s.markPosted(ctx, id, "pmPostedToDiscord", "pmPostedAt", at)
}

func (s *Store) markPosted(ctx context.Context, id, flag, stamp string, at time.Time) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	filter := bson.D{
		{Key: "_id", Value: oid},
		{Key: flag, Value: bson.D{{Key: "$ne", Value: true}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: flag, Value: true},
		{Key: stamp, Value: at.UTC()},
	}}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("set %s: %w", flag, err)
	}
	if res.MatchedCount == 0 {
		return s.mustExist(ctx, id)
	}
	return nil
}

func (s *Store) SetSpecial(ctx context.Context, id string, special domain.Condition) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	filter := bson.D{
		{Key: "_id", Value: oid},
		{Key: "special.probability", Value: bson.D{{Key: "$ne", Value: domain.GuaranteedProbability}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "special", Value: conditionDoc(special)}}}}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("set special: %w", err)
	}
	if res.MatchedCount == 0 {
		if err := s.mustExist(ctx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyScheduled
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func (s *Store) mustExist(ctx context.Context, id string) error {
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	return nil
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed id %q", domain.ErrNotFound, id)
	}
	return oid, nil
}

func fromDomain(rec domain.Record) weatherDoc {
	doc := weatherDoc{
		Village:           string(rec.Village),
		Date:              rec.Date.UTC(),
		Season:            string(rec.Season),
		Temperature:       conditionDoc(rec.Temperature),
		Wind:              conditionDoc(rec.Wind),
		Precipitation:     conditionDoc(rec.Precipitation),
		PostedToDiscord:   postFlag(rec.Posted),
		PostedAt:          rec.PostedAt,
		PmPostedToDiscord: postFlag(rec.PmPosted),
		PmPostedAt:        rec.PmPostedAt,
	}
	if rec.Special != nil {
		sp := conditionDoc(*rec.Special)
		doc.Special = &sp
	}
	return doc
}

func (d weatherDoc) toDomain() domain.Record {
	rec := domain.Record{
		ID:            d.ID.Hex(),
		Village:       domain.Village(d.Village),
		Date:          d.Date.UTC(),
		Season:        domain.Season(d.Season),
		Temperature:   domain.Condition(d.Temperature),
		Wind:          domain.Condition(d.Wind),
		Precipitation: domain.Condition(d.Precipitation),
		Posted:        postState(d.PostedToDiscord),
		PostedAt:      d.PostedAt,
		PmPosted:      postState(d.PmPostedToDiscord),
		PmPostedAt:    d.PmPostedAt,
	}
	if d.Special != nil {
		sp := domain.Condition(*d.Special)
		rec.Special = &sp
	}
	return rec
}

func postFlag(s domain.PostState) *bool {
	if s == domain.LegacyUnknown {
		return nil
	}
	v := s == domain.Posted
	return &v
}

func postState(b *bool) domain.PostState {
	switch {
	case b == nil:
		return domain.LegacyUnknown
	case *b:
		return domain.Posted
	default:
		return domain.NotPosted
	}
}
