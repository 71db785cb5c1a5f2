package email

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
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// TimeTypeIndex is the (time desc, type asc) index every listing relies on
const TimeTypeIndex = "Time_Type_Index"

type document struct {
	ID             primitive.ObjectID `bson:"_id"`
	Subject        string             `bson:"subject"`
	Body           string             `bson:"body"`
	Sender         string             `bson:"sender"`
	Receiver       string             `bson:"receiver"`
	Time           time.Time          `bson:"time"`
	Score          int                `bson:"score"`
	Type           string             `bson:"type"`
	SentimentScore *int               `bson:"sentimentscore,omitempty"`
}

func toDocument(e *Email, id primitive.ObjectID) document {
	return document{
		ID:             id,
		Subject:        e.Subject,
		Body:           e.Body,
		Sender:         e.Sender,
		Receiver:       e.Receiver,
		Time:           e.Time.UTC(),
		Score:          e.Score,
		Type:           string(e.Type),
		SentimentScore: e.SentimentScore,
	}
}

func (d document) email() Email {
	return Email{
		ID:             d.ID.Hex(),
		Subject:        d.Subject,
		Body:           d.Body,
		Sender:         d.Sender,
		Receiver:       d.Receiver,
		Time:           d.Time.UTC(),
		Score:          d.Score,
		Type:           Type(d.Type),
		SentimentScore: d.SentimentScore,
	}
}

// MongoStore keeps emails in a MongoDB collection
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps an existing collection
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// ConnectMongo dials uri, checks the connection and ensures the indexes exist.
// The returned function disconnects the client.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoStore, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, &StorageError{Op: "connect", Err: err}
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, &StorageError{Op: "ping", Err: err}
	}
	slog.Info("Connected to MongoDB", "database", database, "collection", collection)

	store := NewMongoStore(client.Database(database).Collection(collection))
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return store, client.Disconnect, nil
}

// EnsureIndexes creates TimeTypeIndex unless it already exists
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs, err := s.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return &StorageError{Op: "list indexes", Err: err}
	}
	for _, spec := range specs {
		if spec.Name == TimeTypeIndex {
			slog.Debug("Index already exists", "index", TimeTypeIndex)
			return nil
		}
	}

	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "time", Value: -1}, {Key: "type", Value: 1}},
		Options: options.Index().SetName(TimeTypeIndex),
	})
	if err != nil {
		return &StorageError{Op: "create index", Err: err}
	}
	slog.Info("Created index", "index", TimeTypeIndex)
	return nil
}

// InsertOrReplace implements Store
func (s *MongoStore) InsertOrReplace(ctx context.Context, e *Email) error {
	id := primitive.NewObjectID()
	if e.ID != "" {
		var err error
		if id, err = primitive.ObjectIDFromHex(e.ID); err != nil {
			return &StorageError{Op: "insert", Err: fmt.Errorf("%w %q", ErrInvalidID, e.ID)}
		}
	}

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, toDocument(e, id), options.Replace().SetUpsert(true))
	if err != nil {
		return &StorageError{Op: "insert", Err: err}
	}
	e.ID = id.Hex()
	return nil
}

// FindByID implements Store
func (s *MongoStore) FindByID(ctx context.Context, id string) (Email, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Email{}, fmt.Errorf("email %q: %w", id, ErrNotFound)
	}

	var doc document
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Email{}, fmt.Errorf("email %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Email{}, &StorageError{Op: "find", Err: err}
	}
	return doc.email(), nil
}

// FindByIDs implements Store
func (s *MongoStore) FindByIDs(ctx context.Context, ids []string) ([]Email, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return nil, nil
	}
	return s.find(ctx, "find by ids", bson.M{"_id": bson.M{"$in": oids}})
}

// List implements Store
func (s *MongoStore) List(ctx context.Context, f Filter) ([]Email, error) {
	return s.find(ctx, "list", buildFilter(f))
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M) ([]Email, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "time", Value: -1}}))
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}

	out := make([]Email, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.email())
	}
	return out, nil
}

// BulkUpdate implements Store. Updates for ids that do not exist are no-ops.
func (s *MongoStore) BulkUpdate(ctx context.Context, updates []Update) error {
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		oid, err := primitive.ObjectIDFromHex(u.ID)
		if err != nil {
			return &StorageError{Op: "bulk update", Err: fmt.Errorf("%w %q", ErrInvalidID, u.ID)}
		}
		set := buildSet(u)
		if len(set) == 0 {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": oid}).
			SetUpdate(bson.M{"$set": set}))
	}
	if len(models) == 0 {
		return nil
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return &StorageError{Op: "bulk update", Err: err}
	}
	slog.Debug("Bulk update applied",
		"requested", len(models),
		"matched", res.MatchedCount,
		"modified", res.ModifiedCount)
	return nil
}

// Delete implements Store
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("email %q: %w", id, ErrNotFound)
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("email %q: %w", id, ErrNotFound)
	}
	return nil
}

// Ping implements Store
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

func buildFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	if f.Sender != "" {
		filter["sender"] = f.Sender
	}

	score := bson.M{}
	if f.MinScore != nil {
		score["$gte"] = *f.MinScore
	}
	if f.MaxScore != nil {
		score["$lte"] = *f.MaxScore
	}
	if len(score) > 0 {
		filter["score"] = score
	}

	when := bson.M{}
	if !f.From.IsZero() {
		when["$gte"] = f.From.UTC()
	}
	if !f.To.IsZero() {
		when["$lte"] = f.To.UTC()
	}
	if len(when) > 0 {
		filter["time"] = when
	}
	return filter
}

func buildSet(u Update) bson.M {
	set := bson.M{}
	if u.Subject != nil {
		set["subject"] = *u.Subject
	}
	if u.Sender != nil {
		set["sender"] = *u.Sender
	}
	if u.Type != nil {
		set["type"] = string(*u.Type)
	}
	if u.Score != nil {
		set["score"] = *u.Score
	}
	if u.SentimentScore != nil {
		set["sentimentscore"] = *u.SentimentScore
	}
	return set
}
