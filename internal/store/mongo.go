package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

const (
	mongoDefaultDatabase   = "txnsync"
	mongoCollectionName    = "transactions"
	mongoOperationTimeout  = 10 * time.Second
	mongoDuplicateKeyError = 11000
)

type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// mongoTransaction stores created as the fixed-width text layout: BSON dates
// only keep milliseconds, and the text sorts in time order.
type mongoTransaction struct {
	ID           string   `bson:"_id"`
	Created      string   `bson:"created"`
	Amount       int64    `bson:"amount"`
	Description  string   `bson:"description"`
	MerchantName *string  `bson:"merchant_name"`
	Category     *string  `bson:"category"`
	Tags         []string `bson:"tags"`
	Address      *string  `bson:"address"`
	Website      *string  `bson:"website"`
}

func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: mongodb uri is required", ErrInvalidDSN)
	}
	database := mongoDefaultDatabase
	if parsed, err := url.Parse(uri); err == nil {
		if name := strings.Trim(parsed.Path, "/"); name != "" {
			database = name
		}
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, wrapErr("mongodb", "connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, wrapErr("mongodb", "ping", err)
	}
	return newMongoStoreWithClient(ctx, client, database, mongoCollectionName)
}

func newMongoStoreWithClient(ctx context.Context, client *mongo.Client, database, collection string) (*MongoStore, error) {
	coll := client.Database(database).Collection(collection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, wrapErr("mongodb", "create index", err)
	}
	return &MongoStore{client: client, collection: coll}, nil
}

// Upsert inserts the records not already stored, oldest first and in order,
// so a failed batch leaves only a prefix behind and the watermark never
// passes a record that was not written.
func (s *MongoStore) Upsert(ctx context.Context, records []ledger.Transaction) (int, error) {
	if err := validateBatch(records); err != nil {
		return 0, wrapErr("mongodb", "upsert", err)
	}
	records = uniqueByID(records)
	if len(records) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()
	existing, err := s.existingIDs(ctx, records)
	if err != nil {
		return 0, wrapErr("mongodb", "upsert", err)
	}
	docs := newMongoDocs(records, existing)
	inserted, err := insertOrdered(ctx, docs, func(ctx context.Context, docs []interface{}) error {
		_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
		return err
	})
	if err != nil {
		return 0, wrapErr("mongodb", "upsert", err)
	}
	return inserted, nil
}

func (s *MongoStore) existingIDs(ctx context.Context, records []ledger.Transaction) (map[string]struct{}, error) {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	cursor, err := s.collection.Find(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var found []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &found); err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(found))
	for _, doc := range found {
		existing[doc.ID] = struct{}{}
	}
	return existing, nil
}

// newMongoDocs returns the records missing from existing, ascending by created.
func newMongoDocs(records []ledger.Transaction, existing map[string]struct{}) []interface{} {
	sorted := append([]ledger.Transaction(nil), records...)
	ledger.SortByCreated(sorted)
	docs := make([]interface{}, 0, len(sorted))
	for _, record := range sorted {
		if _, ok := existing[record.ID]; ok {
			continue
		}
		docs = append(docs, toMongoTransaction(record))
	}
	return docs
}

// insertOrdered runs ordered inserts until docs are written. A duplicate key
// means another writer stored that document first; insertion resumes after
// it. Any other failure stops with the documents before it already stored.
func insertOrdered(ctx context.Context, docs []interface{}, insert func(context.Context, []interface{}) error) (int, error) {
	inserted := 0
	for len(docs) > 0 {
		err := insert(ctx, docs)
		if err == nil {
			return inserted + len(docs), nil
		}
		var bulkErr mongo.BulkWriteException
		if !errors.As(err, &bulkErr) || bulkErr.WriteConcernError != nil || len(bulkErr.WriteErrors) != 1 {
			return inserted, err
		}
		writeErr := bulkErr.WriteErrors[0]
		if writeErr.Code != mongoDuplicateKeyError || writeErr.Index < 0 || writeErr.Index >= len(docs) {
			return inserted, err
		}
		inserted += writeErr.Index
		docs = docs[writeErr.Index+1:]
	}
	return inserted, nil
}

func (s *MongoStore) Watermark(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()

	var doc mongoTransaction
	err := s.collection.FindOne(ctx, bson.D{},
		options.FindOne().SetSort(bson.D{{Key: "created", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapErr("mongodb", "watermark", err)
	}
	latest, err := ledger.ParseTimestamp(doc.Created)
	if err != nil {
		return time.Time{}, false, wrapErr("mongodb", "watermark", err)
	}
	return latest, true, nil
}

func (s *MongoStore) QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Transaction, error) {
	if err := validateRange(start, end); err != nil {
		return nil, wrapErr("mongodb", "query", err)
	}
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "created", Value: bson.D{
		{Key: "$gte", Value: ledger.FormatTimestamp(start)},
		{Key: "$lt", Value: ledger.FormatTimestamp(end)},
	}}}
	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, wrapErr("mongodb", "query", err)
	}
	var docs []mongoTransaction
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr("mongodb", "query", err)
	}
	out := make([]ledger.Transaction, 0, len(docs))
	for _, doc := range docs {
		record, err := doc.toLedger()
		if err != nil {
			return nil, wrapErr("mongodb", "query", err)
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *MongoStore) HasAnyEntries(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOperationTimeout)
	defer cancel()

	count, err := s.collection.CountDocuments(ctx, bson.D{}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapErr("mongodb", "has entries", err)
	}
	return count > 0, nil
}

func (s *MongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoOperationTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toMongoTransaction(record ledger.Transaction) mongoTransaction {
	return mongoTransaction{
		ID:           record.ID,
		Created:      ledger.FormatTimestamp(record.Created),
		Amount:       record.Amount,
		Description:  record.Description,
		MerchantName: record.MerchantName,
		Category:     record.Category,
		Tags:         record.Tags,
		Address:      record.Address,
		Website:      record.Website,
	}
}

func (doc mongoTransaction) toLedger() (ledger.Transaction, error) {
	created, err := ledger.ParseTimestamp(doc.Created)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("record %s: %w", doc.ID, err)
	}
	return ledger.Transaction{
		ID:           doc.ID,
		Created:      created,
		Amount:       doc.Amount,
		Description:  doc.Description,
		MerchantName: doc.MerchantName,
		Category:     doc.Category,
		Tags:         doc.Tags,
		Address:      doc.Address,
		Website:      doc.Website,
	}, nil
}
