// internal/output/mongodb.go
package output

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tycho01/parsz/internal/parselet"
)

// MongoDBWriter inserts one document per record. Key order of the extracted
// object is kept.
type MongoDBWriter struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoDBWriter connects to uri and writes to database.collection.
func NewMongoDBWriter(ctx context.Context, uri, database, collection string) (*MongoDBWriter, error) {
	if uri == "" || database == "" {
		return nil, writeErr("mongodb", fmt.Errorf("connection string and database are required"))
	}
	if collection == "" {
		collection = "records"
	}

	opts := options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, writeErr("mongodb", fmt.Errorf("failed to connect: %w", err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, writeErr("mongodb", fmt.Errorf("failed to ping: %w", err))
	}

	return &MongoDBWriter{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Write inserts rec.
func (w *MongoDBWriter) Write(ctx context.Context, rec Record) error {
	_, err := w.collection.InsertOne(ctx, recordDocument(rec))
	if err != nil {
		return writeErr("mongodb", fmt.Errorf("failed to insert document: %w", err))
	}
	return nil
}

// Ping checks the server connection.
func (w *MongoDBWriter) Ping(ctx context.Context) error {
	if w.client == nil {
		return writeErr("mongodb", fmt.Errorf("writer closed"))
	}
	return writeErr("mongodb", w.client.Ping(ctx, nil))
}

// Close disconnects the client.
func (w *MongoDBWriter) Close() error {
	if w.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := w.client.Disconnect(ctx)
	w.client = nil
	return writeErr("mongodb", err)
}

func recordDocument(rec Record) bson.D {
	return bson.D{
		{Key: "_id", Value: rec.ID.String()},
		{Key: "url", Value: rec.URL},
		{Key: "extracted_at", Value: rec.ExtractedAt},
		{Key: "data", Value: toBSON(rec.Data)},
	}
}

// toBSON converts extracted values to ordered BSON.
func toBSON(v any) any {
	switch t := v.(type) {
	case *parselet.Object:
		if t == nil {
			return nil
		}
		doc := make(bson.D, 0, t.Len())
		for _, k := range t.Keys() {
			child, _ := t.Get(k)
			doc = append(doc, bson.E{Key: k, Value: toBSON(child)})
		}
		return doc
	case []any:
		arr := make(bson.A, len(t))
		for i, item := range t {
			arr[i] = toBSON(item)
		}
		return arr
	default:
		return v
	}
}
