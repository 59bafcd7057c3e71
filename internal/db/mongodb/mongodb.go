package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AI2HU/fbads/internal/models"
)

// MongoDB implements the NoSQL event archive on MongoDB
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	config   *models.Config
}

const collEvents = "task_events"

// New creates a new MongoDB database instance
func New(config *models.Config) *MongoDB {
	return &MongoDB{
		config: config,
	}
}

// Connect establishes connection to MongoDB
func (m *MongoDB) Connect(ctx context.Context) error {
	clientOptions := options.Client().ApplyURI(m.config.URI)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.client = client
	m.database = client.Database(m.config.Database)

	if err := m.createIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// Disconnect closes the MongoDB connection
func (m *MongoDB) Disconnect(ctx context.Context) error {
	if m.client != nil {
		return m.client.Disconnect(ctx)
	}
	return nil
}

// Ping checks the database connection
func (m *MongoDB) Ping(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("not connected to database")
	}
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) createIndexes(ctx context.Context) error {
	eventIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "task_id", Value: 1},
				{Key: "received_at", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "received_at", Value: -1},
			},
		},
	}

	_, err := m.database.Collection(collEvents).Indexes().CreateMany(ctx, eventIndexes)
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}
	return nil
}

// AppendEvent archives one event of a task's timeline
func (m *MongoDB) AppendEvent(ctx context.Context, event *models.TaskEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	_, err := m.database.Collection(collEvents).InsertOne(ctx, event)
	return err
}

// ListEvents returns a task's events oldest first
func (m *MongoDB) ListEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})

	cursor, err := m.database.Collection(collEvents).Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []*models.TaskEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// countByTypePipeline groups the archive by event name
func countByTypePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$event"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
}

// decodeCounts reads the rows of countByTypePipeline
func decodeCounts(ctx context.Context, cursor *mongo.Cursor) (map[models.EventType]int, error) {
	counts := make(map[models.EventType]int)
	for cursor.Next(ctx) {
		var row struct {
			Event string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[models.EventType(row.Event)] = row.Count
	}
	return counts, cursor.Err()
}

// CountEventsByType aggregates the archive by event name
func (m *MongoDB) CountEventsByType(ctx context.Context) (map[models.EventType]int, error) {
	cursor, err := m.database.Collection(collEvents).Aggregate(ctx, countByTypePipeline())
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return decodeCounts(ctx, cursor)
}

func receivedBefore(before time.Time) bson.M {
	return bson.M{"received_at": bson.M{"$lt": before}}
}

// DeleteEventsBefore removes events received before the cutoff
func (m *MongoDB) DeleteEventsBefore(ctx context.Context, before time.Time) (int, error) {
	result, err := m.database.Collection(collEvents).DeleteMany(ctx, receivedBefore(before))
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}

// GetDatabase returns the underlying MongoDB database for advanced operations
func (m *MongoDB) GetDatabase() *mongo.Database {
	return m.database
}
