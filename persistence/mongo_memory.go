package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lexcodex/researchbot/framework"
)

type mongoMessage struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationID string             `bson:"conversation_id"`
	Role           string             `bson:"role"`
	Content        string             `bson:"content"`
	CreatedAt      time.Time          `bson:"created_at"`
}

// MongoMemory stores one document per message in a MongoDB collection.
type MongoMemory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoMemory connects to uri and verifies the connection with a ping.
func NewMongoMemory(ctx context.Context, uri, database, collection string) (*MongoMemory, error) {
	if uri == "" {
		return nil, errors.New("mongo uri required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return &MongoMemory{client: client, collection: coll}, nil
}

func (m *MongoMemory) Append(ctx context.Context, conversationID string, messages ...framework.Message) error {
	if err := checkID(conversationID); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(messages))
	for _, msg := range stamp(messages, time.Now().UTC()) {
		docs = append(docs, toMongoMessage(conversationID, msg))
	}
	_, err := m.collection.InsertMany(ctx, docs)
	return err
}

func (m *MongoMemory) History(ctx context.Context, conversationID string) ([]framework.Message, error) {
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	cursor, err := m.collection.Find(ctx,
		bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	messages := make([]framework.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.message())
	}
	return messages, nil
}

func (m *MongoMemory) Clear(ctx context.Context, conversationID string) error {
	if err := checkID(conversationID); err != nil {
		return err
	}
	_, err := m.collection.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}

func (m *MongoMemory) Conversations(ctx context.Context) ([]string, error) {
	values, err := m.collection.Distinct(ctx, "conversation_id", bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MongoMemory) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func toMongoMessage(conversationID string, msg framework.Message) mongoMessage {
	return mongoMessage{
		ID:             primitive.NewObjectID(),
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.Timestamp,
	}
}

func (d mongoMessage) message() framework.Message {
	return framework.Message{Role: d.Role, Content: d.Content, Timestamp: d.CreatedAt}
}
