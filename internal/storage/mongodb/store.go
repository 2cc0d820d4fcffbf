// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-as2/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	gridfs *gridfs.Bucket

	messages *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	s, err := newStore(client, client.Database(cfg.Database), cfg)
	if err != nil {
		return nil, err
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func newStore(client *mongo.Client, db *mongo.Database, cfg *Config) (*Store, error) {
	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "payloads"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	return &Store{
		client:   client,
		db:       db,
		gridfs:   bucket,
		messages: db.Collection("messages"),
	}, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "as2_message_id", Value: 1}}},
		{Keys: bson.D{{Key: "as2_from", Value: 1}, {Key: "received_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "received_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating message indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// MessageStore implementation

func (s *Store) CreateMessage(ctx context.Context, msg *storage.Message) error {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	_, err := s.messages.InsertOne(ctx, msg)
	return err
}

func (s *Store) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	return s.findMessage(ctx, bson.M{"_id": id})
}

// GetMessageByAS2ID returns the most recent record for a Message-ID. Senders
// may retransmit, so the id is not unique.
func (s *Store) GetMessageByAS2ID(ctx context.Context, as2MessageID string) (*storage.Message, error) {
	return s.findMessage(ctx, bson.M{"as2_message_id": as2MessageID},
		options.FindOne().SetSort(bson.D{{Key: "received_at", Value: -1}}))
}

func (s *Store) findMessage(ctx context.Context, query bson.M, opts ...*options.FindOneOptions) (*storage.Message, error) {
	var msg storage.Message
	err := s.messages.FindOne(ctx, query, opts...).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, filter *storage.MessageFilter) ([]*storage.Message, error) {
	query := messageQuery(filter)

	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.messages.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*storage.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) CountMessages(ctx context.Context, filter *storage.MessageFilter) (int64, error) {
	return s.messages.CountDocuments(ctx, messageQuery(filter))
}

func messageQuery(filter *storage.MessageFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.Direction != "" {
		query["direction"] = filter.Direction
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.From != "" {
		query["as2_from"] = filter.From
	}
	if filter.Since != nil {
		query["received_at"] = bson.M{"$gte": *filter.Since}
	}
	return query
}

// PayloadStore implementation using GridFS

func (s *Store) StorePayload(ctx context.Context, payload *storage.PayloadData) (string, error) {
	if payload.Checksum == "" {
		hash := sha256.Sum256(payload.Data)
		payload.Checksum = hex.EncodeToString(hash[:])
	}

	filename := payload.Filename
	if filename == "" {
		filename = "payload"
	}
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"message_id": payload.MessageID,
		"filename":   payload.Filename,
		"checksum":   payload.Checksum,
	})

	uploadStream, err := s.gridfs.OpenUploadStream(filename, uploadOpts)
	if err != nil {
		return "", fmt.Errorf("opening upload stream: %w", err)
	}

	if _, err := uploadStream.Write(payload.Data); err != nil {
		_ = uploadStream.Abort()
		return "", fmt.Errorf("writing payload: %w", err)
	}
	if err := uploadStream.Close(); err != nil {
		return "", fmt.Errorf("closing upload stream: %w", err)
	}

	payload.ID = uploadStream.FileID.(primitive.ObjectID).Hex()
	return payload.ID, nil
}

func (s *Store) GetPayload(ctx context.Context, id string) (*storage.PayloadData, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid payload ID: %w", err)
	}

	downloadStream, err := s.gridfs.OpenDownloadStream(objID)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening download stream: %w", err)
	}
	defer downloadStream.Close()

	data, err := io.ReadAll(downloadStream)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	metadata := downloadStream.GetFile().Metadata
	messageID, _ := metadata.Lookup("message_id").StringValueOK()
	filename, _ := metadata.Lookup("filename").StringValueOK()
	checksum, _ := metadata.Lookup("checksum").StringValueOK()

	return &storage.PayloadData{
		ID:        id,
		MessageID: messageID,
		Filename:  filename,
		Data:      data,
		Checksum:  checksum,
	}, nil
}

func (s *Store) DeletePayload(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid payload ID: %w", err)
	}
	return s.gridfs.Delete(objID)
}
