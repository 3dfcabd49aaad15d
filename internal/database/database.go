package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"processing-api/internal/config"
)

// Database wraps the MongoDB handle backing the ledger gateway.
type Database struct {
	Mongo *mongo.Database
}

// Connect establishes the MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.SelectionTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Database{Mongo: client.Database(cfg.Database)}, nil
}

// HealthCheck pings the primary.
func (db *Database) HealthCheck(ctx context.Context) error {
	if err := db.Mongo.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("MongoDB health check failed: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (db *Database) Close(ctx context.Context) error {
	if err := db.Mongo.Client().Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close MongoDB: %w", err)
	}
	return nil
}
