package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"processing-api/internal/models"
	"processing-api/internal/security"
)

type mongoGateway struct {
	balances     *mongo.Collection
	users        *mongo.Collection
	transactions *mongo.Collection
	cipher       *security.Cipher
}

// balanceDocument stores amounts as strings so no precision is lost in BSON.
type balanceDocument struct {
	UserID    int64     `bson:"user_id"`
	Currency  string    `bson:"currency"`
	Amount    string    `bson:"amount"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// userDocument is the persisted account holder view. The daily limit is a
// string for the same precision reason as balances.
type userDocument struct {
	UserID           int64     `bson:"user_id"`
	Name             string    `bson:"name"`
	Email            string    `bson:"email"`
	Country          string    `bson:"country"`
	Status           string    `bson:"status"`
	DocumentVerified bool      `bson:"document_verified"`
	AddressVerified  bool      `bson:"address_verified"`
	IdentityVerified bool      `bson:"identity_verified"`
	DataConsent      bool      `bson:"data_consent"`
	ConsentUpdatedAt time.Time `bson:"consent_updated_at"`
	DailyLimit       string    `bson:"daily_limit,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
}

// recordDocument is the persisted form of a TransactionRecord.
type recordDocument struct {
	TransactionID string    `bson:"transaction_id"`
	UserID        int64     `bson:"user_id"`
	Type          string    `bson:"type"`
	Amount        string    `bson:"amount"`
	Currency      string    `bson:"currency"`
	Status        string    `bson:"status"`
	NetworkFee    string    `bson:"network_fee"`
	ExchangeRate  string    `bson:"exchange_rate"`
	Flags         []string  `bson:"flags,omitempty"`
	Reference     string    `bson:"reference,omitempty"`
	FailureReason string    `bson:"failure_reason,omitempty"`
	Metadata      string    `bson:"metadata,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	FinalizedAt   time.Time `bson:"finalized_at"`
}

// NewMongoGateway returns a Gateway over the given database. A non-nil cipher
// encrypts record metadata before it is written.
func NewMongoGateway(db *mongo.Database, cipher *security.Cipher) Gateway {
	return &mongoGateway{
		balances:     db.Collection("balances"),
		users:        db.Collection("users"),
		transactions: db.Collection("transactions"),
		cipher:       cipher,
	}
}

// EnsureIndexes creates the unique indexes the gateway relies on. The unique
// transaction_id index is what makes records insert-once.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("balances").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "currency", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create balance index: %w", err)
	}

	_, err = db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user index: %w", err)
	}

	_, err = db.Collection("transactions").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "transaction_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction index: %w", err)
	}

	return nil
}

func (g *mongoGateway) GetBalance(ctx context.Context, userID int64, currency string) (decimal.Decimal, error) {
	var doc balanceDocument
	err := g.balances.FindOne(ctx, bson.M{"user_id": userID, "currency": currency}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance amount for user %d: %w", userID, err)
	}

	return amount, nil
}

func (g *mongoGateway) SetBalance(ctx context.Context, userID int64, currency string, amount decimal.Decimal) error {
	filter := bson.M{"user_id": userID, "currency": currency}
	update := bson.M{
		"$set": bson.M{
			"amount":     amount.String(),
			"updated_at": time.Now(),
		},
		"$setOnInsert": bson.M{
			"user_id":  userID,
			"currency": currency,
		},
	}

	_, err := g.balances.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}

	return nil
}

func (g *mongoGateway) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var doc userDocument
	err := g.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	dailyLimit := decimal.Zero
	if doc.DailyLimit != "" {
		if dailyLimit, err = decimal.NewFromString(doc.DailyLimit); err != nil {
			return nil, fmt.Errorf("corrupt daily limit for user %d: %w", userID, err)
		}
	}

	return &models.User{
		UserID:           doc.UserID,
		Name:             doc.Name,
		Email:            doc.Email,
		Country:          doc.Country,
		Status:           doc.Status,
		DocumentVerified: doc.DocumentVerified,
		AddressVerified:  doc.AddressVerified,
		IdentityVerified: doc.IdentityVerified,
		DataConsent:      doc.DataConsent,
		ConsentUpdatedAt: doc.ConsentUpdatedAt,
		DailyLimit:       dailyLimit,
		CreatedAt:        doc.CreatedAt,
	}, nil
}

func (g *mongoGateway) GetRecentTransactions(ctx context.Context, userID int64, limit int64) ([]*models.TransactionRecord, error) {
	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.M{"created_at": -1})

	cursor, err := g.transactions.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*models.TransactionRecord
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode transaction record: %w", err)
		}
		record, err := g.toRecord(&doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error reading transactions: %w", err)
	}

	return records, nil
}

func (g *mongoGateway) GetDailyVolume(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	filter := bson.M{
		"user_id":    userID,
		"created_at": bson.M{"$gte": since},
		"status":     string(models.StatusCompleted),
	}

	cursor, err := g.transactions.Find(ctx, filter)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query daily volume: %w", err)
	}
	defer cursor.Close(ctx)

	total := decimal.Zero
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return decimal.Zero, fmt.Errorf("failed to decode transaction record: %w", err)
		}
		amount, err := decimal.NewFromString(doc.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt record amount %s: %w", doc.TransactionID, err)
		}
		total = total.Add(amount)
	}

	if err := cursor.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("cursor error computing daily volume: %w", err)
	}

	return total, nil
}

func (g *mongoGateway) GetTransactionRecord(ctx context.Context, transactionID string) (*models.TransactionRecord, error) {
	var doc recordDocument
	err := g.transactions.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get transaction record: %w", err)
	}
	return g.toRecord(&doc)
}

func (g *mongoGateway) PersistTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	metadata, err := encodeMetadata(g.cipher, record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode record metadata: %w", err)
	}

	doc := recordDocument{
		TransactionID: record.TransactionID,
		UserID:        record.UserID,
		Type:          string(record.Type),
		Amount:        record.Amount.String(),
		Currency:      record.Currency,
		Status:        string(record.Status),
		NetworkFee:    record.NetworkFee.String(),
		ExchangeRate:  record.ExchangeRate.String(),
		Flags:         record.Flags,
		Reference:     record.Reference,
		FailureReason: record.FailureReason,
		Metadata:      metadata,
		CreatedAt:     record.CreatedAt,
		FinalizedAt:   record.FinalizedAt,
	}

	_, err = g.transactions.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("record already exists for transaction %s", record.TransactionID)
		}
		return fmt.Errorf("failed to persist transaction record: %w", err)
	}

	return nil
}

// encodeMetadata serializes record metadata for storage, encrypting it when a
// cipher is configured.
func encodeMetadata(cipher *security.Cipher, metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if cipher == nil {
		return string(data), nil
	}
	return cipher.Encrypt(data)
}

func decodeMetadata(cipher *security.Cipher, encoded string) (map[string]string, error) {
	if encoded == "" {
		return nil, nil
	}

	data := []byte(encoded)
	if cipher != nil {
		decrypted, err := cipher.Decrypt(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt metadata: %w", err)
		}
		data = decrypted
	}

	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func (g *mongoGateway) toRecord(d *recordDocument) (*models.TransactionRecord, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt record amount %s: %w", d.TransactionID, err)
	}

	fee := decimal.Zero
	if d.NetworkFee != "" {
		if fee, err = decimal.NewFromString(d.NetworkFee); err != nil {
			return nil, fmt.Errorf("corrupt record fee %s: %w", d.TransactionID, err)
		}
	}

	rate := decimal.NewFromInt(1)
	if d.ExchangeRate != "" {
		if rate, err = decimal.NewFromString(d.ExchangeRate); err != nil {
			return nil, fmt.Errorf("corrupt record rate %s: %w", d.TransactionID, err)
		}
	}

	metadata, err := decodeMetadata(g.cipher, d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("corrupt record metadata %s: %w", d.TransactionID, err)
	}

	return &models.TransactionRecord{
		TransactionID: d.TransactionID,
		UserID:        d.UserID,
		Type:          models.TransactionType(d.Type),
		Amount:        amount,
		Currency:      d.Currency,
		Status:        models.TransactionStatus(d.Status),
		NetworkFee:    fee,
		ExchangeRate:  rate,
		Flags:         d.Flags,
		Reference:     d.Reference,
		FailureReason: d.FailureReason,
		Metadata:      metadata,
		CreatedAt:     d.CreatedAt,
		FinalizedAt:   d.FinalizedAt,
	}, nil
}
