package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

// PendingDocument представляет документ в коллекции pending_purchases
type PendingDocument struct {
	ProductID string             `bson:"product_id"`
	Product   repository.Product `bson:"product"`
	Receipt   repository.Receipt `bson:"receipt"`
	SavedAt   time.Time          `bson:"saved_at"`
}

// Repository реализует RecordStore используя MongoDB
type Repository struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewRepository создаёт новый MongoDB репозиторий
// Создаёт уникальный индекс на product_id, чтобы на товар приходился максимум один документ
func NewRepository(client *mongo.Client, dbName string) *Repository {
	col := client.Database(dbName).Collection("pending_purchases")

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "product_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Если индекс уже существует - игнорируем ошибку
	_, _ = col.Indexes().CreateOne(ctx, indexModel)

	return &Repository{
		client: client,
		col:    col,
	}
}

// Get получает запись по productID из MongoDB
func (r *Repository) Get(ctx context.Context, productID string) (repository.PendingRecord, error) {
	var doc PendingDocument
	res := r.col.FindOne(ctx, bson.M{"product_id": productID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.PendingRecord{}, repository.ErrNotFound
		}
		return repository.PendingRecord{}, err
	}
	if err := res.Decode(&doc); err != nil {
		return repository.PendingRecord{}, fmt.Errorf("%w: %v", repository.ErrCorruptRecord, err)
	}

	return doc.toRecord(), nil
}

// Save сохраняет запись через upsert по product_id
func (r *Repository) Save(ctx context.Context, record repository.PendingRecord) error {
	savedAt := record.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	doc := PendingDocument{
		ProductID: record.Product.ID,
		Product:   record.Product,
		Receipt:   record.Receipt,
		SavedAt:   savedAt,
	}

	_, err := r.col.ReplaceOne(ctx,
		bson.M{"product_id": record.Product.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// Remove удаляет документ по productID
func (r *Repository) Remove(ctx context.Context, productID string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"product_id": productID})
	return err
}

// List возвращает до limit документов, самые старые первыми
func (r *Repository) List(ctx context.Context, limit int) ([]repository.PendingRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "saved_at", Value: 1}, {Key: "product_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]repository.PendingRecord, 0)
	for cur.Next(ctx) {
		var doc PendingDocument
		if err := cur.Decode(&doc); err != nil {
			// Повреждённый документ пропускаем
			continue
		}
		out = append(out, doc.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping проверяет доступность MongoDB
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (d PendingDocument) toRecord() repository.PendingRecord {
	return repository.PendingRecord{
		Product: d.Product,
		Receipt: d.Receipt,
		SavedAt: d.SavedAt.UTC(),
	}
}
