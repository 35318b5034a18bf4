package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

const (
	keyPrefix = "iap:pending:"
	indexKey  = "iap:pending-index" // indexKey - sorted set productID -> saved_at в микросекундах

	listChunk = 100

	hashFieldProduct = "product"  // hashFieldProduct - JSON товара
	hashFieldReceipt = "receipt"  // hashFieldReceipt - JSON чека
	hashFieldSavedAt = "saved_at" // hashFieldSavedAt - время сохранения в RFC3339Nano
)

// Repository реализует RecordStore используя Redis hash (одна hash на товар)
// и sorted set indexKey для выборки самых старых записей
type Repository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRepository создаёт новый Redis репозиторий
func NewRepository(client *redis.Client, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		client: client,
		logger: logger,
	}
}

func recordKey(productID string) string {
	return keyPrefix + productID
}

// Get получает запись по productID из Redis hash
func (r *Repository) Get(ctx context.Context, productID string) (repository.PendingRecord, error) {
	fields, err := r.client.HGetAll(ctx, recordKey(productID)).Result()
	if err != nil {
		r.logger.Error("failed to get pending record hash from redis",
			zap.Error(err),
			zap.String("product_id", productID),
		)
		return repository.PendingRecord{}, fmt.Errorf("failed to get pending record: %w", err)
	}

	// HGETALL на отсутствующем ключе возвращает пустую map, а не redis.Nil
	if len(fields) == 0 {
		return repository.PendingRecord{}, repository.ErrNotFound
	}

	return decodeRecord(fields)
}

// Save сохраняет запись в Redis hash
func (r *Repository) Save(ctx context.Context, record repository.PendingRecord) error {
	productRaw, err := json.Marshal(record.Product)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}
	receiptRaw, err := json.Marshal(record.Receipt)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	savedAt := record.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	key := recordKey(record.Product.ID)
	pipe := r.client.TxPipeline() // MULTI/EXEC, чтобы hash не остался наполовину перезаписанным
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		hashFieldProduct, string(productRaw),
		hashFieldReceipt, string(receiptRaw),
		hashFieldSavedAt, savedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: indexScore(savedAt), Member: record.Product.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("failed to save pending record hash in redis",
			zap.Error(err),
			zap.String("product_id", record.Product.ID),
		)
		return fmt.Errorf("failed to save pending record: %w", err)
	}

	r.logger.Debug("pending record hash saved",
		zap.String("product_id", record.Product.ID),
	)
	return nil
}

// Remove удаляет hash записи и её позицию в индексе
func (r *Repository) Remove(ctx context.Context, productID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, recordKey(productID))
	pipe.ZRem(ctx, indexKey, productID)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("failed to delete pending record hash from redis",
			zap.Error(err),
			zap.String("product_id", productID),
		)
		return fmt.Errorf("failed to delete pending record: %w", err)
	}
	return nil
}

// List читает индекс окнами по listChunk и возвращает до limit записей, самые старые первыми.
// При равном saved_at порядок задаёт сам ZSET: лексикографически по productID.
// Повреждённые записи пропускаются, позиции без hash вычищаются из индекса
func (r *Repository) List(ctx context.Context, limit int) ([]repository.PendingRecord, error) {
	out := make([]repository.PendingRecord, 0)

	var start int64
	for limit <= 0 || len(out) < limit {
		ids, err := r.client.ZRange(ctx, indexKey, start, start+listChunk-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pending index: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		start += int64(len(ids))

		var stale []interface{}
		for _, productID := range ids {
			rec, err := r.Get(ctx, productID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				stale = append(stale, productID)
				continue
			case errors.Is(err, repository.ErrCorruptRecord):
				continue
			case err != nil:
				return nil, err
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}

		if len(stale) > 0 {
			if err := r.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
				r.logger.Warn("failed to drop stale pending index entries", zap.Error(err))
			} else {
				// индекс сдвинулся на число удалённых позиций
				start -= int64(len(stale))
			}
		}
		if len(ids) < listChunk {
			break
		}
	}
	return out, nil
}

// Ping проверяет доступность Redis
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// indexScore переводит время в score; микросекунды укладываются в точность float64
func indexScore(t time.Time) float64 {
	return float64(t.UTC().UnixMicro())
}

func decodeRecord(fields map[string]string) (repository.PendingRecord, error) {
	var rec repository.PendingRecord
	if err := json.Unmarshal([]byte(fields[hashFieldProduct]), &rec.Product); err != nil {
		return repository.PendingRecord{}, fmt.Errorf("%w: product: %v", repository.ErrCorruptRecord, err)
	}
	if err := json.Unmarshal([]byte(fields[hashFieldReceipt]), &rec.Receipt); err != nil {
		return repository.PendingRecord{}, fmt.Errorf("%w: receipt: %v", repository.ErrCorruptRecord, err)
	}
	if raw := fields[hashFieldSavedAt]; raw != "" {
		savedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return repository.PendingRecord{}, fmt.Errorf("%w: saved_at: %v", repository.ErrCorruptRecord, err)
		}
		rec.SavedAt = savedAt
	}
	return rec, nil
}
