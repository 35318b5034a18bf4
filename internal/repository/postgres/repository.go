package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

// Repository реализует RecordStore используя PostgreSQL
// Товар и чек хранятся как JSONB, ключ - product_id
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// Get получает запись по productID из PostgreSQL
func (r *Repository) Get(ctx context.Context, productID string) (repository.PendingRecord, error) {
	var productRaw, receiptRaw []byte
	var savedAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT product, receipt, saved_at
		 FROM pending_purchases
		 WHERE product_id = $1`,
		productID).Scan(&productRaw, &receiptRaw, &savedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.PendingRecord{}, repository.ErrNotFound
		}
		return repository.PendingRecord{}, err
	}

	return decodeRecord(productRaw, receiptRaw, savedAt)
}

// Save сохраняет запись в PostgreSQL
// Повторное сохранение для того же товара перезаписывает чек (одна запись на товар)
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

	_, err = r.pool.Exec(ctx,
		`INSERT INTO pending_purchases (product_id, product, receipt, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (product_id) DO UPDATE SET
		   product = EXCLUDED.product,
		   receipt = EXCLUDED.receipt,
		   saved_at = EXCLUDED.saved_at`,
		record.Product.ID, productRaw, receiptRaw, savedAt)
	return err
}

// Remove удаляет запись по productID
func (r *Repository) Remove(ctx context.Context, productID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pending_purchases WHERE product_id = $1`, productID)
	return err
}

// List возвращает до limit записей, самые старые первыми
// Повреждённые записи пропускаются, чтобы одна битая строка не блокировала остальные
func (r *Repository) List(ctx context.Context, limit int) ([]repository.PendingRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, product, receipt, saved_at
		 FROM pending_purchases
		 ORDER BY saved_at, product_id
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]repository.PendingRecord, 0)
	for rows.Next() {
		var productID string
		var productRaw, receiptRaw []byte
		var savedAt time.Time
		if err := rows.Scan(&productID, &productRaw, &receiptRaw, &savedAt); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(productRaw, receiptRaw, savedAt)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Ping проверяет доступность PostgreSQL
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func decodeRecord(productRaw, receiptRaw []byte, savedAt time.Time) (repository.PendingRecord, error) {
	var rec repository.PendingRecord
	if err := json.Unmarshal(productRaw, &rec.Product); err != nil {
		return repository.PendingRecord{}, fmt.Errorf("%w: product: %v", repository.ErrCorruptRecord, err)
	}
	if err := json.Unmarshal(receiptRaw, &rec.Receipt); err != nil {
		return repository.PendingRecord{}, fmt.Errorf("%w: receipt: %v", repository.ErrCorruptRecord, err)
	}
	rec.SavedAt = savedAt.UTC()
	return rec, nil
}
