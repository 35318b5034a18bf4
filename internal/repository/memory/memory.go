package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/GoBigTech/iap/internal/repository"
)

// MemoryRepository реализует RecordStore используя in-memory хранилище
// Используется для разработки и тестирования, записи не переживают перезапуск процесса
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]repository.PendingRecord // ключ = productID
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]repository.PendingRecord),
	}
}

// Get получает запись по productID из памяти
func (r *MemoryRepository) Get(ctx context.Context, productID string) (repository.PendingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[productID]
	if !exists {
		return repository.PendingRecord{}, repository.ErrNotFound
	}

	return rec, nil
}

// Save сохраняет запись в памяти
// Если у записи нет SavedAt, устанавливаем текущее время
func (r *MemoryRepository) Save(ctx context.Context, record repository.PendingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.SavedAt.IsZero() {
		record.SavedAt = time.Now().UTC()
	}

	r.records[record.Product.ID] = record
	return nil
}

// Remove удаляет запись из памяти
func (r *MemoryRepository) Remove(ctx context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, productID)
	return nil
}

// List возвращает до limit записей, отсортированных по SavedAt
func (r *MemoryRepository) List(ctx context.Context, limit int) ([]repository.PendingRecord, error) {
	r.mu.RLock()
	out := make([]repository.PendingRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].Product.ID < out[j].Product.ID
		}
		return out[i].SavedAt.Before(out[j].SavedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping всегда успешен, in-memory хранилище всегда доступно
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
