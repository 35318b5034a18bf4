package service

import (
	"context"
	"sync"
)

// KeyLock - мьютекс на ключ (productID)
// Записи удаляются, когда ключ больше никто не держит и не ждёт
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	ch   chan struct{} // буфер 1: занятый слот = ключ захвачен
	refs int
}

// NewKeyLock создаёт новый KeyLock
func NewKeyLock() *KeyLock {
	return &KeyLock{
		locks: make(map[string]*keyLockEntry),
	}
}

// Lock захватывает ключ или ждёт его освобождения до отмены ctx
// Возвращённую функцию unlock можно вызывать повторно
func (l *KeyLock) Lock(ctx context.Context, key string) (unlock func(), err error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

// Len возвращает количество ключей, которые сейчас держат или ждут
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *KeyLock) release(key string, entry *keyLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
