package call

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const logPrefix = "calllog:"

// LogStore персистентный журнал вызовов поверх badger.
//
// Ключи строятся так, чтобы итерация по префиксу шла от новых записей
// к старым: поиск по call-id ограничивается глубиной просмотра без
// полного сканирования.
type LogStore struct {
	db  *badger.DB
	log *slog.Logger
}

// NewLogStore создает хранилище журнала поверх открытой базы.
func NewLogStore(db *badger.DB, log *slog.Logger) *LogStore {
	if log == nil {
		log = slog.Default()
	}
	return &LogStore{db: db, log: log}
}

// ключ: calllog:<инвертированное время>:<call-id> - новые записи первыми
func logKey(callID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", logPrefix, math.MaxInt64-at.UnixNano(), callID))
}

// Append добавляет запись в журнал.
func (s *LogStore) Append(l *Log) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("сериализация записи журнала %s: %w", l.CallID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(logKey(l.CallID, l.StartedAt), data)
	})
}

// FindByCallID ищет последнюю запись с данным call-id, просматривая не
// более depth последних записей. depth <= 0 означает просмотр всего
// журнала.
func (s *LogStore) FindByCallID(callID string, depth int) (*Log, error) {
	var found *Log
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		scanned := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if depth > 0 && scanned >= depth {
				return nil
			}
			scanned++
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, ":"+callID) {
				continue
			}
			return it.Item().Value(func(val []byte) error {
				var l Log
				if err := json.Unmarshal(val, &l); err != nil {
					return fmt.Errorf("разбор записи журнала %s: %w", key, err)
				}
				found = &l
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Recent возвращает до limit последних записей журнала.
func (s *LogStore) Recent(limit int) ([]*Log, error) {
	var out []*Log
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			err := it.Item().Value(func(val []byte) error {
				var l Log
				if err := json.Unmarshal(val, &l); err != nil {
					// Поврежденная запись не должна ломать выборку
					s.log.Warn("пропущена поврежденная запись журнала",
						slog.String("key", string(it.Item().Key())),
						slog.Any("error", err))
					return nil
				}
				out = append(out, &l)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
