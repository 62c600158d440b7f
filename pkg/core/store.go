package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/arzzra/rtc_engine/pkg/address"
)

// ConferenceInfo метаданные конференции, переживающие перезапуск.
type ConferenceInfo struct {
	// URI адрес фокуса конференции
	URI string `json:"uri"`
	// Subject тема конференции
	Subject string `json:"subject"`
	// Participants адреса участников
	Participants []string `json:"participants,omitempty"`
	// StartTime/EndTime окно расписания
	StartTime time.Time `json:"start_time,omitzero"`
	EndTime   time.Time `json:"end_time,omitzero"`
	// Encrypted сквозное шифрование беседы
	Encrypted bool `json:"encrypted"`
	// OneToOne признак диалоговой беседы
	OneToOne bool `json:"one_to_one"`
	// EphemeralLifetime время жизни эфемерных сообщений в секундах,
	// 0 означает обычную беседу без исчезающих сообщений
	EphemeralLifetime int64 `json:"ephemeral_lifetime,omitempty"`
}

// Store дисковое хранилище метаданных конференций. Ключи:
//
//	conf:<uri фокуса>            метаданные конференции
//	o2o:<local>|<peer>|<enc>     адрес диалоговой беседы пары
//
// Индекс o2o отвечает на вопрос, переиспользовать существующую
// диалоговую беседу или создавать новую.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// NewStore оборачивает открытую базу.
func NewStore(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log.With(slog.String("component", "conf_store"))}
}

func confKey(uri string) []byte { return []byte("conf:" + uri) }

func oneToOneKey(local, peer *address.Address, encrypted bool) []byte {
	enc := "0"
	if encrypted {
		enc = "1"
	}
	return []byte(fmt.Sprintf("o2o:%s|%s|%s", local.URI(), peer.URI(), enc))
}

// PutConference вставляет или обновляет метаданные конференции.
func (s *Store) PutConference(info *ConferenceInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("кодирование метаданных конференции: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(confKey(info.URI), data)
	})
}

// Conference возвращает метаданные конференции по адресу фокуса.
// Возвращает (nil, nil), если записи нет.
func (s *Store) Conference(uri string) (*ConferenceInfo, error) {
	var info *ConferenceInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(confKey(uri))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			info = &ConferenceInfo{}
			return json.Unmarshal(val, info)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("чтение метаданных конференции: %w", err)
	}
	return info, nil
}

// DeleteConference удаляет метаданные конференции.
func (s *Store) DeleteConference(uri string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(confKey(uri))
	})
}

// BindOneToOne связывает пару адресов с адресом их диалоговой беседы.
func (s *Store) BindOneToOne(local, peer *address.Address, encrypted bool, confURI string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(oneToOneKey(local, peer, encrypted), []byte(confURI))
	})
}

// OneToOne возвращает адрес существующей диалоговой беседы пары или
// пустую строку, если беседы не было и ее надо создавать заново.
func (s *Store) OneToOne(local, peer *address.Address, encrypted bool) (string, error) {
	var uri string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(oneToOneKey(local, peer, encrypted))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			uri = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("поиск диалоговой беседы: %w", err)
	}
	return uri, nil
}
