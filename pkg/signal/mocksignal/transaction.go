// Package mocksignal содержит тестовую реализацию сигнальной транзакции.
// Используется в тестах ядра и машин состояний вместо реального
// транспортного слоя.
package mocksignal

import (
	"sync"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// Transaction управляемая из теста транзакция. Все ответы ядра
// записываются и доступны для проверок.
type Transaction struct {
	mu sync.Mutex

	TxKind    signal.TxKind
	ID        string
	FromAddr  *address.Address
	ToAddr    *address.Address
	Contact   *address.Address
	Headers   map[string]string
	BodyBytes []byte
	Media     *signal.MediaSummary
	ErrInfo   *signal.ErrorInfo

	owner    any
	released bool

	// Записанные ответы
	Replies        []signal.Reason
	RedirectTarget *address.Address
	Redirected     []*address.Address
}

// New создает INVITE-транзакцию с минимальными полями.
func New(callID string, from, to *address.Address) *Transaction {
	return &Transaction{
		TxKind:   signal.TxInvite,
		ID:       callID,
		FromAddr: from,
		ToAddr:   to,
		Headers:  make(map[string]string),
	}
}

func (t *Transaction) Kind() signal.TxKind { return t.TxKind }

func (t *Transaction) CallID() string { return t.ID }

func (t *Transaction) From() *address.Address { return t.FromAddr }

func (t *Transaction) To() *address.Address { return t.ToAddr }

func (t *Transaction) RemoteContact() *address.Address { return t.Contact }

func (t *Transaction) Header(name string) string { return t.Headers[name] }

func (t *Transaction) Body() []byte { return t.BodyBytes }

func (t *Transaction) MediaSummary() *signal.MediaSummary { return t.Media }

func (t *Transaction) ErrorInfo() *signal.ErrorInfo { return t.ErrInfo }

func (t *Transaction) Reply(reason signal.Reason) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Replies = append(t.Replies, reason)
	return nil
}

func (t *Transaction) DeclineWithRedirect(target *address.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Replies = append(t.Replies, signal.ReasonMovedPermanently)
	t.RedirectTarget = target
	t.Redirected = append(t.Redirected, target)
	return nil
}

func (t *Transaction) Redirect(target *address.Address) (signal.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Redirected = append(t.Redirected, target)
	return New(t.ID, t.FromAddr, target), nil
}

func (t *Transaction) Owner() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner
}

func (t *Transaction) SetOwner(owner any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owner = owner
}

func (t *Transaction) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.owner = nil
}

// Released сообщает, была ли транзакция освобождена.
func (t *Transaction) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// LastReply возвращает последний записанный ответ.
func (t *Transaction) LastReply() (signal.Reason, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Replies) == 0 {
		return signal.ReasonNone, false
	}
	return t.Replies[len(t.Replies)-1], true
}
