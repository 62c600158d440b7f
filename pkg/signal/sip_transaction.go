package signal

import (
	"fmt"
	"strings"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rtc_engine/pkg/address"
)

// RequestSender отправляет новый запрос через транспортный слой.
// Используется для редиректов (Moved-Permanently).
type RequestSender func(req *sip.Request) (Transaction, error)

// SIPTransaction обертывает sipgo запрос и серверную транзакцию в
// интерфейс Transaction. Клиентские транзакции обертываются той же
// структурой: serverTx остается nil, а финальный ответ доставляется
// через OnResponse.
type SIPTransaction struct {
	req      *sip.Request
	serverTx sip.ServerTransaction

	sender RequestSender

	mu       sync.RWMutex
	owner    any
	released bool
	final    *sip.Response

	// Кэш ленивого разбора
	media      *MediaSummary
	mediaReady bool
}

// NewSIPTransaction создает адаптер для входящего запроса.
func NewSIPTransaction(req *sip.Request, tx sip.ServerTransaction, sender RequestSender) *SIPTransaction {
	return &SIPTransaction{req: req, serverTx: tx, sender: sender}
}

// NewClientSIPTransaction создает адаптер для исходящего запроса.
func NewClientSIPTransaction(req *sip.Request, sender RequestSender) *SIPTransaction {
	return &SIPTransaction{req: req, sender: sender}
}

// OnResponse фиксирует финальный ответ на клиентскую транзакцию.
func (t *SIPTransaction) OnResponse(res *sip.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if res != nil && res.StatusCode >= 200 {
		t.final = res
	}
}

// Request возвращает исходный запрос. Только для транспортного слоя.
func (t *SIPTransaction) Request() *sip.Request { return t.req }

// Kind возвращает вид обмена по методу запроса.
func (t *SIPTransaction) Kind() TxKind {
	switch t.req.Method {
	case sip.INVITE:
		return TxInvite
	case sip.REGISTER:
		return TxRegister
	case sip.MESSAGE:
		return TxMessage
	case sip.SUBSCRIBE:
		return TxSubscribe
	case sip.NOTIFY:
		return TxNotify
	case sip.PUBLISH:
		return TxPublish
	case sip.REFER:
		return TxRefer
	case sip.BYE:
		return TxBye
	case sip.INFO:
		return TxInfo
	case sip.UPDATE:
		return TxUpdate
	default:
		return TxInfo
	}
}

// CallID возвращает идентификатор вызова.
func (t *SIPTransaction) CallID() string {
	if cid := t.req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

// From возвращает адрес отправителя.
func (t *SIPTransaction) From() *address.Address {
	from := t.req.From()
	if from == nil {
		return nil
	}
	a := address.FromSIPURI(from.Address)
	if from.DisplayName != "" {
		a = a.WithDisplayName(from.DisplayName)
	}
	return a
}

// To возвращает адрес получателя.
func (t *SIPTransaction) To() *address.Address {
	to := t.req.To()
	if to == nil {
		return nil
	}
	return address.FromSIPURI(to.Address)
}

// RemoteContact возвращает контакт удаленной стороны. Параметры
// заголовка Contact переносятся в параметры адреса, чтобы ядро видело
// маркеры "admin" и "conf-id" единообразно.
func (t *SIPTransaction) RemoteContact() *address.Address {
	contact := t.req.Contact()
	if contact == nil {
		return nil
	}
	a := address.FromSIPURI(contact.Address)
	for name, value := range contact.Params {
		a = a.WithParam(name, value)
	}
	return a
}

// Header возвращает значение заголовка.
func (t *SIPTransaction) Header(name string) string {
	if h := t.req.GetHeader(name); h != nil {
		return h.Value()
	}
	return ""
}

// Body возвращает тело запроса.
func (t *SIPTransaction) Body() []byte { return t.req.Body() }

// MediaSummary разбирает описание сессии из тела запроса.
// Разбор выполняется лениво и кэшируется.
func (t *SIPTransaction) MediaSummary() *MediaSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mediaReady {
		return t.media
	}
	t.mediaReady = true
	ct := t.Header(HeaderContentType)
	if !strings.Contains(ct, "application/sdp") {
		return nil
	}
	summary, err := ParseMediaSummary(t.req.Body())
	if err != nil {
		return nil
	}
	t.media = summary
	return t.media
}

// ErrorInfo возвращает детали ошибки из финального ответа.
func (t *SIPTransaction) ErrorInfo() *ErrorInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.final == nil || t.final.StatusCode < 300 {
		return nil
	}
	info := &ErrorInfo{
		Reason:       ReasonFromStatusCode(t.final.StatusCode),
		ProtocolCode: t.final.StatusCode,
		Phrase:       t.final.Reason,
	}
	if w := t.final.GetHeader("Warning"); w != nil {
		info.Warning = w.Value()
	}
	return info
}

// Reply отвечает на серверную транзакцию с указанной причиной.
func (t *SIPTransaction) Reply(reason Reason) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return fmt.Errorf("ответ на освобожденную транзакцию %s", t.CallID())
	}
	if t.serverTx == nil {
		return fmt.Errorf("ответ возможен только на серверную транзакцию")
	}
	code := reason.StatusCode()
	res := sip.NewResponseFromRequest(t.req, code, statusPhrase(code), nil)
	return t.serverTx.Respond(res)
}

// DeclineWithRedirect отклоняет транзакцию, указывая адрес перенаправления.
func (t *SIPTransaction) DeclineWithRedirect(target *address.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released || t.serverTx == nil {
		return fmt.Errorf("редирект невозможен для транзакции %s", t.CallID())
	}
	res := sip.NewResponseFromRequest(t.req, 302, "Moved Temporarily", nil)
	res.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<%s>", target.URI())))
	return t.serverTx.Respond(res)
}

// Redirect просит транспортный слой повторить запрос к новой цели.
func (t *SIPTransaction) Redirect(target *address.Address) (Transaction, error) {
	if t.sender == nil {
		return nil, fmt.Errorf("транспортный слой не настроен для редиректа")
	}
	var uri sip.Uri
	if err := sip.ParseUri(target.URI(), &uri); err != nil {
		return nil, fmt.Errorf("невалидная цель редиректа: %w", err)
	}
	redirected := t.req.Clone()
	redirected.Recipient = uri
	return t.sender(redirected)
}

// Owner возвращает прикрепленного владельца.
func (t *SIPTransaction) Owner() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owner
}

// SetOwner прикрепляет владельца.
func (t *SIPTransaction) SetOwner(owner any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owner = owner
}

// Release освобождает транзакцию.
func (t *SIPTransaction) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.owner = nil
}

func statusPhrase(code int) string {
	switch code {
	case 200:
		return "OK"
	case 301:
		return "Moved Permanently"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 408:
		return "Request Timeout"
	case 486:
		return "Busy Here"
	case 488:
		return "Not Acceptable Here"
	case 503:
		return "Service Unavailable"
	case 603:
		return "Decline"
	default:
		return "Server Internal Error"
	}
}
