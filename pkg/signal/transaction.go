package signal

import "github.com/arzzra/rtc_engine/pkg/address"

// TxKind вид протокольного обмена, которым управляет транзакция.
type TxKind int

const (
	TxInvite TxKind = iota
	TxRegister
	TxMessage
	TxSubscribe
	TxNotify
	TxPublish
	TxRefer
	TxBye
	TxInfo
	TxUpdate
)

var txKindNames = map[TxKind]string{
	TxInvite:    "INVITE",
	TxRegister:  "REGISTER",
	TxMessage:   "MESSAGE",
	TxSubscribe: "SUBSCRIBE",
	TxNotify:    "NOTIFY",
	TxPublish:   "PUBLISH",
	TxRefer:     "REFER",
	TxBye:       "BYE",
	TxInfo:      "INFO",
	TxUpdate:    "UPDATE",
}

func (k TxKind) String() string {
	if name, ok := txKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Известные заголовки с прикладными маркерами, читаемые ядром.
const (
	HeaderAssertedIdentity = "P-Asserted-Identity"
	HeaderEndToEndEncrypt  = "End-To-End-Encrypted"
	HeaderEphemeralMode    = "Ephemeral-Life-Time"
	HeaderOneToOneChat     = "One-To-One-Chat-Room"
	HeaderContentType      = "Content-Type"
	HeaderSubject          = "Subject"
)

// Параметры контакта, читаемые при классификации входящего вызова.
const (
	ContactParamAdmin  = "admin"
	ContactParamConfID = "conf-id"
	URIParamConfID     = "conf-id"
)

// Transaction представляет один протокольный обмен запрос/ответ.
//
// Это внешний коллаборатор: кодирование и декодирование сообщений,
// ретрансмиссии и таймеры живут в транспортном слое. Ядро видит только
// этот интерфейс. Транзакция эксклюзивно принадлежит той сессии или
// аккаунту, к которым прикреплена, на все время их жизни.
type Transaction interface {
	// Kind возвращает вид обмена
	Kind() TxKind

	// CallID возвращает протокольный идентификатор вызова
	CallID() string

	// From возвращает адрес отправителя
	From() *address.Address
	// To возвращает адрес получателя
	To() *address.Address
	// RemoteContact возвращает контакт удаленной стороны с параметрами
	// (в частности "admin" и "conf-id"); nil, если контакта не было
	RemoteContact() *address.Address

	// Header возвращает значение заголовка или "" при его отсутствии
	Header(name string) string

	// Body возвращает тело запроса (может быть nil)
	Body() []byte

	// MediaSummary возвращает сводку согласованных медиа-потоков,
	// разобранную из описания сессии; nil, если описания нет
	MediaSummary() *MediaSummary

	// ErrorInfo возвращает детали ошибки из финального ответа;
	// nil, пока финального ответа нет или он успешный
	ErrorInfo() *ErrorInfo

	// Reply отвечает на транзакцию с указанной причиной.
	// ReasonNone означает успешный ответ.
	Reply(reason Reason) error

	// DeclineWithRedirect отклоняет транзакцию, указывая новый адрес
	DeclineWithRedirect(target *address.Address) error

	// Redirect просит транспортный слой создать новую транзакцию
	// к указанной цели (исход Moved-Permanently)
	Redirect(target *address.Address) (Transaction, error)

	// Owner возвращает непрозрачный указатель владельца, использованный
	// диспетчером для обратной маршрутизации событий
	Owner() any
	// SetOwner прикрепляет владельца
	SetOwner(owner any)

	// Release освобождает транзакцию; после освобождения любые
	// операции над ней запрещены
	Release()
}
