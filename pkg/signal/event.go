package signal

import "github.com/arzzra/rtc_engine/pkg/address"

// EventKind определяет вид сигнального события. Диспетчер маршрутизирует
// события по фиксированной таблице, каждому виду соответствует ровно один
// обработчик.
type EventKind int

const (
	EventCallReceived EventKind = iota
	EventCallRinging
	EventCallAccepted
	EventCallFailed
	EventCallTerminated
	EventCallReleased
	EventCallCancelDone
	EventCallUpdating
	EventCallRefreshing
	EventAckReceived
	EventAckBeingSent
	EventInfoReceived
	EventReferReceived
	EventNotifyRefer
	EventMessageReceived
	EventMessageDelivery
	EventSubscribeReceived
	EventNotifyReceived
	EventPublishReceived
	EventRegisterSuccess
	EventRegisterFailure
	EventAuthRequested
	EventRedirectReceived
)

var eventKindNames = map[EventKind]string{
	EventCallReceived:      "call-received",
	EventCallRinging:       "call-ringing",
	EventCallAccepted:      "call-accepted",
	EventCallFailed:        "call-failed",
	EventCallTerminated:    "call-terminated",
	EventCallReleased:      "call-released",
	EventCallCancelDone:    "call-cancel-done",
	EventCallUpdating:      "call-updating",
	EventCallRefreshing:    "call-refreshing",
	EventAckReceived:       "ack-received",
	EventAckBeingSent:      "ack-being-sent",
	EventInfoReceived:      "info-received",
	EventReferReceived:     "refer-received",
	EventNotifyRefer:       "notify-refer",
	EventMessageReceived:   "message-received",
	EventMessageDelivery:   "message-delivery-update",
	EventSubscribeReceived: "subscribe-received",
	EventNotifyReceived:    "notify-received",
	EventPublishReceived:   "publish-received",
	EventRegisterSuccess:   "register-success",
	EventRegisterFailure:   "register-failure",
	EventAuthRequested:     "auth-requested",
	EventRedirectReceived:  "redirect-received",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ReferOutcome отражает исход транзакции самого перевода вызова,
// приходящий в notify-refer.
type ReferOutcome int

const (
	ReferOutcomeTrying ReferOutcome = iota
	ReferOutcomeSuccess
	ReferOutcomeFailed
)

func (o ReferOutcome) String() string {
	switch o {
	case ReferOutcomeTrying:
		return "trying"
	case ReferOutcomeSuccess:
		return "success"
	case ReferOutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeliveryStatus статус доставки сообщения чата.
type DeliveryStatus int

const (
	DeliveryInProgress DeliveryStatus = iota
	DeliveryDelivered
	DeliveryPending
	DeliveryFailed
)

// Event одно сигнальное событие, поступающее в диспетчер.
// Tx присутствует всегда; остальные поля заполняются в зависимости от вида.
type Event struct {
	Kind EventKind
	Tx   Transaction

	// Err детали ошибки для failed/terminated/register-failure
	Err *ErrorInfo

	// IsUpdate различает updating(re-INVITE) и refreshing(session timer)
	IsUpdate bool

	// ReferTarget цель перевода для refer-received и redirect-received
	ReferTarget *address.Address

	// ReferOutcome исход перевода для notify-refer
	ReferOutcome ReferOutcome

	// Delivery статус для message-delivery-update
	Delivery DeliveryStatus

	// AuthMode запрошенный режим аутентификации для auth-requested
	AuthMode AuthMode

	// Realm область аутентификации для auth-requested
	Realm string
}

// AuthMode режим аутентификации, запрошенный транспортным слоем.
type AuthMode int

const (
	AuthModeDigest AuthMode = iota
	AuthModeBearer
	AuthModeTLSCert
)

func (m AuthMode) String() string {
	switch m {
	case AuthModeDigest:
		return "digest"
	case AuthModeBearer:
		return "bearer"
	case AuthModeTLSCert:
		return "tls-cert"
	default:
		return "unknown"
	}
}
