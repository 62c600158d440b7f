package signal

// Reason классифицирует исход транзакции или причину отказа.
// Таксономия едина для входящих ошибок транспорта и исходящих отказов,
// которые генерируют сами машины состояний.
type Reason int

const (
	// ReasonNone - успех, отказа нет
	ReasonNone Reason = iota
	// ReasonBusy - дубликат или перегрузка, локальный отказ
	ReasonBusy
	// ReasonDeclined - вызов отклонен политикой или пользователем
	ReasonDeclined
	// ReasonNotFound - адресат не найден
	ReasonNotFound
	// ReasonNotAcceptable - параметры сессии неприемлемы
	ReasonNotAcceptable
	// ReasonForbidden - операция запрещена
	ReasonForbidden
	// ReasonServiceUnavailable - ядро не готово, быстрый локальный отказ
	ReasonServiceUnavailable
	// ReasonIOError - ошибка транспорта; при работающем ядре не фатальна
	ReasonIOError
	// ReasonRequestTimeout - транспорт не дождался ответа
	ReasonRequestTimeout
	// ReasonAuthChallenge - 401/407; не ошибка, запускает auth sub-flow
	ReasonAuthChallenge
	// ReasonMovedPermanently - редирект на новый адрес
	ReasonMovedPermanently
	// ReasonUnknown - неклассифицированная ошибка
	ReasonUnknown
)

var reasonNames = map[Reason]string{
	ReasonNone:               "None",
	ReasonBusy:               "Busy",
	ReasonDeclined:           "Declined",
	ReasonNotFound:           "NotFound",
	ReasonNotAcceptable:      "NotAcceptable",
	ReasonForbidden:          "Forbidden",
	ReasonServiceUnavailable: "ServiceUnavailable",
	ReasonIOError:            "IOError",
	ReasonRequestTimeout:     "RequestTimeout",
	ReasonAuthChallenge:      "AuthChallenge",
	ReasonMovedPermanently:   "MovedPermanently",
	ReasonUnknown:            "Unknown",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "Unknown"
}

// StatusCode возвращает протокольный код ответа для причины отказа.
func (r Reason) StatusCode() int {
	switch r {
	case ReasonNone:
		return 200
	case ReasonBusy:
		return 486
	case ReasonDeclined:
		return 603
	case ReasonNotFound:
		return 404
	case ReasonNotAcceptable:
		return 488
	case ReasonForbidden:
		return 403
	case ReasonServiceUnavailable, ReasonIOError:
		return 503
	case ReasonRequestTimeout:
		return 408
	case ReasonMovedPermanently:
		return 301
	default:
		return 500
	}
}

// ReasonFromStatusCode классифицирует протокольный код ответа.
func ReasonFromStatusCode(code int) Reason {
	switch {
	case code < 300:
		return ReasonNone
	case code == 301 || code == 302:
		return ReasonMovedPermanently
	case code == 401 || code == 407:
		return ReasonAuthChallenge
	case code == 403:
		return ReasonForbidden
	case code == 404 || code == 410:
		return ReasonNotFound
	case code == 408:
		return ReasonRequestTimeout
	case code == 486 || code == 600:
		return ReasonBusy
	case code == 488 || code == 606:
		return ReasonNotAcceptable
	case code == 503:
		return ReasonServiceUnavailable
	case code == 603:
		return ReasonDeclined
	default:
		return ReasonUnknown
	}
}

// ErrorInfo фиксирует детали ошибки на сессии или аккаунте.
type ErrorInfo struct {
	// Reason классифицированная причина
	Reason Reason
	// ProtocolCode код ответа протокола (0, если ошибка локальная)
	ProtocolCode int
	// Phrase текст из ответа протокола
	Phrase string
	// Warning дополнительный Warning заголовок, если был
	Warning string
}

// IsError сообщает, описывает ли запись реальную ошибку.
// AuthChallenge ошибкой не считается: за ним следует auth-requested.
func (e *ErrorInfo) IsError() bool {
	if e == nil {
		return false
	}
	return e.Reason != ReasonNone && e.Reason != ReasonAuthChallenge
}
