package session

// State представляет состояние сессии вызова.
type State int

const (
	// StateIdle - сессия создана, протокольный обмен не начат
	StateIdle State = iota
	// StatePushIncoming - сессия предсоздана push-уведомлением платформы,
	// входящая транзакция еще не получена
	StatePushIncoming
	// StateIncoming - получено входящее приглашение
	StateIncoming
	// StateOutgoingInit - исходящий запрос отправляется
	StateOutgoingInit
	// StateOutgoingProgress - получен предварительный ответ
	StateOutgoingProgress
	// StateOutgoingRinging - удаленная сторона звонит
	StateOutgoingRinging
	// StateConnected - вызов установлен
	StateConnected
	// StateUpdating - идет пересогласование параметров (re-INVITE или
	// session refresh)
	StateUpdating
	// StatePausing - локальная пауза согласовывается
	StatePausing
	// StatePaused - вызов на локальной паузе
	StatePaused
	// StatePausedByRemote - вызов поставлен на паузу удаленной стороной
	StatePausedByRemote
	// StateResuming - возобновление согласовывается
	StateResuming
	// StateEnd - вызов завершен, сессия еще не освобождена владельцем
	StateEnd
	// StateError - сессия завершилась ошибкой
	StateError
	// StateReleased - терминальное состояние; дальнейшие мутации запрещены
	StateReleased
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StatePushIncoming:     "push_incoming_received",
	StateIncoming:         "incoming_received",
	StateOutgoingInit:     "outgoing_init",
	StateOutgoingProgress: "outgoing_progress",
	StateOutgoingRinging:  "outgoing_ringing",
	StateConnected:        "connected",
	StateUpdating:         "updating",
	StatePausing:          "pausing",
	StatePaused:           "paused",
	StatePausedByRemote:   "paused_by_remote",
	StateResuming:         "resuming",
	StateEnd:              "end",
	StateError:            "error",
	StateReleased:         "released",
}

var statesByName = func() map[string]State {
	m := make(map[string]State, len(stateNames))
	for s, name := range stateNames {
		m[name] = s
	}
	return m
}()

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal сообщает, является ли состояние терминальным.
// Единственное истинно терминальное состояние - Released.
func (s State) IsTerminal() bool {
	return s == StateReleased
}

// IsEnded сообщает, завершен ли вызов (End, Error или Released).
func (s State) IsEnded() bool {
	return s == StateEnd || s == StateError || s == StateReleased
}

// Direction направление вызова.
type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// TransferState параллельное состояние перевода вызова, прикрепленное
// к сессии-инициатору. Отражает исход транзакции самого перевода.
type TransferState int

const (
	TransferNone TransferState = iota
	TransferOutgoingProgress
	TransferConnected
	TransferError
)

func (t TransferState) String() string {
	switch t {
	case TransferOutgoingProgress:
		return "outgoing_progress"
	case TransferConnected:
		return "connected"
	case TransferError:
		return "error"
	default:
		return "none"
	}
}
