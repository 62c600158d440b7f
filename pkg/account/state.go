package account

// State состояние регистрации аккаунта.
type State int

const (
	// StateNone - регистрация не выполнялась
	StateNone State = iota
	// StateProgress - регистрация идет или повторяется после сбоя
	StateProgress
	// StateOk - аккаунт зарегистрирован
	StateOk
	// StateRefreshing - плановое обновление регистрации
	StateRefreshing
	// StateCleared - регистрация снята по запросу
	StateCleared
	// StateFailed - регистрация не удалась окончательно
	StateFailed
)

var regStateNames = map[State]string{
	StateNone:       "none",
	StateProgress:   "progress",
	StateOk:         "ok",
	StateRefreshing: "refreshing",
	StateCleared:    "cleared",
	StateFailed:     "failed",
}

var regStatesByName = func() map[string]State {
	m := make(map[string]State, len(regStateNames))
	for s, name := range regStateNames {
		m[name] = s
	}
	return m
}()

func (s State) String() string {
	if name, ok := regStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Registered сообщает, действует ли сейчас регистрация.
func (s State) Registered() bool { return s == StateOk || s == StateRefreshing }
