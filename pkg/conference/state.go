package conference

// State состояние жизненного цикла конференции.
type State int

const (
	// StateInstantiated - объект создан, протокольное создание не начато
	StateInstantiated State = iota
	// StateCreationPending - создание конференции идет
	StateCreationPending
	// StateCreated - конференция активна
	StateCreated
	// StateCreationFailed - создание не удалось
	StateCreationFailed
	// StateTerminationPending - завершение конференции идет
	StateTerminationPending
	// StateTerminated - конференция завершена, регистрация снята
	StateTerminated
	// StateDeleted - объект освобожден; допускается только повторная
	// инстанциация для переиспользования объекта
	StateDeleted
)

var confStateNames = map[State]string{
	StateInstantiated:       "instantiated",
	StateCreationPending:    "creation_pending",
	StateCreated:            "created",
	StateCreationFailed:     "creation_failed",
	StateTerminationPending: "termination_pending",
	StateTerminated:         "terminated",
	StateDeleted:            "deleted",
}

var confStatesByName = func() map[string]State {
	m := make(map[string]State, len(confStateNames))
	for s, name := range confStateNames {
		m[name] = s
	}
	return m
}()

func (s State) String() string {
	if name, ok := confStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// DeviceState состояние устройства участника.
type DeviceState int

const (
	// DeviceScheduledForJoining - устройство приглашено, присоединение
	// еще не начато; сессии может не быть
	DeviceScheduledForJoining DeviceState = iota
	// DeviceJoining - присоединение идет
	DeviceJoining
	// DeviceAlerting - сессия устройства звонит
	DeviceAlerting
	// DevicePresent - устройство в конференции
	DevicePresent
	// DeviceOnHold - устройство на паузе
	DeviceOnHold
	// DeviceScheduledForLeaving - отключение запланировано
	DeviceScheduledForLeaving
	// DeviceLeft - устройство покинуло конференцию
	DeviceLeft
)

var deviceStateNames = map[DeviceState]string{
	DeviceScheduledForJoining: "scheduled_for_joining",
	DeviceJoining:             "joining",
	DeviceAlerting:            "alerting",
	DevicePresent:             "present",
	DeviceOnHold:              "on_hold",
	DeviceScheduledForLeaving: "scheduled_for_leaving",
	DeviceLeft:                "left",
}

var deviceStatesByName = func() map[string]DeviceState {
	m := make(map[string]DeviceState, len(deviceStateNames))
	for s, name := range deviceStateNames {
		m[name] = s
	}
	return m
}()

func (s DeviceState) String() string {
	if name, ok := deviceStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Active сообщает, считается ли устройство активным в конференции.
func (s DeviceState) Active() bool {
	switch s {
	case DeviceJoining, DeviceAlerting, DevicePresent, DeviceOnHold:
		return true
	default:
		return false
	}
}
