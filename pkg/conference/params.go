package conference

import (
	"time"

	"github.com/arzzra/rtc_engine/pkg/address"
)

// Mode определяет вариант поведения конференции.
type Mode int

const (
	// ModeBasic - клиентская конференция без локального микширования
	ModeBasic Mode = iota
	// ModeMixing - конференция с локальным микшером медиапотоков
	ModeMixing
	// ModeHosting - серверная конференция с поддержкой нескольких
	// устройств на участника
	ModeHosting
)

func (m Mode) String() string {
	switch m {
	case ModeBasic:
		return "basic"
	case ModeMixing:
		return "mixing"
	case ModeHosting:
		return "hosting"
	default:
		return "unknown"
	}
}

// Role роль участника конференции.
type Role int

const (
	// RoleUnknown - роль не назначена
	RoleUnknown Role = iota
	// RoleSpeaker - участник может отправлять медиа
	RoleSpeaker
	// RoleListener - участник только принимает медиа
	RoleListener
)

func (r Role) String() string {
	switch r {
	case RoleSpeaker:
		return "speaker"
	case RoleListener:
		return "listener"
	default:
		return "unknown"
	}
}

// SecurityLevel уровень защиты конференции.
type SecurityLevel int

const (
	SecurityNone SecurityLevel = iota
	SecurityPointToPoint
	SecurityEndToEnd
)

// JoiningMode режим допуска участников.
type JoiningMode int

const (
	// JoiningDialIn - участники звонят в конференцию сами
	JoiningDialIn JoiningMode = iota
	// JoiningDialOut - конференция обзванивает участников
	JoiningDialOut
)

// InvitedInfo запись списка приглашенных: адрес и желаемая роль.
// Пустой список означает, что роли назначаются по умолчанию.
type InvitedInfo struct {
	Addr *address.Address
	Role Role
}

// Params параметры конференции. Фиксируются при создании,
// изменяемым остается только Subject.
type Params struct {
	// AudioEnabled/VideoEnabled/ChatEnabled - доступные виды медиа
	AudioEnabled bool
	VideoEnabled bool
	ChatEnabled  bool

	Security SecurityLevel
	Joining  JoiningMode

	// Subject отображаемое имя конференции
	Subject string

	// StartTime/EndTime расписание; нулевые значения означают
	// немедленное начало без ограничения длительности
	StartTime time.Time
	EndTime   time.Time

	// HideParticipantList скрывает список участников от не-админов
	HideParticipantList bool

	// OneParticipantAllowed разрешает конференции существовать с
	// единственным участником и отключает схлопывание в прямой звонок
	OneParticipantAllowed bool
}

// Clone возвращает независимую копию параметров.
func (p *Params) Clone() *Params {
	cp := *p
	return &cp
}
