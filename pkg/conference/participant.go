package conference

import (
	"time"

	"github.com/arzzra/rtc_engine/pkg/address"
)

// Participant участник конференции. Один участник может владеть
// несколькими устройствами; порядок устройств сохраняется в порядке
// добавления.
type Participant struct {
	addr *address.Address
	role Role

	// admin дает право управлять конференцией; не связано с ролью
	admin bool
	// focus отмечает фокус-участника серверной конференции
	focus bool
	// preserveSession требует сохранить сессию участника при
	// схлопывании конференции в прямой звонок
	preserveSession bool

	devices []*ParticipantDevice

	createdAt time.Time
}

func newParticipant(addr *address.Address, role Role) *Participant {
	return &Participant{
		addr:      addr,
		role:      role,
		createdAt: time.Now(),
	}
}

// Address адрес участника.
func (p *Participant) Address() *address.Address { return p.addr }

// Role роль участника. Назначается при добавлении и далее не меняется.
func (p *Participant) Role() Role { return p.role }

// IsAdmin сообщает, является ли участник администратором.
func (p *Participant) IsAdmin() bool { return p.admin }

// IsFocus сообщает, является ли участник фокусом конференции.
func (p *Participant) IsFocus() bool { return p.focus }

// PreserveSession сообщает, надо ли сохранять сессию участника при
// схлопывании конференции в прямой звонок.
func (p *Participant) PreserveSession() bool { return p.preserveSession }

// SetPreserveSession выставляет признак сохранения сессии.
func (p *Participant) SetPreserveSession(v bool) { p.preserveSession = v }

// Devices устройства участника в порядке добавления.
func (p *Participant) Devices() []*ParticipantDevice {
	out := make([]*ParticipantDevice, len(p.devices))
	copy(out, p.devices)
	return out
}

// FindDevice ищет устройство по адресу (нестрогое сравнение).
func (p *Participant) FindDevice(addr *address.Address) *ParticipantDevice {
	for _, d := range p.devices {
		if d.addr.WeakEqual(addr) {
			return d
		}
	}
	return nil
}

// FindDeviceBySession ищет устройство по идентификатору вызова.
func (p *Participant) FindDeviceBySession(callID string) *ParticipantDevice {
	if callID == "" {
		return nil
	}
	for _, d := range p.devices {
		if d.sessionID == callID {
			return d
		}
	}
	return nil
}

func (p *Participant) addDevice(d *ParticipantDevice) {
	p.devices = append(p.devices, d)
}

func (p *Participant) removeDevice(d *ParticipantDevice) bool {
	for i, cur := range p.devices {
		if cur == d {
			p.devices = append(p.devices[:i], p.devices[i+1:]...)
			return true
		}
	}
	return false
}
