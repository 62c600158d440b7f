package conference

import (
	"context"
	"sort"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// События переходов автомата устройства.
const (
	devStartJoin     = "start_join"
	devAlert         = "alert"
	devJoin          = "join"
	devHold          = "hold"
	devUnhold        = "unhold"
	devScheduleLeave = "schedule_leave"
	devLeave         = "leave"
)

// DisconnectInfo метаданные отключения устройства.
type DisconnectInfo struct {
	// Method способ отключения: departed, booted, failed
	Method string
	// Reason текстовая причина
	Reason string
	// At момент отключения
	At time.Time
}

// ParticipantDevice конкретное устройство участника. Связь с сессией
// хранится слабой ссылкой: идентификатором вызова, разрешаемым через
// реестр. Устройство не владеет сессией и не управляет ее временем жизни.
type ParticipantDevice struct {
	addr      *address.Address
	sessionID string

	machine *fsm.FSM

	// media согласованные направления потоков устройства
	media map[signal.MediaType]signal.MediaDirection
	// ssrc идентификаторы синхронизации потоков
	ssrc map[signal.MediaType]uint32
	// labels метки потоков, включая метку трансляции экрана
	labels      map[signal.MediaType]string
	screenShare bool

	// subscription непрозрачный дескриптор подписки на события
	// устройства; при слиянии устройств переносится на выжившее
	subscription any

	joinedAt   time.Time
	disconnect *DisconnectInfo

	onState func(d *ParticipantDevice, from, to DeviceState)
}

func newDevice(addr *address.Address, sessionID string) *ParticipantDevice {
	d := &ParticipantDevice{
		addr:      addr,
		sessionID: sessionID,
		media:     make(map[signal.MediaType]signal.MediaDirection),
		ssrc:      make(map[signal.MediaType]uint32),
		labels:    make(map[signal.MediaType]string),
	}
	d.machine = fsm.NewFSM(
		DeviceScheduledForJoining.String(),
		fsm.Events{
			{Name: devStartJoin, Src: []string{DeviceScheduledForJoining.String()}, Dst: DeviceJoining.String()},
			{Name: devAlert, Src: []string{DeviceJoining.String()}, Dst: DeviceAlerting.String()},
			{Name: devJoin, Src: []string{
				DeviceScheduledForJoining.String(),
				DeviceJoining.String(),
				DeviceAlerting.String(),
				DeviceOnHold.String(),
			}, Dst: DevicePresent.String()},
			{Name: devHold, Src: []string{
				DeviceJoining.String(),
				DeviceAlerting.String(),
				DevicePresent.String(),
			}, Dst: DeviceOnHold.String()},
			{Name: devUnhold, Src: []string{DeviceOnHold.String()}, Dst: DevicePresent.String()},
			{Name: devScheduleLeave, Src: []string{
				DeviceScheduledForJoining.String(),
				DeviceJoining.String(),
				DeviceAlerting.String(),
				DevicePresent.String(),
				DeviceOnHold.String(),
			}, Dst: DeviceScheduledForLeaving.String()},
			{Name: devLeave, Src: []string{DeviceScheduledForLeaving.String()}, Dst: DeviceLeft.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if d.onState != nil && e.Src != e.Dst {
					d.onState(d, deviceStatesByName[e.Src], deviceStatesByName[e.Dst])
				}
			},
		},
	)
	return d
}

// Address адрес устройства (контакт с gruu, если есть).
func (d *ParticipantDevice) Address() *address.Address { return d.addr }

// SessionID идентификатор вызова сессии устройства. Пустая строка
// означает, что сессия еще не установлена.
func (d *ParticipantDevice) SessionID() string { return d.sessionID }

// BindSession привязывает устройство к сессии по идентификатору вызова.
func (d *ParticipantDevice) BindSession(callID string) { d.sessionID = callID }

// State текущее состояние устройства.
func (d *ParticipantDevice) State() DeviceState {
	return deviceStatesByName[d.machine.Current()]
}

// JoinedAt момент входа устройства в конференцию.
func (d *ParticipantDevice) JoinedAt() time.Time { return d.joinedAt }

// Disconnect метаданные отключения, nil пока устройство не отключалось.
func (d *ParticipantDevice) Disconnect() *DisconnectInfo { return d.disconnect }

// SetDisconnect фиксирует способ и причину отключения.
func (d *ParticipantDevice) SetDisconnect(method, reason string) {
	d.disconnect = &DisconnectInfo{Method: method, Reason: reason, At: time.Now()}
}

// Subscription дескриптор подписки на события устройства.
func (d *ParticipantDevice) Subscription() any { return d.subscription }

// SetSubscription сохраняет дескриптор подписки.
func (d *ParticipantDevice) SetSubscription(sub any) { d.subscription = sub }

// MediaDirection согласованное направление потока заданного типа.
func (d *ParticipantDevice) MediaDirection(mt signal.MediaType) signal.MediaDirection {
	return d.media[mt]
}

// SSRC идентификатор синхронизации потока, 0 если не назначен.
func (d *ParticipantDevice) SSRC(mt signal.MediaType) uint32 { return d.ssrc[mt] }

// SetSSRC назначает идентификатор синхронизации потока.
func (d *ParticipantDevice) SetSSRC(mt signal.MediaType, ssrc uint32) { d.ssrc[mt] = ssrc }

// StreamLabel метка потока заданного типа.
func (d *ParticipantDevice) StreamLabel(mt signal.MediaType) string { return d.labels[mt] }

// SetStreamLabel назначает метку потока.
func (d *ParticipantDevice) SetStreamLabel(mt signal.MediaType, label string) {
	d.labels[mt] = label
}

// ScreenSharing сообщает, транслирует ли устройство экран.
func (d *ParticipantDevice) ScreenSharing() bool { return d.screenShare }

// SetScreenSharing отмечает трансляцию экрана устройством.
func (d *ParticipantDevice) SetScreenSharing(on bool) { d.screenShare = on }

// updateMedia применяет новый набор направлений потоков и сообщает,
// изменился ли он. Повторная публикация того же набора не считается
// изменением и не порождает уведомлений.
func (d *ParticipantDevice) updateMedia(media map[signal.MediaType]signal.MediaDirection) bool {
	if mediaEqual(d.media, media) {
		return false
	}
	d.media = make(map[signal.MediaType]signal.MediaDirection, len(media))
	for mt, dir := range media {
		d.media[mt] = dir
	}
	return true
}

func mediaEqual(a, b map[signal.MediaType]signal.MediaDirection) bool {
	if len(a) != len(b) {
		return false
	}
	for mt, dir := range a {
		if b[mt] != dir {
			return false
		}
	}
	return true
}

// mediaTypes возвращает отсортированный список типов потоков устройства.
func (d *ParticipantDevice) mediaTypes() []signal.MediaType {
	types := make([]signal.MediaType, 0, len(d.media))
	for mt := range d.media {
		types = append(types, mt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (d *ParticipantDevice) fire(event string) bool {
	if err := d.machine.Event(context.Background(), event); err != nil {
		return false
	}
	return true
}
