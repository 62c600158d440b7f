package conference

import (
	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// NotificationKind вид уведомления о событии конференции.
type NotificationKind int

const (
	NotifyParticipantAdded NotificationKind = iota
	NotifyParticipantRemoved
	NotifyParticipantAdminChanged
	NotifyDeviceAdded
	NotifyDeviceRemoved
	NotifyDeviceStateChanged
	NotifyDeviceMediaChanged
	NotifySubjectChanged
	NotifyAvailableMediaChanged
)

var notifyNames = map[NotificationKind]string{
	NotifyParticipantAdded:        "participant_added",
	NotifyParticipantRemoved:      "participant_removed",
	NotifyParticipantAdminChanged: "participant_admin_changed",
	NotifyDeviceAdded:             "device_added",
	NotifyDeviceRemoved:           "device_removed",
	NotifyDeviceStateChanged:      "device_state_changed",
	NotifyDeviceMediaChanged:      "device_media_changed",
	NotifySubjectChanged:          "subject_changed",
	NotifyAvailableMediaChanged:   "available_media_changed",
}

func (k NotificationKind) String() string {
	if name, ok := notifyNames[k]; ok {
		return name
	}
	return "unknown"
}

// removal сообщает, описывает ли уведомление удаление из конференции.
func (k NotificationKind) removal() bool {
	return k == NotifyParticipantRemoved || k == NotifyDeviceRemoved
}

// Notification событие конференции с порядковым номером. Номер строго
// возрастает на единицу с каждым разосланным уведомлением.
type Notification struct {
	Kind NotificationKind
	Seq  uint32

	// FullState уведомление несет полный снимок состояния конференции,
	// а не приращение. Выставляется рассылающей стороной.
	FullState bool

	// Participant адрес участника, к которому относится событие
	Participant *address.Address
	// Device адрес устройства, если событие касается устройства
	Device *address.Address
	// Subject новая тема, для NotifySubjectChanged
	Subject string
	// Media типы потоков устройства после изменения возможностей,
	// для NotifyDeviceMediaChanged
	Media []signal.MediaType
}

// Notifier получатель уведомлений конференции.
type Notifier interface {
	OnConferenceNotify(c *Conference, n Notification)
}

// NotifierFunc адаптер функции к интерфейсу Notifier.
type NotifierFunc func(c *Conference, n Notification)

func (f NotifierFunc) OnConferenceNotify(c *Conference, n Notification) { f(c, n) }
