package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/session"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

type recordingNotifier struct {
	events []Notification
}

func (r *recordingNotifier) OnConferenceNotify(_ *Conference, n Notification) {
	r.events = append(r.events, n)
}

func (r *recordingNotifier) kinds() []NotificationKind {
	out := make([]NotificationKind, len(r.events))
	for i, n := range r.events {
		out[i] = n.Kind
	}
	return out
}

func (r *recordingNotifier) count(kind NotificationKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type mapResolver map[string]*session.Session

func (m mapResolver) SessionByCallID(callID string) *session.Session { return m[callID] }

func newTestConference(t *testing.T, params *Params, invited []InvitedInfo) (*Conference, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	conf, err := New(Config{
		Local:    address.MustParse("sip:me@example.com"),
		Peer:     address.MustParse("sip:focus@example.com"),
		Mode:     ModeHosting,
		Params:   params,
		Invited:  invited,
		Notifier: notifier,
	})
	require.NoError(t, err)
	return conf, notifier
}

func connectedSession(t *testing.T, callID, local, remote string) *session.Session {
	t.Helper()
	s := session.NewOutgoing(callID, address.MustParse(local), address.MustParse(remote))
	require.NoError(t, s.HandleProgress())
	require.NoError(t, s.HandleRinging())
	require.NoError(t, s.HandleAccepted())
	require.Equal(t, session.StateConnected, s.State())
	return s
}

func TestAssignRole(t *testing.T) {
	alice := address.MustParse("sip:alice@example.com")
	bob := address.MustParse("sip:bob@example.com")
	carol := address.MustParse("sip:carol@example.com")

	tests := []struct {
		name    string
		invited []InvitedInfo
		joining *address.Address
		want    Role
	}{
		{
			name:    "пустой шаблон дает Speaker",
			invited: nil,
			joining: alice,
			want:    RoleSpeaker,
		},
		{
			name:    "совпадение дает роль из шаблона",
			invited: []InvitedInfo{{Addr: alice, Role: RoleListener}},
			joining: alice,
			want:    RoleListener,
		},
		{
			name:    "совпадение с Unknown дает Speaker",
			invited: []InvitedInfo{{Addr: alice, Role: RoleUnknown}},
			joining: alice,
			want:    RoleSpeaker,
		},
		{
			name: "без совпадения и с Listener в шаблоне дает Listener",
			invited: []InvitedInfo{
				{Addr: alice, Role: RoleSpeaker},
				{Addr: bob, Role: RoleListener},
			},
			joining: carol,
			want:    RoleListener,
		},
		{
			name: "без совпадения и без Listener дает Speaker",
			invited: []InvitedInfo{
				{Addr: alice, Role: RoleSpeaker},
				{Addr: bob, Role: RoleSpeaker},
			},
			joining: carol,
			want:    RoleSpeaker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, _ := newTestConference(t, nil, tt.invited)
			assert.Equal(t, tt.want, conf.assignRole(tt.joining))
		})
	}
}

func TestConferenceLifecycle(t *testing.T) {
	conf, _ := newTestConference(t, nil, nil)
	assert.Equal(t, StateInstantiated, conf.State())

	var terminated *Conference
	conf.OnTerminated(func(c *Conference) { terminated = c })

	require.NoError(t, conf.BeginCreation())
	assert.Equal(t, StateCreationPending, conf.State())
	require.NoError(t, conf.ConfirmCreation())
	assert.Equal(t, StateCreated, conf.State())

	require.NoError(t, conf.Terminate())
	assert.Equal(t, StateDeleted, conf.State())
	assert.Same(t, conf, terminated)
	assert.False(t, conf.MeJoined())

	// переиспользование объекта после удаления
	require.NoError(t, conf.Reinstantiate())
	assert.Equal(t, StateInstantiated, conf.State())
	assert.Zero(t, conf.LastNotify())
	assert.True(t, conf.MeJoined())
}

func TestConferenceShutdownSkipsHook(t *testing.T) {
	conf, _ := newTestConference(t, nil, nil)
	hookCalled := false
	conf.OnTerminated(func(*Conference) { hookCalled = true })

	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	conf.SetShuttingDown(true)
	require.NoError(t, conf.Terminate())

	assert.Equal(t, StateDeleted, conf.State())
	assert.False(t, hookCalled)
}

func TestCreationFailed(t *testing.T) {
	conf, _ := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.FailCreation())
	assert.Equal(t, StateCreationFailed, conf.State())

	require.NoError(t, conf.Terminate())
	assert.Equal(t, StateDeleted, conf.State())
}

func TestNotificationSequence(t *testing.T) {
	conf, notifier := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	_, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	conf.SetSubject("планерка")

	require.NotEmpty(t, notifier.events)
	for i, n := range notifier.events {
		assert.Equal(t, uint32(i+1), n.Seq, "номера строго возрастают на единицу")
	}
}

func TestRemovalNotificationSuppressedWhileTerminating(t *testing.T) {
	conf, notifier := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	for _, u := range []string{"sip:a@example.com", "sip:b@example.com", "sip:c@example.com"} {
		_, err := conf.AddParticipant(address.MustParse(u))
		require.NoError(t, err)
	}
	seqBefore := conf.LastNotify()

	require.NoError(t, conf.Terminate())

	assert.Zero(t, notifier.count(NotifyParticipantRemoved))
	assert.Zero(t, notifier.count(NotifyDeviceRemoved))
	assert.Equal(t, seqBefore, conf.LastNotify(),
		"удаления при завершении не двигают порядковый номер")
	assert.Equal(t, StateDeleted, conf.State())
}

func TestOneToOneCollapse(t *testing.T) {
	aliceSess := connectedSession(t, "call-alice", "sip:me@example.com", "sip:alice@example.com")
	bobSess := connectedSession(t, "call-bob", "sip:me@example.com", "sip:bob@example.com")
	sessions := mapResolver{"call-alice": aliceSess, "call-bob": bobSess}

	notifier := &recordingNotifier{}
	conf, err := New(Config{
		Local:    address.MustParse("sip:me@example.com"),
		Peer:     address.MustParse("sip:focus@example.com"),
		Mode:     ModeHosting,
		Sessions: sessions,
		Notifier: notifier,
	})
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	alice.SetPreserveSession(true)
	_, err = conf.AddDevice(alice, address.MustParse("sip:alice@pc;gr=a1"), "call-alice")
	require.NoError(t, err)

	bob, err := conf.AddParticipant(address.MustParse("sip:bob@example.com"))
	require.NoError(t, err)
	bob.SetPreserveSession(true)
	_, err = conf.AddDevice(bob, address.MustParse("sip:bob@pc;gr=b1"), "call-bob")
	require.NoError(t, err)

	// уход предпоследнего участника схлопывает конференцию
	conf.RemoveParticipant(bob, true)

	assert.Equal(t, StateDeleted, conf.State())
	assert.Zero(t, conf.ParticipantCount())
	assert.False(t, conf.MeJoined())

	// сессия выжившего участника отвязана, но не разорвана
	assert.Equal(t, session.StateConnected, aliceSess.State(),
		"прямой звонок продолжается вне конференции")
	assert.Equal(t, session.StateEnd, bobSess.State())
}

func TestOneParticipantAllowedDisablesCollapse(t *testing.T) {
	aliceSess := connectedSession(t, "call-alice", "sip:me@example.com", "sip:alice@example.com")
	bobSess := connectedSession(t, "call-bob", "sip:me@example.com", "sip:bob@example.com")
	sessions := mapResolver{"call-alice": aliceSess, "call-bob": bobSess}

	conf, err := New(Config{
		Local:    address.MustParse("sip:me@example.com"),
		Peer:     address.MustParse("sip:focus@example.com"),
		Mode:     ModeHosting,
		Params:   &Params{AudioEnabled: true, OneParticipantAllowed: true},
		Sessions: sessions,
		Notifier: &recordingNotifier{},
	})
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	alice.SetPreserveSession(true)
	_, err = conf.AddDevice(alice, address.MustParse("sip:alice@pc"), "call-alice")
	require.NoError(t, err)

	bob, err := conf.AddParticipant(address.MustParse("sip:bob@example.com"))
	require.NoError(t, err)
	_, err = conf.AddDevice(bob, address.MustParse("sip:bob@pc"), "call-bob")
	require.NoError(t, err)

	conf.RemoveParticipant(bob, true)

	assert.Equal(t, StateCreated, conf.State(),
		"конференция с одним участником продолжает жить")
	assert.Equal(t, 1, conf.ParticipantCount())
}

func TestDeviceMergeOnContactChange(t *testing.T) {
	conf, notifier := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)

	oldDev, err := conf.AddDevice(alice, address.MustParse("sip:alice@old-host"), "call-1")
	require.NoError(t, err)
	oldDev.SetSubscription("sub-1")
	newDev, err := conf.AddDevice(alice, address.MustParse("sip:alice@new-host"), "call-2")
	require.NoError(t, err)

	notifier.events = nil
	conf.DeviceContactChanged(alice, oldDev, address.MustParse("sip:alice@new-host"))

	assert.Equal(t, 1, notifier.count(NotifyDeviceRemoved))
	assert.Equal(t, 1, notifier.count(NotifyDeviceMediaChanged))
	assert.Zero(t, notifier.count(NotifyDeviceAdded), "слияние не выглядит как новый вход")
	assert.Len(t, alice.Devices(), 1)
	assert.Equal(t, "sub-1", newDev.Subscription(), "подписка переносится на выжившее устройство")
}

func TestDevicePresenceGating(t *testing.T) {
	conf, notifier := newTestConference(t, nil, nil)
	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	dev, err := conf.AddDevice(alice, address.MustParse("sip:alice@pc"), "call-1")
	require.NoError(t, err)

	media := map[signal.MediaType]signal.MediaDirection{
		signal.MediaAudio: signal.DirectionSendRecv,
	}

	// до создания конференции перевод не выполняется
	assert.False(t, conf.UpdateDevicePresence(alice, dev, DevicePresent, media))
	assert.Equal(t, DeviceScheduledForJoining, dev.State())

	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	conf.DeviceJoining(dev)

	assert.True(t, conf.UpdateDevicePresence(alice, dev, DevicePresent, media))
	assert.Equal(t, DevicePresent, dev.State())
	assert.True(t, conf.MediaAvailable(signal.MediaAudio))

	// повтор без изменений отбрасывается
	notifier.events = nil
	assert.False(t, conf.UpdateDevicePresence(alice, dev, DevicePresent, media))
	assert.Empty(t, notifier.events)

	// пауза и возврат
	assert.True(t, conf.UpdateDevicePresence(alice, dev, DeviceOnHold, media))
	assert.Equal(t, DeviceOnHold, dev.State())
	assert.True(t, conf.UpdateDevicePresence(alice, dev, DevicePresent, media))
	assert.Equal(t, DevicePresent, dev.State())
}

func TestMediaChangedNotificationCarriesStreamTypes(t *testing.T) {
	conf, notifier := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	dev, err := conf.AddDevice(alice, address.MustParse("sip:alice@pc"), "call-1")
	require.NoError(t, err)
	conf.DeviceJoining(dev)

	notifier.events = nil
	require.True(t, conf.UpdateDevicePresence(alice, dev, DevicePresent,
		map[signal.MediaType]signal.MediaDirection{
			signal.MediaVideo: signal.DirectionSendRecv,
			signal.MediaAudio: signal.DirectionSendRecv,
		}))

	var got *Notification
	for i := range notifier.events {
		if notifier.events[i].Kind == NotifyDeviceMediaChanged {
			got = &notifier.events[i]
		}
	}
	require.NotNil(t, got)
	// набор типов упорядочен детерминированно независимо от порядка карты
	assert.Equal(t, []signal.MediaType{signal.MediaAudio, signal.MediaVideo}, got.Media)
}

func TestDeviceAlertingPath(t *testing.T) {
	conf, _ := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	dev, err := conf.AddDevice(alice, address.MustParse("sip:alice@pc"), "call-1")
	require.NoError(t, err)

	conf.DeviceJoining(dev)
	assert.Equal(t, DeviceJoining, dev.State())
	conf.DeviceAlerting(dev)
	assert.Equal(t, DeviceAlerting, dev.State())

	media := map[signal.MediaType]signal.MediaDirection{
		signal.MediaAudio: signal.DirectionSendRecv,
	}
	assert.True(t, conf.UpdateDevicePresence(alice, dev, DevicePresent, media))
	assert.Equal(t, DevicePresent, dev.State())
	assert.False(t, dev.JoinedAt().IsZero())
}

func TestAdminPromotion(t *testing.T) {
	conf, _ := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	assert.True(t, alice.IsAdmin(), "первый участник становится администратором")

	bob, err := conf.AddParticipant(address.MustParse("sip:bob@example.com"))
	require.NoError(t, err)
	carol, err := conf.AddParticipant(address.MustParse("sip:carol@example.com"))
	require.NoError(t, err)
	assert.False(t, bob.IsAdmin())

	conf.RemoveParticipant(alice, false)
	assert.True(t, bob.IsAdmin(), "после ухода администратора продвигается первый оставшийся")
	assert.False(t, carol.IsAdmin())
}

func TestSetParticipantAdminKeepsRole(t *testing.T) {
	conf, notifier := newTestConference(t, nil, []InvitedInfo{
		{Addr: address.MustParse("sip:alice@example.com"), Role: RoleListener},
	})
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	require.Equal(t, RoleListener, alice.Role())

	notifier.events = nil
	conf.SetParticipantAdmin(alice, false)
	assert.Equal(t, 1, notifier.count(NotifyParticipantAdminChanged))
	assert.Equal(t, RoleListener, alice.Role(), "смена админ-статуса не меняет роль")

	// повтор без изменения статуса не уведомляет
	conf.SetParticipantAdmin(alice, false)
	assert.Equal(t, 1, notifier.count(NotifyParticipantAdminChanged))
}

func TestRemoveLastDeviceRemovesParticipant(t *testing.T) {
	conf, notifier := newTestConference(t, nil, nil)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	alice, err := conf.AddParticipant(address.MustParse("sip:alice@example.com"))
	require.NoError(t, err)
	dev, err := conf.AddDevice(alice, address.MustParse("sip:alice@pc"), "call-1")
	require.NoError(t, err)

	conf.RemoveDevice(alice, dev, "departed", "bye")

	assert.Equal(t, DeviceLeft, dev.State())
	assert.Empty(t, dev.SessionID())
	require.NotNil(t, dev.Disconnect())
	assert.Equal(t, "departed", dev.Disconnect().Method)
	assert.Zero(t, conf.ParticipantCount())
	assert.Equal(t, 1, notifier.count(NotifyParticipantRemoved))
}
