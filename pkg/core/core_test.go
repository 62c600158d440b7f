package core

import (
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtc_engine/pkg/account"
	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/call"
	"github.com/arzzra/rtc_engine/pkg/conference"
	"github.com/arzzra/rtc_engine/pkg/session"
	"github.com/arzzra/rtc_engine/pkg/signal"
	"github.com/arzzra/rtc_engine/pkg/signal/mocksignal"
)

func newTestCore(t *testing.T, cfg *Config, hooks Hooks) *Core {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(Options{
		Local:      address.MustParse("sip:me@example.com"),
		Config:     cfg,
		DB:         db,
		Hooks:      hooks,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	return c
}

func inviteTx(callID, from string) *mocksignal.Transaction {
	return mocksignal.New(callID,
		address.MustParse(from),
		address.MustParse("sip:me@example.com"))
}

func TestServiceUnavailableGuard(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	c.Shutdown()

	tx := inviteTx("call-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	reason, ok := tx.LastReply()
	require.True(t, ok)
	assert.Equal(t, signal.ReasonServiceUnavailable, reason)
	assert.True(t, tx.Released())
	assert.Zero(t, c.Registry().CallCount())
}

func TestIncomingCallCreatesSession(t *testing.T) {
	var gotKind IncomingKind
	var gotCall *call.Call
	c := newTestCore(t, nil, Hooks{
		OnIncomingCall: func(cl *call.Call, kind IncomingKind) {
			gotCall = cl
			gotKind = kind
		},
	})

	tx := inviteTx("call-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	require.NotNil(t, gotCall)
	assert.Equal(t, IncomingPlainCall, gotKind)
	assert.Equal(t, session.StateIncoming, gotCall.Session().State())
	assert.Equal(t, 1, c.Registry().CallCount())
	assert.Same(t, gotCall.Session(), tx.Owner())
}

func TestDuplicateDeclinedIsRedeclined(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	require.NoError(t, c.Logs().Append(&call.Log{
		CallID:  "call-x",
		Outcome: call.OutcomeDeclined,
	}))

	tx := inviteTx("call-x", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	reason, ok := tx.LastReply()
	require.True(t, ok)
	assert.Equal(t, signal.ReasonDeclined, reason)
	assert.True(t, tx.Released())
	assert.Zero(t, c.Registry().CallCount(), "сессия для повтора не создается")
}

func TestSelfCallRejectedWithBusy(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	out := session.NewOutgoing("out-1",
		address.MustParse("sip:me@example.com"),
		address.MustParse("sip:alice@example.com"))
	c.Registry().AddCall(call.New(out, out.LocalAddress(), out.RemoteAddress()))

	tx := inviteTx("in-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	reason, ok := tx.LastReply()
	require.True(t, ok)
	assert.Equal(t, signal.ReasonBusy, reason)

	// ранняя неудача попадает в журнал, хотя вызова не было
	entry, err := c.Logs().FindByCallID("in-1", 0)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, call.OutcomeEarlyFailed, entry.Outcome)
}

func TestForkedLegSharingCallIDNotRejected(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	out := session.NewOutgoing("fork-1",
		address.MustParse("sip:me@example.com"),
		address.MustParse("sip:alice@example.com"))
	c.Registry().AddCall(call.New(out, out.LocalAddress(), out.RemoteAddress()))

	// плечо с тем же идентификатором вызова отбрасывается молча
	tx := inviteTx("fork-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	_, replied := tx.LastReply()
	assert.False(t, replied, "разветвленное плечо не отклоняется")
}

func TestAssertedIdentityPreferred(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	out := session.NewOutgoing("out-1",
		address.MustParse("sip:me@example.com"),
		address.MustParse("sip:real@example.com"))
	c.Registry().AddCall(call.New(out, out.LocalAddress(), out.RemoteAddress()))

	tx := inviteTx("in-1", "sip:spoofed@example.com")
	tx.Headers[signal.HeaderAssertedIdentity] = "sip:real@example.com"
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	reason, ok := tx.LastReply()
	require.True(t, ok)
	assert.Equal(t, signal.ReasonBusy, reason,
		"атрибуция идет по подтвержденной идентичности")
}

func TestPushIncomingReconfigured(t *testing.T) {
	notified := 0
	c := newTestCore(t, nil, Hooks{
		OnIncomingCall: func(*call.Call, IncomingKind) { notified++ },
	})

	pushed := session.NewPushIncoming("push-1")
	c.Registry().AddCall(call.New(pushed, nil, nil))

	tx := inviteTx("push-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	assert.Equal(t, 1, notified, "уведомление о входящем перезапускается")
	assert.Equal(t, 1, c.Registry().CallCount(), "дубликат не создается")
	assert.Equal(t, session.StateIncoming, pushed.State())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tx *mocksignal.Transaction)
		want  IncomingKind
	}{
		{
			name:  "обычный вызов",
			setup: func(*mocksignal.Transaction) {},
			want:  IncomingPlainCall,
		},
		{
			name: "conf-id в контакте",
			setup: func(tx *mocksignal.Transaction) {
				tx.Contact = address.MustParse("sip:focus@example.com;conf-id=abc")
			},
			want: IncomingConference,
		},
		{
			name: "admin в контакте",
			setup: func(tx *mocksignal.Transaction) {
				tx.Contact = address.MustParse("sip:alice@example.com;admin=1")
			},
			want: IncomingConference,
		},
		{
			name: "маркер диалоговой беседы",
			setup: func(tx *mocksignal.Transaction) {
				tx.Headers[signal.HeaderOneToOneChat] = "true"
			},
			want: IncomingChat,
		},
		{
			name: "составной тип содержимого",
			setup: func(tx *mocksignal.Transaction) {
				tx.Headers[signal.HeaderContentType] = "multipart/mixed; boundary=x"
			},
			want: IncomingChat,
		},
		{
			name: "маркер эфемерной беседы",
			setup: func(tx *mocksignal.Transaction) {
				tx.Headers[signal.HeaderEphemeralMode] = "86400"
			},
			want: IncomingChat,
		},
	}
	c := newTestCore(t, nil, Hooks{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := inviteTx("c-"+tt.name, "sip:alice@example.com")
			tt.setup(tx)
			assert.Equal(t, tt.want, c.classifyIncoming(tx))
		})
	}
}

func TestConferenceJoinByConfID(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	conf, err := c.CreateConference(
		&conference.Params{AudioEnabled: true},
		conference.ModeHosting, nil)
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	confID, ok := conf.FocusAddress().Param(signal.URIParamConfID)
	require.True(t, ok)

	tx := inviteTx("join-1", "sip:alice@example.com")
	tx.Contact = address.MustParse("sip:alice@pc;conf-id=" + confID)
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	require.Equal(t, 1, conf.ParticipantCount())
	p := conf.Participants()[0]
	require.Len(t, p.Devices(), 1)
	assert.Equal(t, "join-1", p.Devices()[0].SessionID())

	cl, ok := c.Registry().Call("join-1")
	require.True(t, ok)
	assert.Equal(t, conf.FocusAddress().URI(), cl.Conference())
}

func TestConferenceNotificationsReachApplication(t *testing.T) {
	var events []conference.Notification
	var sources []*conference.Conference
	c := newTestCore(t, nil, Hooks{
		OnConferenceEvent: func(conf *conference.Conference, n conference.Notification) {
			events = append(events, n)
			sources = append(sources, conf)
		},
	})

	conf, err := c.CreateConference(
		&conference.Params{AudioEnabled: true},
		conference.ModeHosting, nil)
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())

	confID, ok := conf.FocusAddress().Param(signal.URIParamConfID)
	require.True(t, ok)
	tx := inviteTx("notif-1", "sip:alice@example.com")
	tx.Contact = address.MustParse("sip:alice@pc;conf-id=" + confID)
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	require.NotEmpty(t, events)
	for i, n := range events {
		// номера строго возрастают на единицу с каждой рассылкой
		assert.Equal(t, uint32(i+1), n.Seq)
		// по умолчанию каждая рассылка несет полный снимок состояния
		assert.True(t, n.FullState)
		assert.Same(t, conf, sources[i])
	}
}

func TestIncrementalNotificationsWhenFullStateDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FullStateNotifications = false

	var events []conference.Notification
	c := newTestCore(t, cfg, Hooks{
		OnConferenceEvent: func(_ *conference.Conference, n conference.Notification) {
			events = append(events, n)
		},
	})

	conf, err := c.CreateConference(
		&conference.Params{AudioEnabled: true},
		conference.ModeHosting, nil)
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	conf.SetSubject("планерка")

	require.NotEmpty(t, events)
	for _, n := range events {
		assert.False(t, n.FullState)
	}
}

func TestEphemeralChatLifetimePersisted(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	tx := inviteTx("chat-eph", "sip:alice@example.com")
	tx.Headers[signal.HeaderEphemeralMode] = "3600"
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	cl, ok := c.Registry().Call("chat-eph")
	require.True(t, ok)
	require.NotEmpty(t, cl.Conference())

	info, err := c.Store().Conference(cl.Conference())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(3600), info.EphemeralLifetime)
	assert.False(t, info.OneToOne)
}

func TestIncomingCallDeclinedWithRedirect(t *testing.T) {
	target := address.MustParse("sip:voicemail@example.com")
	c := newTestCore(t, nil, Hooks{
		OnIncomingCall: func(cl *call.Call, _ IncomingKind) {
			require.NoError(t, cl.Session().DeclineWithRedirect(target))
		},
	})

	tx := inviteTx("fwd-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	cl, ok := c.Registry().Call("fwd-1")
	require.True(t, ok)
	assert.Equal(t, session.StateEnd, cl.Session().State())
	require.Len(t, tx.Redirected, 1)
	assert.True(t, tx.Redirected[0].WeakEqual(target))
}

func TestCallLifecycleThroughDispatcher(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	tx := inviteTx("life-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	cl, ok := c.Registry().Call("life-1")
	require.True(t, ok)
	sess := cl.Session()
	require.NoError(t, sess.Accept())
	assert.Equal(t, session.StateConnected, sess.State())

	c.HandleEvent(signal.Event{Kind: signal.EventCallTerminated, Tx: tx})
	assert.Equal(t, session.StateEnd, sess.State())

	c.HandleEvent(signal.Event{Kind: signal.EventCallReleased, Tx: tx})
	assert.Equal(t, session.StateReleased, sess.State())
	assert.Zero(t, c.Registry().CallCount())

	entry, err := c.Logs().FindByCallID("life-1", 0)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, call.OutcomeSuccess, entry.Outcome)
}

func TestResumeDeferredUntilPauseAcknowledged(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	tx := inviteTx("pause-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})

	cl, ok := c.Registry().Call("pause-1")
	require.True(t, ok)
	sess := cl.Session()
	require.NoError(t, sess.Accept())

	require.NoError(t, sess.Pause())
	require.NoError(t, sess.RequestResume())
	assert.Equal(t, session.StatePausing, sess.State())

	// Подтверждение паузы приходит как accepted; отложенное возобновление
	// выполняется в том же такте обработки
	c.HandleEvent(signal.Event{Kind: signal.EventCallAccepted, Tx: tx})
	assert.Equal(t, session.StateResuming, sess.State())
	assert.False(t, sess.ResumePending())
}

func TestReleasedWithoutSessionIsNoOp(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	tx := inviteTx("ghost-1", "sip:alice@example.com")
	// владелец не прикреплен: сессия уже освобождена
	c.HandleEvent(signal.Event{Kind: signal.EventCallReleased, Tx: tx})
	c.HandleEvent(signal.Event{Kind: signal.EventCallReleased, Tx: tx})

	assert.Zero(t, c.Registry().CallCount())
}

func TestTerminatedDetachesConferenceDevice(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	conf, err := c.CreateConference(
		&conference.Params{AudioEnabled: true, OneParticipantAllowed: true},
		conference.ModeHosting, nil)
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	confID, _ := conf.FocusAddress().Param(signal.URIParamConfID)

	tx := inviteTx("dev-1", "sip:alice@example.com")
	tx.Contact = address.MustParse("sip:alice@pc;conf-id=" + confID)
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})
	require.Equal(t, 1, conf.ParticipantCount())

	// завершение сессии отвязывает устройство на следующем витке
	c.HandleEvent(signal.Event{Kind: signal.EventCallTerminated, Tx: tx})
	assert.Zero(t, conf.ParticipantCount())
}

func TestMessageDeliveryIOErrorDowngraded(t *testing.T) {
	var gotStatus signal.DeliveryStatus
	c := newTestCore(t, nil, Hooks{
		OnMessageDelivery: func(_ string, status signal.DeliveryStatus) { gotStatus = status },
	})

	tx := inviteTx("msg-1", "sip:alice@example.com")
	tx.TxKind = signal.TxMessage
	c.HandleEvent(signal.Event{
		Kind:     signal.EventMessageDelivery,
		Tx:       tx,
		Delivery: signal.DeliveryFailed,
		Err:      &signal.ErrorInfo{Reason: signal.ReasonIOError},
	})
	assert.Equal(t, signal.DeliveryPending, gotStatus,
		"сбой ввода-вывода понижается до ожидания доставки")

	c.HandleEvent(signal.Event{
		Kind:     signal.EventMessageDelivery,
		Tx:       tx,
		Delivery: signal.DeliveryFailed,
		Err:      &signal.ErrorInfo{Reason: signal.ReasonForbidden},
	})
	assert.Equal(t, signal.DeliveryFailed, gotStatus, "прочие сбои окончательны")
}

func TestRegisterEventsRoutedToAccount(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	acc, err := account.New(account.Config{
		Identity: address.MustParse("sip:me@example.com"),
	})
	require.NoError(t, err)
	c.AddAccount(acc)
	require.NoError(t, acc.Register())

	tx := inviteTx("reg-1", "sip:me@example.com")
	tx.TxKind = signal.TxRegister
	tx.SetOwner(acc)

	c.HandleEvent(signal.Event{Kind: signal.EventRegisterSuccess, Tx: tx})
	assert.Equal(t, account.StateOk, acc.State())

	c.HandleEvent(signal.Event{
		Kind: signal.EventRegisterFailure,
		Tx:   tx,
		Err:  &signal.ErrorInfo{Reason: signal.ReasonServiceUnavailable},
	})
	assert.Equal(t, account.StateProgress, acc.State(),
		"недоступность сервиса при действующей регистрации не дает Failed")
}

func TestRedirectIsDeferred(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})

	tx := inviteTx("redir-1", "sip:alice@example.com")
	c.HandleEvent(signal.Event{Kind: signal.EventCallReceived, Tx: tx})
	sess := c.Registry().SessionByCallID("redir-1")
	require.NotNil(t, sess)

	target := address.MustParse("sip:alice@backup.example.com")
	c.HandleEvent(signal.Event{
		Kind:        signal.EventRedirectReceived,
		Tx:          tx,
		ReferTarget: target,
	})

	// отложенное действие выполнено в конце витка
	require.Len(t, tx.Redirected, 1)
	assert.True(t, tx.Redirected[0].Equal(target))
}

func TestDeferredTasksRunInFIFOOrder(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	var order []int
	c.Defer("первое", func() { order = append(order, 1) })
	c.Defer("второе", func() { order = append(order, 2) })
	c.Defer("третье", func() { order = append(order, 3) })

	// любое событие опустошает очередь в конце витка
	c.HandleEvent(signal.Event{
		Kind: signal.EventMessageReceived,
		Tx:   inviteTx("drain-1", "sip:alice@example.com"),
	})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestShutdownSuppressesConferenceUnregisterHook(t *testing.T) {
	c := newTestCore(t, nil, Hooks{})
	conf, err := c.CreateConference(
		&conference.Params{AudioEnabled: true},
		conference.ModeHosting, nil)
	require.NoError(t, err)
	require.NoError(t, conf.BeginCreation())
	require.NoError(t, conf.ConfirmCreation())
	uri := conf.FocusAddress().URI()

	c.Shutdown()

	assert.Equal(t, GlobalOff, c.State())
	assert.Zero(t, c.Registry().ConferenceCount())

	// метаданные не вычищены хуком: реестр снесен целиком
	info, err2 := c.Store().Conference(uri)
	require.NoError(t, err2)
	assert.NotNil(t, info)
}
