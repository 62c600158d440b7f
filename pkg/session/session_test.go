package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/signal"
	"github.com/arzzra/rtc_engine/pkg/signal/mocksignal"
)

var (
	alice = address.MustParse("sip:alice@example.org")
	bob   = address.MustParse("sip:bob@example.org")
)

func newIncomingSession() (*Session, *mocksignal.Transaction) {
	tx := mocksignal.New("call-1", alice, bob)
	return NewIncoming(tx), tx
}

func TestIncomingLifecycle(t *testing.T) {
	s, tx := newIncomingSession()

	assert.Equal(t, StateIncoming, s.State())
	assert.Equal(t, DirectionIncoming, s.Direction())
	// Транзакция эксклюзивно принадлежит сессии
	assert.Same(t, s, tx.Owner())
	// Локальный и удаленный адреса берутся из транзакции
	assert.True(t, s.RemoteAddress().WeakEqual(alice))
	assert.True(t, s.LocalAddress().WeakEqual(bob))

	require.NoError(t, s.Accept())
	assert.Equal(t, StateConnected, s.State())
	reason, ok := tx.LastReply()
	require.True(t, ok)
	assert.Equal(t, signal.ReasonNone, reason)

	require.NoError(t, s.HandleTerminated())
	assert.Equal(t, StateEnd, s.State())
	require.NoError(t, s.Release())
	assert.Equal(t, StateReleased, s.State())
	assert.True(t, tx.Released())
}

func TestOutgoingLifecycle(t *testing.T) {
	s := NewOutgoing("call-2", alice, bob)
	assert.Equal(t, StateOutgoingInit, s.State())

	require.NoError(t, s.HandleProgress())
	assert.Equal(t, StateOutgoingProgress, s.State())

	require.NoError(t, s.HandleRinging())
	assert.Equal(t, StateOutgoingRinging, s.State())

	require.NoError(t, s.HandleAccepted())
	assert.Equal(t, StateConnected, s.State())
}

func TestReleaseIdempotent(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.HandleTerminated())

	var transitions int
	s.OnStateChange(func(_ *Session, _, _ State) { transitions++ })

	require.NoError(t, s.Release())
	assert.Equal(t, StateReleased, s.State())
	released := transitions

	// Повторное освобождение не мутирует состояние и не уведомляет
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Equal(t, released, transitions)
	assert.Equal(t, StateReleased, s.State())
}

func TestPauseResumeCycle(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())

	require.NoError(t, s.Pause())
	assert.Equal(t, StatePausing, s.State())
	require.NoError(t, s.PauseAcknowledged())
	assert.Equal(t, StatePaused, s.State())

	require.NoError(t, s.Resume())
	assert.Equal(t, StateResuming, s.State())
	// accepted завершает пересогласование resume
	require.NoError(t, s.HandleAccepted())
	assert.Equal(t, StateConnected, s.State())

	// Пауза удаленной стороной
	require.NoError(t, s.HandlePausedByRemote())
	assert.Equal(t, StatePausedByRemote, s.State())
	require.NoError(t, s.Resume())
	require.NoError(t, s.HandleAccepted())
	assert.Equal(t, StateConnected, s.State())
}

func TestAcceptedDuringPauseLandsInPaused(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())

	require.NoError(t, s.Pause())
	// 200 OK на re-INVITE паузы завершает именно паузу, не соединение
	require.NoError(t, s.HandleAccepted())
	assert.Equal(t, StatePaused, s.State())
}

func TestRequestResumeDeferredDuringPausing(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())

	require.NoError(t, s.Pause())
	require.NoError(t, s.RequestResume())
	assert.Equal(t, StatePausing, s.State())
	assert.True(t, s.ResumePending())

	require.NoError(t, s.PauseAcknowledged())
	require.NoError(t, s.Resume())
	assert.Equal(t, StateResuming, s.State())
	assert.False(t, s.ResumePending())

	// Вне согласования паузы запрос выполняется сразу
	require.NoError(t, s.HandleAccepted())
	require.NoError(t, s.Pause())
	require.NoError(t, s.PauseAcknowledged())
	require.NoError(t, s.RequestResume())
	assert.Equal(t, StateResuming, s.State())
}

func TestUpdatingTriggers(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())

	// re-INVITE
	require.NoError(t, s.HandleUpdating(true))
	assert.Equal(t, StateUpdating, s.State())
	assert.False(t, s.Refreshing())
	require.NoError(t, s.HandleAccepted())

	// session refresh - другой триггер, то же целевое состояние
	require.NoError(t, s.HandleUpdating(false))
	assert.Equal(t, StateUpdating, s.State())
	assert.True(t, s.Refreshing())
}

func TestFailureFromAnyNonTerminal(t *testing.T) {
	for _, setup := range []func() *Session{
		func() *Session { s, _ := newIncomingSession(); return s },
		func() *Session { return NewOutgoing("c", alice, bob) },
		func() *Session {
			s, _ := newIncomingSession()
			_ = s.Accept()
			return s
		},
	} {
		s := setup()
		info := &signal.ErrorInfo{Reason: signal.ReasonIOError, ProtocolCode: 503}
		require.NoError(t, s.HandleFailure(info))
		assert.Equal(t, StateError, s.State())
		assert.Same(t, info, s.ErrorInfo())
	}
}

func TestAuthChallengeIsNotFailure(t *testing.T) {
	s := NewOutgoing("call-3", alice, bob)
	require.NoError(t, s.HandleFailure(&signal.ErrorInfo{
		Reason:       signal.ReasonAuthChallenge,
		ProtocolCode: 407,
	}))
	// Состояние не изменилось: ожидается auth-requested
	assert.Equal(t, StateOutgoingInit, s.State())
	assert.Nil(t, s.ErrorInfo())
}

func TestPushIncoming(t *testing.T) {
	s := NewPushIncoming("push-call")
	assert.Equal(t, StatePushIncoming, s.State())

	tx := mocksignal.New("push-call", alice, bob)
	require.NoError(t, s.ConfigureFromTransaction(tx))
	assert.Equal(t, StateIncoming, s.State())
	assert.Same(t, s, tx.Owner())

	// Повторная конфигурация запрещена
	assert.Error(t, s.ConfigureFromTransaction(tx))
}

func TestTransferAutoAccept(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())

	target := address.MustParse("sip:carol@example.org")
	followed := s.HandleRefer(target, true)
	assert.True(t, followed)
	assert.Equal(t, TransferOutgoingProgress, s.TransferState())

	// Успешный перевод автоматически завершает исходную сессию
	require.NoError(t, s.HandleTransferNotify(signal.ReferOutcomeSuccess))
	assert.Equal(t, TransferConnected, s.TransferState())
	assert.Equal(t, StateEnd, s.State())
}

func TestTransferDeferred(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())

	var surfaced *address.Address
	s.OnReferRequested(func(_ *Session, target *address.Address) { surfaced = target })

	target := address.MustParse("sip:carol@example.org")
	followed := s.HandleRefer(target, false)
	assert.False(t, followed)
	assert.Equal(t, TransferNone, s.TransferState())
	// Цель сохранена и показана приложению
	assert.True(t, surfaced.WeakEqual(target))
	assert.True(t, s.ReferTarget().WeakEqual(target))

	require.NoError(t, s.AcceptTransfer())
	assert.Equal(t, TransferOutgoingProgress, s.TransferState())
}

func TestTransferFailureKeepsSession(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())
	s.HandleRefer(address.MustParse("sip:carol@example.org"), true)

	require.NoError(t, s.HandleTransferNotify(signal.ReferOutcomeFailed))
	assert.Equal(t, TransferError, s.TransferState())
	// Неудавшийся перевод не трогает исходную сессию
	assert.Equal(t, StateConnected, s.State())
}

func TestAckAttachesFields(t *testing.T) {
	s, _ := newIncomingSession()
	require.NoError(t, s.Accept())
	before := s.State()

	s.HandleAck(map[string]string{"X-Custom": "v"})
	assert.Equal(t, before, s.State())
	assert.Equal(t, "v", s.AckFields()["X-Custom"])
}

func TestDecline(t *testing.T) {
	s, tx := newIncomingSession()
	require.NoError(t, s.Decline(signal.ReasonDeclined))
	assert.Equal(t, StateEnd, s.State())
	reason, ok := tx.LastReply()
	require.True(t, ok)
	assert.Equal(t, signal.ReasonDeclined, reason)
}

func TestDeclineWithRedirect(t *testing.T) {
	s, tx := newIncomingSession()
	target := address.MustParse("sip:voicemail@example.org")

	require.NoError(t, s.DeclineWithRedirect(target))
	assert.Equal(t, StateEnd, s.State())
	require.Len(t, tx.Redirected, 1)
	assert.True(t, tx.Redirected[0].WeakEqual(target))
	require.NotNil(t, s.ErrorInfo())
	assert.Equal(t, signal.ReasonDeclined, s.ErrorInfo().Reason)
}
