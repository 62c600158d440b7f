// Package session реализует машину состояний одной сессии вызова.
// Сессия отслеживает протокольный жизненный цикл вызова независимо от
// обертки (Call или устройство участника конференции), которой она
// принадлежит.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// События машины состояний. Каждому событию диспетчера соответствует
// ровно одно событие FSM.
const (
	evIncoming  = "incoming"
	evDial      = "dial"
	evProgress  = "progress"
	evRing      = "ring"
	evAccept    = "accept"
	evUpdate    = "update"
	evPause     = "pause"
	evPaused    = "paused"
	evPauseRmt  = "pause_remote"
	evResume    = "resume"
	evTerminate = "terminate"
	evFail      = "fail"
	evRelease   = "release"
)

// StateHandler уведомляется о каждом переходе состояния сессии.
type StateHandler func(s *Session, old, new State)

// TransferHandler уведомляется о смене состояния перевода вызова.
type TransferHandler func(s *Session, st TransferState)

// ReferHandler уведомляется о входящем запросе перевода, когда
// автопринятие выключено и решение откладывается на приложение.
type ReferHandler func(s *Session, target *address.Address)

// Session машина состояний одной сессии вызова.
//
// Все мутации происходят в одном логическом потоке обработки событий
// (см. ядро): внутренних блокировок нет.
type Session struct {
	callID    string
	direction Direction

	localAddr  *address.Address
	remoteAddr *address.Address

	// Транзакция, эксклюзивно принадлежащая сессии на все время ее жизни
	tx signal.Transaction

	errInfo     *signal.ErrorInfo
	referTarget *address.Address

	machine  *fsm.FSM
	transfer *fsm.FSM

	createdAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	cancelDone    bool
	refreshing    bool
	resumePending bool
	lastAckFields map[string]string

	onState    StateHandler
	onTransfer TransferHandler
	onRefer    ReferHandler
}

// allButReleased - все состояния, из которых достижим Error.
var allButReleased = []string{
	StateIdle.String(), StatePushIncoming.String(), StateIncoming.String(),
	StateOutgoingInit.String(), StateOutgoingProgress.String(),
	StateOutgoingRinging.String(), StateConnected.String(),
	StateUpdating.String(), StatePausing.String(), StatePaused.String(),
	StatePausedByRemote.String(), StateResuming.String(), StateEnd.String(),
}

func newMachine(initial State, onEnter func(old, new State)) *fsm.FSM {
	return fsm.NewFSM(
		initial.String(),
		fsm.Events{
			{Name: evIncoming, Src: []string{StateIdle.String(), StatePushIncoming.String()}, Dst: StateIncoming.String()},
			{Name: evDial, Src: []string{StateIdle.String()}, Dst: StateOutgoingInit.String()},
			{Name: evProgress, Src: []string{StateOutgoingInit.String()}, Dst: StateOutgoingProgress.String()},
			{Name: evRing, Src: []string{StateOutgoingInit.String(), StateOutgoingProgress.String()}, Dst: StateOutgoingRinging.String()},
			// accept используется и для первичного ответа, и для выхода из
			// пересогласования pause/resume
			{Name: evAccept, Src: []string{
				StateIncoming.String(), StateOutgoingInit.String(),
				StateOutgoingProgress.String(), StateOutgoingRinging.String(),
				StateUpdating.String(), StateResuming.String(),
				StatePaused.String(), StatePausedByRemote.String(),
			}, Dst: StateConnected.String()},
			{Name: evUpdate, Src: []string{StateConnected.String(), StatePaused.String(), StatePausedByRemote.String()}, Dst: StateUpdating.String()},
			{Name: evPause, Src: []string{StateConnected.String(), StatePausedByRemote.String()}, Dst: StatePausing.String()},
			{Name: evPaused, Src: []string{StatePausing.String()}, Dst: StatePaused.String()},
			{Name: evPauseRmt, Src: []string{StateConnected.String(), StateUpdating.String(), StatePaused.String()}, Dst: StatePausedByRemote.String()},
			{Name: evResume, Src: []string{StatePaused.String(), StatePausedByRemote.String()}, Dst: StateResuming.String()},
			{Name: evTerminate, Src: allButReleased, Dst: StateEnd.String()},
			{Name: evFail, Src: allButReleased, Dst: StateError.String()},
			{Name: evRelease, Src: []string{StateEnd.String(), StateError.String()}, Dst: StateReleased.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					onEnter(statesByName[e.Src], statesByName[e.Dst])
				}
			},
		},
	)
}

// newTransferFSM строит параллельную машину состояния перевода.
func newTransferFSM() *fsm.FSM {
	return fsm.NewFSM(
		TransferNone.String(),
		fsm.Events{
			{Name: "trying", Src: []string{TransferNone.String()}, Dst: TransferOutgoingProgress.String()},
			{Name: "success", Src: []string{TransferNone.String(), TransferOutgoingProgress.String()}, Dst: TransferConnected.String()},
			{Name: "failed", Src: []string{TransferNone.String(), TransferOutgoingProgress.String()}, Dst: TransferError.String()},
		}, nil,
	)
}

func newSession(callID string, dir Direction, initial State) *Session {
	s := &Session{
		callID:    callID,
		direction: dir,
		createdAt: time.Now(),
		transfer:  newTransferFSM(),
	}
	s.machine = newMachine(initial, s.stateChanged)
	return s
}

// NewIncoming создает сессию для входящего вызова из транзакции.
func NewIncoming(tx signal.Transaction) *Session {
	s := newSession(tx.CallID(), DirectionIncoming, StateIdle)
	s.attachIncoming(tx)
	_ = s.fire(evIncoming)
	return s
}

// NewOutgoing создает сессию для исходящего вызова.
func NewOutgoing(callID string, local, remote *address.Address) *Session {
	s := newSession(callID, DirectionOutgoing, StateIdle)
	s.localAddr = local
	s.remoteAddr = remote
	_ = s.fire(evDial)
	return s
}

// NewPushIncoming создает сессию, предсозданную push-уведомлением
// платформы. Входящая транзакция придет позже и будет прикреплена
// через ConfigureFromTransaction.
func NewPushIncoming(callID string) *Session {
	return newSession(callID, DirectionIncoming, StatePushIncoming)
}

// ConfigureFromTransaction прикрепляет входящую транзакцию к сессии,
// предсозданной push-уведомлением, и (пере)запускает уведомление о
// входящем вызове вместо создания дубликата.
func (s *Session) ConfigureFromTransaction(tx signal.Transaction) error {
	if s.State() != StatePushIncoming {
		return fmt.Errorf("сессия %s не ожидает входящую транзакцию (состояние %s)", s.callID, s.State())
	}
	s.attachIncoming(tx)
	return s.fire(evIncoming)
}

func (s *Session) attachIncoming(tx signal.Transaction) {
	s.tx = tx
	tx.SetOwner(s)
	s.localAddr = tx.To()
	s.remoteAddr = tx.From()
}

// AttachTransaction прикрепляет исходящую транзакцию к сессии.
func (s *Session) AttachTransaction(tx signal.Transaction) {
	s.tx = tx
	if tx != nil {
		tx.SetOwner(s)
	}
}

func (s *Session) stateChanged(old, new State) {
	if new == StateConnected && s.connectedAt.IsZero() {
		s.connectedAt = time.Now()
	}
	if new.IsEnded() && s.endedAt.IsZero() {
		s.endedAt = time.Now()
	}
	if s.onState != nil {
		s.onState(s, old, new)
	}
}

func (s *Session) fire(event string) error {
	if err := s.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("сессия %s: событие %q в состоянии %s: %w", s.callID, event, s.State(), err)
	}
	return nil
}

// OnStateChange устанавливает обработчик переходов состояния.
func (s *Session) OnStateChange(h StateHandler) { s.onState = h }

// OnTransferStateChange устанавливает обработчик состояния перевода.
func (s *Session) OnTransferStateChange(h TransferHandler) { s.onTransfer = h }

// OnReferRequested устанавливает обработчик отложенного перевода.
func (s *Session) OnReferRequested(h ReferHandler) { s.onRefer = h }

// CallID возвращает протокольный идентификатор вызова.
func (s *Session) CallID() string { return s.callID }

// Direction возвращает направление вызова.
func (s *Session) Direction() Direction { return s.direction }

// State возвращает текущее состояние.
func (s *Session) State() State { return statesByName[s.machine.Current()] }

// TransferState возвращает текущее состояние перевода.
func (s *Session) TransferState() TransferState {
	switch s.transfer.Current() {
	case TransferOutgoingProgress.String():
		return TransferOutgoingProgress
	case TransferConnected.String():
		return TransferConnected
	case TransferError.String():
		return TransferError
	default:
		return TransferNone
	}
}

// LocalAddress возвращает локальный адрес сессии.
func (s *Session) LocalAddress() *address.Address { return s.localAddr }

// RemoteAddress возвращает удаленный адрес сессии.
func (s *Session) RemoteAddress() *address.Address { return s.remoteAddr }

// RemoteContact возвращает контакт удаленной стороны из транзакции.
func (s *Session) RemoteContact() *address.Address {
	if s.tx == nil {
		return nil
	}
	return s.tx.RemoteContact()
}

// Transaction возвращает прикрепленную транзакцию.
func (s *Session) Transaction() signal.Transaction { return s.tx }

// ErrorInfo возвращает запись об ошибке сессии (nil, если ошибок не было).
func (s *Session) ErrorInfo() *signal.ErrorInfo { return s.errInfo }

// ReferTarget возвращает сохраненную цель перевода.
func (s *Session) ReferTarget() *address.Address { return s.referTarget }

// MediaSummary возвращает сводку согласованных медиа-потоков.
func (s *Session) MediaSummary() *signal.MediaSummary {
	if s.tx == nil {
		return nil
	}
	return s.tx.MediaSummary()
}

// Duration возвращает длительность установленного вызова.
func (s *Session) Duration() time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.connectedAt)
	}
	return time.Since(s.connectedAt)
}

// --- Обработчики событий диспетчера ---

// HandleProgress обрабатывает предварительный ответ на исходящий вызов.
func (s *Session) HandleProgress() error { return s.fire(evProgress) }

// HandleRinging обрабатывает remote-ringing.
func (s *Session) HandleRinging() error { return s.fire(evRing) }

// HandleAccepted обрабатывает принятие вызова. Используется и для
// первичного ответа, и для завершения пересогласования pause/resume.
// Подтверждение паузы ведет в Paused, остальные случаи - в Connected.
func (s *Session) HandleAccepted() error {
	if s.State() == StatePausing {
		return s.fire(evPaused)
	}
	return s.fire(evAccept)
}

// HandleAck прикрепляет заголовки из ACK без смены состояния.
func (s *Session) HandleAck(fields map[string]string) {
	if s.State() == StateReleased {
		return
	}
	if len(fields) == 0 {
		return
	}
	if s.lastAckFields == nil {
		s.lastAckFields = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		s.lastAckFields[k] = v
	}
}

// AckFields возвращает заголовки, прикрепленные последним ACK.
func (s *Session) AckFields() map[string]string { return s.lastAckFields }

// HandleUpdating обрабатывает пересогласование. isUpdate различает
// re-INVITE (true) и session refresh (false) - триггеры разные, целевое
// состояние одно.
func (s *Session) HandleUpdating(isUpdate bool) error {
	s.refreshing = !isUpdate
	return s.fire(evUpdate)
}

// Refreshing сообщает, вызвано ли текущее пересогласование
// session refresh, а не re-INVITE.
func (s *Session) Refreshing() bool { return s.refreshing }

// HandlePausedByRemote обрабатывает паузу со стороны удаленного участника.
func (s *Session) HandlePausedByRemote() error { return s.fire(evPauseRmt) }

// HandleTerminated обрабатывает завершение вызова.
func (s *Session) HandleTerminated() error { return s.fire(evTerminate) }

// HandleFailure фиксирует ошибку и переводит сессию в Error.
// AuthChallenge ошибкой не является и состояния не меняет.
func (s *Session) HandleFailure(info *signal.ErrorInfo) error {
	if info != nil && info.Reason == signal.ReasonAuthChallenge {
		return nil
	}
	s.errInfo = info
	return s.fire(evFail)
}

// HandleCancelDone отмечает подтверждение отмены. Состояние не меняется.
func (s *Session) HandleCancelDone() {
	if s.State() != StateReleased {
		s.cancelDone = true
	}
}

// CancelAcknowledged сообщает, была ли подтверждена отмена.
func (s *Session) CancelAcknowledged() bool { return s.cancelDone }

// HandleRefer обрабатывает входящий запрос перевода. При включенном
// автопринятии сессия немедленно следует переводу; иначе цель
// сохраняется и решение откладывается на приложение.
// Возвращает true, если перевод принят немедленно.
func (s *Session) HandleRefer(target *address.Address, autoAccept bool) bool {
	s.referTarget = target
	if autoAccept {
		s.followTransfer()
		return true
	}
	if s.onRefer != nil {
		s.onRefer(s, target)
	}
	return false
}

// AcceptTransfer принимает отложенный ранее перевод.
func (s *Session) AcceptTransfer() error {
	if s.referTarget == nil {
		return fmt.Errorf("сессия %s: нет отложенного перевода", s.callID)
	}
	s.followTransfer()
	return nil
}

func (s *Session) followTransfer() {
	_ = s.transfer.Event(context.Background(), "trying")
	s.notifyTransfer()
}

// HandleTransferNotify отражает исход транзакции перевода на
// параллельное состояние перевода. Перевод, достигший Connected,
// автоматически завершает исходную сессию.
func (s *Session) HandleTransferNotify(outcome signal.ReferOutcome) error {
	var event string
	switch outcome {
	case signal.ReferOutcomeTrying:
		event = "trying"
	case signal.ReferOutcomeSuccess:
		event = "success"
	case signal.ReferOutcomeFailed:
		event = "failed"
	default:
		return fmt.Errorf("сессия %s: неизвестный исход перевода", s.callID)
	}
	if err := s.transfer.Event(context.Background(), event); err != nil {
		return fmt.Errorf("сессия %s: перевод: %w", s.callID, err)
	}
	s.notifyTransfer()

	if s.TransferState() == TransferConnected && !s.State().IsEnded() {
		// Перевод состоялся - исходная сессия больше не нужна
		return s.fire(evTerminate)
	}
	return nil
}

func (s *Session) notifyTransfer() {
	if s.onTransfer != nil {
		s.onTransfer(s, s.TransferState())
	}
}

// --- Операции, инициируемые локальной стороной ---

// Accept принимает входящий вызов.
func (s *Session) Accept() error {
	if s.direction != DirectionIncoming {
		return fmt.Errorf("сессия %s: принять можно только входящий вызов", s.callID)
	}
	if err := s.fire(evAccept); err != nil {
		return err
	}
	if s.tx != nil {
		return s.tx.Reply(signal.ReasonNone)
	}
	return nil
}

// Decline отклоняет входящий вызов с указанной причиной.
func (s *Session) Decline(reason signal.Reason) error {
	if err := s.fire(evTerminate); err != nil {
		return err
	}
	s.errInfo = &signal.ErrorInfo{Reason: reason}
	if s.tx != nil {
		return s.tx.Reply(reason)
	}
	return nil
}

// DeclineWithRedirect отклоняет входящий вызов, перенаправляя
// звонящего на указанный адрес.
func (s *Session) DeclineWithRedirect(target *address.Address) error {
	if err := s.fire(evTerminate); err != nil {
		return err
	}
	s.errInfo = &signal.ErrorInfo{Reason: signal.ReasonDeclined}
	if s.tx != nil {
		return s.tx.DeclineWithRedirect(target)
	}
	return nil
}

// Terminate завершает вызов локально.
func (s *Session) Terminate() error { return s.fire(evTerminate) }

// Pause начинает согласование локальной паузы.
func (s *Session) Pause() error { return s.fire(evPause) }

// PauseAcknowledged завершает согласование локальной паузы.
func (s *Session) PauseAcknowledged() error { return s.fire(evPaused) }

// Resume начинает возобновление вызова с паузы.
func (s *Session) Resume() error {
	s.resumePending = false
	return s.fire(evResume)
}

// RequestResume запрашивает возобновление. Пока согласование паузы еще
// не завершено, запрос запоминается и выполняется после подтверждения.
func (s *Session) RequestResume() error {
	if s.State() == StatePausing {
		s.resumePending = true
		return nil
	}
	return s.Resume()
}

// ResumePending сообщает, ожидает ли сессия отложенного возобновления.
func (s *Session) ResumePending() bool { return s.resumePending }

// Release освобождает сессию. Повторное освобождение - no-op:
// защита от гонок дублированных терминальных событий.
func (s *Session) Release() error {
	if s.State() == StateReleased {
		return nil
	}
	if !s.State().IsEnded() {
		// Освобождение до завершения - ошибка владельца
		if err := s.fire(evTerminate); err != nil {
			return err
		}
	}
	if err := s.fire(evRelease); err != nil {
		return err
	}
	if s.tx != nil {
		s.tx.Release()
		s.tx = nil
	}
	return nil
}
