package core

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/arzzra/rtc_engine/pkg/account"
	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/call"
	"github.com/arzzra/rtc_engine/pkg/conference"
	"github.com/arzzra/rtc_engine/pkg/session"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// needsActiveCore сообщает, требует ли событие работающего ядра.
// Терминальные события вызовов и исходы регистрации обрабатываются
// и во время остановки, иначе объекты зависнут недоосвобожденными.
func needsActiveCore(kind signal.EventKind) bool {
	switch kind {
	case signal.EventCallFailed,
		signal.EventCallTerminated,
		signal.EventCallReleased,
		signal.EventCallCancelDone,
		signal.EventRegisterSuccess,
		signal.EventRegisterFailure:
		return false
	default:
		return true
	}
}

// HandleEvent обрабатывает одно сигнальное событие целиком, включая
// синхронные побочные эффекты, и затем опустошает очередь отложенных
// действий. Вызывается последовательно, событие за событием.
func (c *Core) HandleEvent(ev signal.Event) {
	start := time.Now()
	c.metrics.eventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	defer func() {
		c.tasks.Drain()
		c.metrics.eventDuration.Observe(time.Since(start).Seconds())
	}()

	// защита по глобальному состоянию идет раньше любой другой логики
	if needsActiveCore(ev.Kind) && c.state != GlobalOn {
		c.log.Warn("событие при неработающем ядре",
			slog.String("kind", ev.Kind.String()),
			slog.String("core_state", c.state.String()))
		if ev.Tx != nil {
			if err := ev.Tx.Reply(signal.ReasonServiceUnavailable); err != nil {
				c.log.Warn("ответ service unavailable не ушел", slog.Any("error", err))
			}
			c.metrics.declinesTotal.WithLabelValues("service_unavailable").Inc()
			ev.Tx.Release()
		}
		return
	}

	switch ev.Kind {
	case signal.EventCallReceived:
		c.handleCallReceived(ev.Tx)

	case signal.EventCallRinging:
		if sess := c.sessionOwner(ev); sess != nil {
			c.sessionEvent(sess, ev, sess.HandleRinging())
		}
	case signal.EventCallAccepted:
		if sess := c.sessionOwner(ev); sess != nil {
			c.sessionEvent(sess, ev, sess.HandleAccepted())
			if sess.State() == session.StatePaused && sess.ResumePending() {
				c.Defer("resume-after-pause", func() {
					if err := sess.Resume(); err != nil {
						c.log.Warn("отложенное возобновление не удалось",
							slog.String("call_id", sess.CallID()),
							slog.Any("error", err))
					}
				})
			}
		}
	case signal.EventCallFailed:
		if sess := c.sessionOwner(ev); sess != nil {
			info := ev.Err
			if info == nil && ev.Tx != nil {
				info = ev.Tx.ErrorInfo()
			}
			c.sessionEvent(sess, ev, sess.HandleFailure(info))
		}
	case signal.EventCallTerminated:
		if sess := c.sessionOwner(ev); sess != nil {
			c.sessionEvent(sess, ev, sess.HandleTerminated())
			c.scheduleDeviceDetach(sess.CallID())
		}
	case signal.EventCallReleased:
		c.handleReleased(ev)
	case signal.EventCallCancelDone:
		if sess := c.sessionOwner(ev); sess != nil {
			sess.HandleCancelDone()
		}
	case signal.EventCallUpdating:
		if sess := c.sessionOwner(ev); sess != nil {
			c.sessionEvent(sess, ev, sess.HandleUpdating(ev.IsUpdate))
		}
	case signal.EventCallRefreshing:
		if sess := c.sessionOwner(ev); sess != nil {
			c.sessionEvent(sess, ev, sess.HandleUpdating(false))
		}
	case signal.EventAckReceived, signal.EventAckBeingSent:
		if sess := c.sessionOwner(ev); sess != nil {
			sess.HandleAck(ackFields(ev.Tx))
		}
	case signal.EventInfoReceived:
		if sess := c.sessionOwner(ev); sess != nil && ev.Tx != nil {
			if err := ev.Tx.Reply(signal.ReasonNone); err != nil {
				c.log.Warn("ответ на info не ушел", slog.Any("error", err))
			}
		}

	case signal.EventReferReceived:
		if sess := c.sessionOwner(ev); sess != nil {
			accepted := sess.HandleRefer(ev.ReferTarget, c.cfg.AutoAcceptTransfers)
			c.log.Info("получен перевод вызова",
				slog.String("call_id", sess.CallID()),
				slog.String("target", ev.ReferTarget.String()),
				slog.Bool("auto_accept", accepted))
		}
	case signal.EventNotifyRefer:
		if sess := c.sessionOwner(ev); sess != nil {
			c.sessionEvent(sess, ev, sess.HandleTransferNotify(ev.ReferOutcome))
		}

	case signal.EventMessageReceived:
		c.handleMessageReceived(ev.Tx)
	case signal.EventMessageDelivery:
		c.handleMessageDelivery(ev)

	case signal.EventSubscribeReceived:
		c.replyAndSurface(ev.Tx, c.hooks.OnSubscribe)
	case signal.EventNotifyReceived:
		c.replyAndSurface(ev.Tx, c.hooks.OnNotify)
	case signal.EventPublishReceived:
		c.replyAndSurface(ev.Tx, c.hooks.OnPublish)

	case signal.EventRegisterSuccess:
		if acc := c.accountOwner(ev); acc != nil {
			cleared := ev.Tx != nil && ev.Tx.Header("Expires") == "0"
			if err := acc.HandleRegisterSuccess(cleared); err != nil {
				c.log.Warn("успех регистрации не принят", slog.Any("error", err))
			}
		}
	case signal.EventRegisterFailure:
		if acc := c.accountOwner(ev); acc != nil {
			info := ev.Err
			if info == nil && ev.Tx != nil {
				info = ev.Tx.ErrorInfo()
			}
			if err := acc.HandleRegisterFailure(info); err != nil {
				c.log.Warn("неуспех регистрации не принят", slog.Any("error", err))
			}
		}
	case signal.EventAuthRequested:
		c.handleAuthRequested(ev)

	case signal.EventRedirectReceived:
		c.handleRedirect(ev)

	default:
		c.log.Warn("событие неизвестного вида", slog.String("kind", ev.Kind.String()))
	}
}

// sessionOwner разрешает сессию по непрозрачному указателю владельца
// транзакции. Неразрешимое событие логируется и отбрасывается: это
// намеренная защита от повторных и пришедших не по порядку
// терминальных событий.
func (c *Core) sessionOwner(ev signal.Event) *session.Session {
	if ev.Tx == nil {
		c.log.Warn("событие без транзакции", slog.String("kind", ev.Kind.String()))
		return nil
	}
	sess, ok := ev.Tx.Owner().(*session.Session)
	if !ok || sess == nil {
		c.log.Info("событие без владельца отброшено",
			slog.String("kind", ev.Kind.String()),
			slog.String("call_id", ev.Tx.CallID()))
		return nil
	}
	return sess
}

func (c *Core) accountOwner(ev signal.Event) *account.Account {
	if ev.Tx == nil {
		return nil
	}
	if acc, ok := ev.Tx.Owner().(*account.Account); ok {
		return acc
	}
	if from := ev.Tx.From(); from != nil {
		if acc, ok := c.AccountByIdentity(from); ok {
			return acc
		}
	}
	c.log.Info("событие регистрации без аккаунта отброшено",
		slog.String("kind", ev.Kind.String()))
	return nil
}

func (c *Core) sessionEvent(sess *session.Session, ev signal.Event, err error) {
	if err != nil {
		c.log.Warn("переход сессии не выполнен",
			slog.String("kind", ev.Kind.String()),
			slog.String("call_id", sess.CallID()),
			slog.String("state", sess.State().String()),
			slog.Any("error", err))
	}
}

// handleCallReceived классифицирует входящий вызов и создает сессию.
func (c *Core) handleCallReceived(tx signal.Transaction) {
	if tx == nil {
		return
	}
	callID := tx.CallID()

	// повторный вызов с идентификатором, уже отклоненным в журнале,
	// молча отклоняется снова без создания сессии
	if prior, err := c.logs.FindByCallID(callID, c.cfg.CallLogSearchDepth); err != nil {
		c.log.Warn("поиск в журнале вызовов", slog.Any("error", err))
	} else if prior != nil && prior.Outcome == call.OutcomeDeclined {
		c.log.Info("повтор отклоненного вызова", slog.String("call_id", callID))
		if err := tx.Reply(signal.ReasonDeclined); err != nil {
			c.log.Warn("повторное отклонение не ушло", slog.Any("error", err))
		}
		c.metrics.declinesTotal.WithLabelValues("duplicate_declined").Inc()
		tx.Release()
		return
	}

	// сессия, заведенная push-уведомлением платформы, переоснащается
	// настоящей транзакцией вместо создания дубликата
	if existing, ok := c.registry.Call(callID); ok {
		sess := existing.Session()
		if sess.State() == session.StatePushIncoming {
			if err := sess.ConfigureFromTransaction(tx); err != nil {
				c.log.Warn("переоснащение push-сессии", slog.Any("error", err))
				return
			}
			c.log.Info("push-сессия переоснащена", slog.String("call_id", callID))
			if c.hooks.OnIncomingCall != nil {
				c.hooks.OnIncomingCall(existing, c.classifyIncoming(tx))
			}
			return
		}
		// разветвленное плечо с тем же идентификатором не отклоняется
		c.log.Info("дубликат вызова отброшен", slog.String("call_id", callID))
		return
	}

	from := c.attributedFrom(tx)

	// защита от звонка самому себе: входящий от пира, которому уже
	// идет наш исходящий вызов, отклоняется с Busy
	if c.cfg.RejectDuplicateCalls && c.hasActiveOutgoingTo(from, callID) {
		c.log.Info("вызов отклонен как дубликат исходящего",
			slog.String("call_id", callID),
			slog.String("from", from.String()))
		if err := tx.Reply(signal.ReasonBusy); err != nil {
			c.log.Warn("отклонение busy не ушло", slog.Any("error", err))
		}
		c.metrics.declinesTotal.WithLabelValues("busy_self_call").Inc()
		c.appendEarlyFailure(callID, from, tx.To(), signal.ReasonBusy)
		tx.Release()
		return
	}

	kind := c.classifyIncoming(tx)
	sess := session.NewIncoming(tx)
	cl := call.New(sess, from, tx.To())
	c.registry.AddCall(cl)
	c.metrics.callsTotal.WithLabelValues("incoming").Inc()
	c.metrics.callsActive.Set(float64(c.registry.CallCount()))

	switch kind {
	case IncomingConference:
		c.joinConference(cl, tx)
	case IncomingChat:
		c.joinChat(cl, tx)
	}

	c.log.Info("входящий вызов",
		slog.String("call_id", callID),
		slog.String("from", from.String()),
		slog.String("kind", kind.String()))
	if c.hooks.OnIncomingCall != nil {
		c.hooks.OnIncomingCall(cl, kind)
	}
}

// attributedFrom выбирает адрес для атрибуции вызова: подтвержденная
// идентичность при ее наличии и включенном доверии, иначе From.
func (c *Core) attributedFrom(tx signal.Transaction) *address.Address {
	if c.cfg.PreferAssertedIdentity {
		if raw := tx.Header(signal.HeaderAssertedIdentity); raw != "" {
			if addr, err := address.Parse(raw); err == nil {
				return addr
			}
			c.log.Warn("подтвержденная идентичность не разобрана",
				slog.String("value", raw))
		}
	}
	return tx.From()
}

// hasActiveOutgoingTo ищет живой исходящий вызов к указанному адресу.
// Плечо с совпадающим идентификатором вызова не считается дубликатом.
func (c *Core) hasActiveOutgoingTo(peer *address.Address, exceptCallID string) bool {
	found := false
	c.registry.ForEachCall(func(cl *call.Call) {
		sess := cl.Session()
		if found ||
			sess.CallID() == exceptCallID ||
			sess.Direction() != session.DirectionOutgoing ||
			sess.State().IsEnded() {
			return
		}
		if remote := sess.RemoteAddress(); remote != nil && remote.WeakEqual(peer) {
			found = true
		}
	})
	return found
}

// classifyIncoming относит вызов к конференции, беседе или обычному
// вызову по маркерам транзакции: параметрам conf-id и admin контакта,
// параметру conf-id целевого адреса, маркерам беседы (диалоговому и
// эфемерному) и составному типу содержимого.
func (c *Core) classifyIncoming(tx signal.Transaction) IncomingKind {
	if contact := tx.RemoteContact(); contact != nil {
		if contact.HasParam(signal.ContactParamConfID) || contact.HasParam(signal.ContactParamAdmin) {
			return IncomingConference
		}
	}
	if to := tx.To(); to != nil && to.HasParam(signal.URIParamConfID) {
		return IncomingConference
	}
	if tx.Header(signal.HeaderOneToOneChat) != "" {
		return IncomingChat
	}
	if tx.Header(signal.HeaderEphemeralMode) != "" {
		return IncomingChat
	}
	if ct := tx.Header(signal.HeaderContentType); strings.HasPrefix(ct, "multipart/") ||
		strings.Contains(ct, "resource-lists") {
		return IncomingChat
	}
	return IncomingPlainCall
}

// joinConference подключает входящий вызов к живой конференции по
// значению conf-id. Конференции с таким идентификатором может не
// быть, тогда вызов остается ожидать решения приложения.
func (c *Core) joinConference(cl *call.Call, tx signal.Transaction) {
	confID := ""
	if contact := tx.RemoteContact(); contact != nil {
		confID, _ = contact.Param(signal.ContactParamConfID)
	}
	if confID == "" {
		if to := tx.To(); to != nil {
			confID, _ = to.Param(signal.URIParamConfID)
		}
	}
	if confID == "" {
		return
	}
	conf, ok := c.registry.ConferenceByID(confID)
	if !ok {
		c.log.Info("конференция не найдена", slog.String("conf_id", confID))
		return
	}
	p, err := conf.AddParticipant(cl.Session().RemoteAddress())
	if err != nil {
		c.log.Warn("участник не добавлен", slog.Any("error", err))
		return
	}
	devAddr := tx.RemoteContact()
	if devAddr == nil {
		devAddr = cl.Session().RemoteAddress()
	}
	dev, err := conf.AddDevice(p, devAddr, cl.CallID())
	if err != nil {
		c.log.Warn("устройство не добавлено", slog.Any("error", err))
		return
	}
	conf.DeviceJoining(dev)
	cl.SetConference(conf.FocusAddress().URI())

	// право администратора выдается по параметру контакта
	if contact := tx.RemoteContact(); contact != nil && contact.HasParam(signal.ContactParamAdmin) {
		if v, _ := contact.Param(signal.ContactParamAdmin); v != "0" {
			conf.SetParticipantAdmin(p, true)
		}
	}
}

// conferenceNotifier пробрасывает уведомления конференций приложению.
// При включенной полной синхронизации каждое уведомление помечается
// как снимок полного состояния, иначе подписчики получают приращения.
func (c *Core) conferenceNotifier() conference.Notifier {
	return conference.NotifierFunc(func(conf *conference.Conference, n conference.Notification) {
		if c.cfg.FullStateNotifications {
			n.FullState = true
		}
		if c.hooks.OnConferenceEvent != nil {
			c.hooks.OnConferenceEvent(conf, n)
		}
	})
}

// joinChat подключает вызов к беседе: существующая диалоговая беседа
// пары переиспользуется, новая создается, если автосоздание включено.
func (c *Core) joinChat(cl *call.Call, tx signal.Transaction) {
	encrypted := tx.Header(signal.HeaderEndToEndEncrypt) != ""
	oneToOne := tx.Header(signal.HeaderOneToOneChat) != ""
	peer := cl.Session().RemoteAddress()

	// время жизни эфемерных сообщений в секундах, 0 - обычная беседа
	var ephemeral int64
	if v := tx.Header(signal.HeaderEphemeralMode); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			ephemeral = secs
		} else {
			c.log.Warn("неразборчивое время жизни эфемерных сообщений",
				slog.String("value", v))
		}
	}

	if oneToOne {
		uri, err := c.store.OneToOne(c.local, peer, encrypted)
		if err != nil {
			c.log.Warn("поиск диалоговой беседы", slog.Any("error", err))
		}
		if uri != "" {
			if conf, ok := c.registry.Conference(uri); ok {
				if p, err := conf.AddParticipant(peer); err == nil {
					if dev, err := conf.AddDevice(p, peer, cl.CallID()); err == nil {
						conf.DeviceJoining(dev)
					}
				}
				cl.SetConference(uri)
				return
			}
			cl.SetConference(uri)
			return
		}
		if !c.cfg.OneToOneChatEnabled {
			return
		}
	}

	conf, err := conference.New(conference.Config{
		Local: c.local,
		Peer:  peer,
		Mode:  conference.ModeBasic,
		Params: &conference.Params{
			ChatEnabled:           true,
			Subject:               tx.Header(signal.HeaderSubject),
			OneParticipantAllowed: oneToOne,
		},
		Sessions: c.registry,
		Notifier: c.conferenceNotifier(),
		Logger:   c.log,
	})
	if err != nil {
		c.log.Warn("беседа не создана", slog.Any("error", err))
		return
	}
	conf.OnTerminated(c.unregisterConference)
	if err := conf.BeginCreation(); err == nil {
		if err := conf.ConfirmCreation(); err != nil {
			c.log.Warn("подтверждение беседы", slog.Any("error", err))
		}
	}
	if p, err := conf.AddParticipant(peer); err == nil {
		if dev, err := conf.AddDevice(p, peer, cl.CallID()); err == nil {
			conf.DeviceJoining(dev)
		}
	}
	c.registry.AddConference(conf)
	c.metrics.conferencesLive.Set(float64(c.registry.ConferenceCount()))
	cl.SetConference(conf.FocusAddress().URI())

	info := &ConferenceInfo{
		URI:               conf.FocusAddress().URI(),
		Subject:           conf.Subject(),
		Encrypted:         encrypted,
		OneToOne:          oneToOne,
		EphemeralLifetime: ephemeral,
	}
	if err := c.store.PutConference(info); err != nil {
		c.log.Warn("метаданные беседы не сохранены", slog.Any("error", err))
	}
	if oneToOne {
		if err := c.store.BindOneToOne(c.local, peer, encrypted, info.URI); err != nil {
			c.log.Warn("индекс диалоговой беседы не сохранен", slog.Any("error", err))
		}
	}
}

// CreateConference создает и регистрирует конференцию под управлением
// локального узла.
func (c *Core) CreateConference(params *conference.Params, mode conference.Mode, invited []conference.InvitedInfo) (*conference.Conference, error) {
	conf, err := conference.New(conference.Config{
		Local:    c.local,
		Peer:     c.local,
		Mode:     mode,
		Params:   params,
		Invited:  invited,
		Sessions: c.registry,
		Notifier: c.conferenceNotifier(),
		Logger:   c.log,
	})
	if err != nil {
		return nil, err
	}
	conf.OnTerminated(c.unregisterConference)
	c.registry.AddConference(conf)
	c.metrics.conferencesLive.Set(float64(c.registry.ConferenceCount()))

	if err := c.store.PutConference(&ConferenceInfo{
		URI:     conf.FocusAddress().URI(),
		Subject: conf.Subject(),
	}); err != nil {
		c.log.Warn("метаданные конференции не сохранены", slog.Any("error", err))
	}
	return conf, nil
}

// unregisterConference хук завершения конференции. При глобальной
// остановке не вызывается, реестр уничтожается целиком.
func (c *Core) unregisterConference(conf *conference.Conference) {
	uri := conf.FocusAddress().URI()
	c.registry.RemoveConference(uri)
	c.metrics.conferencesLive.Set(float64(c.registry.ConferenceCount()))
	if err := c.store.DeleteConference(uri); err != nil {
		c.log.Warn("метаданные конференции не удалены", slog.Any("error", err))
	}
	c.log.Info("конференция снята с учета", slog.String("conference", uri))
}

// scheduleDeviceDetach откладывает отвязку устройства конференции от
// завершенной сессии на следующий виток: устройство наблюдает
// завершение само и не трогает полуразобранную сессию.
func (c *Core) scheduleDeviceDetach(callID string) {
	c.Defer("device-detach:"+callID, func() {
		c.registry.ForEachConference(func(conf *conference.Conference) {
			if p, dev := conf.FindDeviceBySession(callID); dev != nil {
				conf.RemoveDevice(p, dev, "departed", "сессия завершена")
			}
		})
	})
}

// handleReleased завершает жизненный цикл вызова. Событие для уже
// отсутствующей сессии ничего не делает: повторные и пересекающиеся
// терминальные события допустимы по контракту.
func (c *Core) handleReleased(ev signal.Event) {
	var sess *session.Session
	if ev.Tx != nil {
		sess, _ = ev.Tx.Owner().(*session.Session)
	}
	if sess == nil {
		c.log.Debug("released без сессии, пропущено")
		return
	}
	if cl, ok := c.registry.Call(sess.CallID()); ok {
		c.finalizeCall(cl)
	} else if err := sess.Release(); err != nil {
		c.log.Warn("освобождение сессии", slog.Any("error", err))
	}
}

// finalizeCall освобождает сессию вызова, дописывает журнал и
// убирает вызов из реестра.
func (c *Core) finalizeCall(cl *call.Call) {
	sess := cl.Session()
	if err := sess.Release(); err != nil {
		c.log.Warn("освобождение сессии",
			slog.String("call_id", sess.CallID()),
			slog.Any("error", err))
	}
	entry := cl.FinishLog()
	if err := c.logs.Append(entry); err != nil {
		c.log.Warn("запись журнала вызовов", slog.Any("error", err))
	}
	c.registry.RemoveCall(sess.CallID())
	c.metrics.callsActive.Set(float64(c.registry.CallCount()))
}

func (c *Core) appendEarlyFailure(callID string, from, to *address.Address, reason signal.Reason) {
	entry := call.NewEarlyFailureLog(callID, from, to, reason)
	if err := c.logs.Append(entry); err != nil {
		c.log.Warn("запись ранней неудачи", slog.Any("error", err))
	}
}

func (c *Core) handleMessageReceived(tx signal.Transaction) {
	if tx == nil {
		return
	}
	if err := tx.Reply(signal.ReasonNone); err != nil {
		c.log.Warn("подтверждение сообщения не ушло", slog.Any("error", err))
	}
	if c.hooks.OnMessage != nil {
		c.hooks.OnMessage(tx)
	}
}

// handleMessageDelivery обрабатывает смену статуса доставки. Сбой
// ввода-вывода при работающем ядре понижается до "ожидает доставки"
// с повтором позже; любой другой сбой окончателен для сообщения.
func (c *Core) handleMessageDelivery(ev signal.Event) {
	status := ev.Delivery
	callID := ""
	if ev.Tx != nil {
		callID = ev.Tx.CallID()
	}
	if status == signal.DeliveryFailed &&
		ev.Err != nil && ev.Err.Reason == signal.ReasonIOError &&
		c.state == GlobalOn {
		status = signal.DeliveryPending
		c.log.Info("доставка сообщения отложена",
			slog.String("call_id", callID))
	}
	if c.hooks.OnMessageDelivery != nil {
		c.hooks.OnMessageDelivery(callID, status)
	}
}

func (c *Core) replyAndSurface(tx signal.Transaction, hook func(signal.Transaction)) {
	if tx == nil {
		return
	}
	if err := tx.Reply(signal.ReasonNone); err != nil {
		c.log.Warn("подтверждение не ушло", slog.Any("error", err))
	}
	if hook != nil {
		hook(tx)
	}
}

func (c *Core) handleAuthRequested(ev signal.Event) {
	if ev.Tx == nil {
		return
	}
	acc, _ := ev.Tx.Owner().(*account.Account)
	if acc == nil {
		if from := ev.Tx.From(); from != nil {
			acc, _ = c.AccountByIdentity(from)
		}
	}
	if acc == nil {
		c.log.Warn("запрос аутентификации без аккаунта")
		return
	}
	res := acc.HandleAuthRequested(ev.Tx, ev.AuthMode, ev.Realm)
	c.log.Info("запрос аутентификации",
		slog.String("mode", ev.AuthMode.String()),
		slog.String("realm", ev.Realm),
		slog.String("status", res.Status.String()))
	if c.hooks.OnAuthResolved != nil {
		c.hooks.OnAuthResolved(acc, ev.Tx, res)
	}
}

// handleRedirect откладывает перенаправление сессии на следующий
// виток: сессия, еще не вышедшая из Idle, не может перенаправляться
// внутри текущего витка.
func (c *Core) handleRedirect(ev signal.Event) {
	sess := c.sessionOwner(ev)
	if sess == nil || ev.ReferTarget == nil {
		return
	}
	tx := ev.Tx
	target := ev.ReferTarget
	c.Defer("redirect:"+sess.CallID(), func() {
		newTx, err := tx.Redirect(target)
		if err != nil {
			c.log.Warn("перенаправление не удалось",
				slog.String("call_id", sess.CallID()),
				slog.Any("error", err))
			return
		}
		newTx.SetOwner(sess)
		sess.AttachTransaction(newTx)
		c.log.Info("сессия перенаправлена",
			slog.String("call_id", sess.CallID()),
			slog.String("target", target.String()))
	})
}

// ackFields снимает с транзакции заголовки, прикрепляемые к сессии
// при подтверждении.
func ackFields(tx signal.Transaction) map[string]string {
	if tx == nil {
		return nil
	}
	fields := make(map[string]string, 2)
	for _, h := range []string{signal.HeaderContentType, signal.HeaderSubject} {
		if v := tx.Header(h); v != "" {
			fields[h] = v
		}
	}
	return fields
}
