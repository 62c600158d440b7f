package conference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/session"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// События переходов автомата конференции.
const (
	evCreate      = "create"
	evConfirm     = "confirm"
	evCreateFail  = "create_fail"
	evTerminating = "terminating"
	evTerminated  = "terminated"
	evDelete      = "delete"
	evReuse       = "reuse"
)

// SessionResolver разрешает слабые ссылки устройств на сессии.
// Возвращает nil, если сессия уже освобождена.
type SessionResolver interface {
	SessionByCallID(callID string) *session.Session
}

// Config параметры создания конференции.
type Config struct {
	// Local локальный адрес, Peer адрес пира. Пара образует
	// идентичность конференции.
	Local *address.Address
	Peer  *address.Address

	// Focus адрес фокуса конференции. Если не задан, генерируется
	// с параметром conf-id.
	Focus *address.Address

	Mode   Mode
	Params *Params

	// Invited шаблон приглашенных участников, управляет назначением
	// ролей. Пустой шаблон означает ad-hoc конференцию.
	Invited []InvitedInfo

	Sessions SessionResolver
	Notifier Notifier
	Logger   *slog.Logger
}

// Conference конференция: автомат жизненного цикла, упорядоченный
// список участников, локальный участник me и параметры. Вариант
// поведения выбирается тегом Mode, без иерархии типов.
//
// Все мутации происходят в рамках одного логического витка обработки
// событий, поэтому внутренних блокировок нет.
type Conference struct {
	local *address.Address
	peer  *address.Address
	focus *address.Address

	mode   Mode
	params *Params

	machine *fsm.FSM

	me           *Participant
	meJoined     bool
	participants []*Participant
	invited      []InvitedInfo

	// lastNotify порядковый номер последнего уведомления
	lastNotify uint32

	// availableMedia доступность потоков по типам, пересчитывается
	// после каждого изменения возможностей устройств
	availableMedia map[signal.MediaType]bool

	sessions SessionResolver
	notifier Notifier
	log      *slog.Logger

	// shuttingDown подавляет побочные эффекты завершения при
	// глобальной остановке ядра
	shuttingDown bool
	onTerminated func(*Conference)
}

// New создает конференцию в состоянии Instantiated.
func New(cfg Config) (*Conference, error) {
	if cfg.Local == nil || cfg.Peer == nil {
		return nil, fmt.Errorf("conference: не заданы локальный адрес или адрес пира")
	}
	params := cfg.Params
	if params == nil {
		params = &Params{AudioEnabled: true}
	}
	focus := cfg.Focus
	if focus == nil {
		focus = cfg.Local.WithParam(signal.URIParamConfID, uuid.NewString())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conference{
		local:          cfg.Local,
		peer:           cfg.Peer,
		focus:          focus,
		mode:           cfg.Mode,
		params:         params.Clone(),
		invited:        append([]InvitedInfo(nil), cfg.Invited...),
		availableMedia: make(map[signal.MediaType]bool),
		sessions:       cfg.Sessions,
		notifier:       cfg.Notifier,
		log:            logger.With(slog.String("conference", focus.String())),
	}
	c.me = newParticipant(cfg.Local.Clone(), RoleSpeaker)
	if cfg.Mode == ModeMixing || cfg.Mode == ModeHosting {
		c.me.focus = true
	}
	c.me.admin = true
	c.meJoined = true

	c.machine = fsm.NewFSM(
		StateInstantiated.String(),
		fsm.Events{
			{Name: evCreate, Src: []string{StateInstantiated.String()}, Dst: StateCreationPending.String()},
			{Name: evConfirm, Src: []string{
				StateInstantiated.String(),
				StateCreationPending.String(),
			}, Dst: StateCreated.String()},
			{Name: evCreateFail, Src: []string{
				StateInstantiated.String(),
				StateCreationPending.String(),
			}, Dst: StateCreationFailed.String()},
			{Name: evTerminating, Src: []string{
				StateCreationPending.String(),
				StateCreated.String(),
			}, Dst: StateTerminationPending.String()},
			{Name: evTerminated, Src: []string{
				StateTerminationPending.String(),
				StateCreationFailed.String(),
			}, Dst: StateTerminated.String()},
			{Name: evDelete, Src: []string{StateTerminated.String()}, Dst: StateDeleted.String()},
			{Name: evReuse, Src: []string{StateDeleted.String()}, Dst: StateInstantiated.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					c.log.Debug("смена состояния конференции",
						slog.String("from", e.Src),
						slog.String("to", e.Dst))
				}
			},
		},
	)
	return c, nil
}

func (c *Conference) fire(event string) error {
	return c.machine.Event(context.Background(), event)
}

// State текущее состояние конференции.
func (c *Conference) State() State { return confStatesByName[c.machine.Current()] }

// LocalAddress локальный адрес конференции.
func (c *Conference) LocalAddress() *address.Address { return c.local }

// PeerAddress адрес пира конференции.
func (c *Conference) PeerAddress() *address.Address { return c.peer }

// FocusAddress адрес фокуса конференции.
func (c *Conference) FocusAddress() *address.Address { return c.focus }

// Mode вариант поведения конференции.
func (c *Conference) Mode() Mode { return c.mode }

// Params копия параметров конференции.
func (c *Conference) Params() *Params { return c.params.Clone() }

// Subject текущая тема конференции.
func (c *Conference) Subject() string { return c.params.Subject }

// LastNotify порядковый номер последнего разосланного уведомления.
func (c *Conference) LastNotify() uint32 { return c.lastNotify }

// Me локальный участник. Существует всегда.
func (c *Conference) Me() *Participant { return c.me }

// MeJoined сообщает, состоит ли локальный участник в конференции.
func (c *Conference) MeJoined() bool { return c.meJoined }

// SetShuttingDown переводит конференцию в режим глобальной остановки:
// при завершении хук снятия регистрации не вызывается, реестр
// уничтожается целиком снаружи.
func (c *Conference) SetShuttingDown(v bool) { c.shuttingDown = v }

// OnTerminated устанавливает хук, вызываемый при переходе в Terminated.
func (c *Conference) OnTerminated(fn func(*Conference)) { c.onTerminated = fn }

// BeginCreation переводит конференцию в CreationPending.
func (c *Conference) BeginCreation() error { return c.fire(evCreate) }

// ConfirmCreation переводит конференцию в Created.
func (c *Conference) ConfirmCreation() error { return c.fire(evConfirm) }

// FailCreation фиксирует неудачу создания конференции.
func (c *Conference) FailCreation() error { return c.fire(evCreateFail) }

// Terminate начинает завершение конференции. Устройства всех
// участников планируются на отключение; когда список участников
// опустеет, конференция перейдет в Terminated и затем в Deleted.
func (c *Conference) Terminate() error {
	switch c.State() {
	case StateTerminationPending, StateTerminated, StateDeleted:
		return nil
	case StateInstantiated:
		// протокольное создание не начиналось, завершаем сразу
		if err := c.fire(evCreateFail); err != nil {
			return err
		}
		return c.finishTermination()
	case StateCreationFailed:
		return c.finishTermination()
	}
	if err := c.fire(evTerminating); err != nil {
		return err
	}
	for _, p := range c.Participants() {
		c.RemoveParticipant(p, false)
	}
	c.meJoined = false
	return c.maybeFinishTermination()
}

// Reinstantiate возвращает удаленную конференцию в исходное состояние
// для переиспользования объекта.
func (c *Conference) Reinstantiate() error {
	if err := c.fire(evReuse); err != nil {
		return err
	}
	c.participants = nil
	c.lastNotify = 0
	c.availableMedia = make(map[signal.MediaType]bool)
	c.meJoined = true
	return nil
}

func (c *Conference) maybeFinishTermination() error {
	if c.State() != StateTerminationPending || len(c.participants) != 0 {
		return nil
	}
	return c.finishTermination()
}

func (c *Conference) finishTermination() error {
	if err := c.fire(evTerminated); err != nil {
		return err
	}
	if c.onTerminated != nil && !c.shuttingDown {
		c.onTerminated(c)
	}
	return c.fire(evDelete)
}

// notify рассылает уведомление, увеличивая порядковый номер ровно на
// единицу. Уведомления об удалении во время TerminationPending
// подавляются: подписчики все равно получат полное завершение.
func (c *Conference) notify(n Notification) {
	if n.Kind.removal() && c.State() == StateTerminationPending {
		return
	}
	c.lastNotify++
	n.Seq = c.lastNotify
	if c.notifier != nil {
		c.notifier.OnConferenceNotify(c, n)
	}
}

// Participants участники конференции в порядке добавления, без me.
func (c *Conference) Participants() []*Participant {
	out := make([]*Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// ParticipantCount число участников без учета me.
func (c *Conference) ParticipantCount() int { return len(c.participants) }

// FindParticipant ищет участника по адресу нестрогим сравнением.
func (c *Conference) FindParticipant(addr *address.Address) *Participant {
	for _, p := range c.participants {
		if p.addr.WeakEqual(addr) {
			return p
		}
	}
	return nil
}

// FindDeviceBySession ищет устройство любого участника по
// идентификатору вызова.
func (c *Conference) FindDeviceBySession(callID string) (*Participant, *ParticipantDevice) {
	for _, p := range c.participants {
		if d := p.FindDeviceBySession(callID); d != nil {
			return p, d
		}
	}
	return nil, nil
}

// assignRole назначает роль присоединяющемуся участнику. Пустой шаблон
// приглашенных означает ad-hoc конференцию, все участники Speaker.
// Совпадение с записью шаблона дает роль записи, Unknown трактуется
// как Speaker. Без совпадения участник становится Listener, если в
// шаблоне есть хоть один Listener, иначе Speaker.
func (c *Conference) assignRole(addr *address.Address) Role {
	if len(c.invited) == 0 {
		return RoleSpeaker
	}
	anyListener := false
	for _, inv := range c.invited {
		if inv.Addr != nil && inv.Addr.WeakEqual(addr) {
			if inv.Role == RoleUnknown {
				return RoleSpeaker
			}
			return inv.Role
		}
		if inv.Role == RoleListener {
			anyListener = true
		}
	}
	if anyListener {
		return RoleListener
	}
	return RoleSpeaker
}

// AddParticipant добавляет участника или возвращает существующего.
func (c *Conference) AddParticipant(addr *address.Address) (*Participant, error) {
	switch c.State() {
	case StateTerminationPending, StateTerminated, StateDeleted:
		return nil, fmt.Errorf("conference: добавление участника в состоянии %s", c.State())
	}
	if p := c.FindParticipant(addr); p != nil {
		return p, nil
	}
	p := newParticipant(addr.Clone(), c.assignRole(addr))
	c.participants = append(c.participants, p)
	c.notify(Notification{Kind: NotifyParticipantAdded, Participant: p.addr})
	c.ensureAdmin()
	c.log.Info("участник добавлен",
		slog.String("participant", p.addr.String()),
		slog.String("role", p.role.String()))
	return p, nil
}

// SetParticipantAdmin меняет административный статус участника.
// Роль участника при этом не меняется.
func (c *Conference) SetParticipantAdmin(p *Participant, admin bool) {
	if p.admin == admin {
		return
	}
	p.admin = admin
	c.notify(Notification{Kind: NotifyParticipantAdminChanged, Participant: p.addr})
}

// ensureAdmin продвигает первого участника в администраторы, если
// список не пуст и администраторов нет.
func (c *Conference) ensureAdmin() {
	switch c.State() {
	case StateTerminationPending, StateTerminated, StateDeleted:
		return
	}
	if len(c.participants) == 0 {
		return
	}
	for _, p := range c.participants {
		if p.admin {
			return
		}
	}
	first := c.participants[0]
	first.admin = true
	c.notify(Notification{Kind: NotifyParticipantAdminChanged, Participant: first.addr})
}

// RemoveParticipant удаляет участника. Устройства отключаются, их
// сессии отвязываются; при teardown сессии дополнительно завершаются.
// Сессия отвязанного устройства никогда не уничтожается синхронно.
func (c *Conference) RemoveParticipant(p *Participant, teardown bool) bool {
	idx := -1
	for i, cur := range c.participants {
		if cur == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	for _, d := range p.Devices() {
		c.detachDevice(d, teardown, "departed", "участник удален")
	}
	c.participants = append(c.participants[:idx], c.participants[idx+1:]...)
	c.notify(Notification{Kind: NotifyParticipantRemoved, Participant: p.addr})
	c.log.Info("участник удален", slog.String("participant", p.addr.String()))

	c.ensureAdmin()
	c.maybeCollapse()
	if err := c.maybeFinishTermination(); err != nil {
		c.log.Warn("завершение конференции не удалось", slog.Any("error", err))
	}
	return true
}

// maybeCollapse схлопывает двухстороннюю конференцию в прямой звонок:
// когда остался ровно один участник с единственным устройством и
// признаком сохранения сессии, конференция завершается, локальный
// участник выходит, а оставшийся удаляется обычным путем, так что его
// сессия отвязывается, но не разрывается. Разрешение конференции с
// одним участником полностью отключает схлопывание.
func (c *Conference) maybeCollapse() {
	if c.params.OneParticipantAllowed {
		return
	}
	if c.State() != StateCreated || len(c.participants) != 1 {
		return
	}
	last := c.participants[0]
	if !last.preserveSession || len(last.devices) != 1 {
		return
	}
	c.log.Info("схлопывание конференции в прямой звонок",
		slog.String("participant", last.addr.String()))
	if err := c.fire(evTerminating); err != nil {
		c.log.Warn("переход к завершению не удался", slog.Any("error", err))
		return
	}
	c.meJoined = false
	c.RemoveParticipant(last, false)
}

// AddDevice регистрирует устройство участника. Существующее устройство
// с тем же адресом возвращается без повторного уведомления.
func (c *Conference) AddDevice(p *Participant, devAddr *address.Address, callID string) (*ParticipantDevice, error) {
	if c.mode != ModeHosting && len(p.devices) > 0 {
		if d := p.FindDevice(devAddr); d != nil {
			if callID != "" {
				d.BindSession(callID)
			}
			return d, nil
		}
		return nil, fmt.Errorf("conference: режим %s допускает одно устройство на участника", c.mode)
	}
	if d := p.FindDevice(devAddr); d != nil {
		if callID != "" {
			d.BindSession(callID)
		}
		return d, nil
	}
	d := newDevice(devAddr.Clone(), callID)
	d.onState = func(d *ParticipantDevice, _, _ DeviceState) {
		c.notify(Notification{Kind: NotifyDeviceStateChanged, Participant: p.addr, Device: d.addr})
	}
	p.addDevice(d)
	c.notify(Notification{Kind: NotifyDeviceAdded, Participant: p.addr, Device: d.addr})
	return d, nil
}

// DeviceJoining отмечает начало присоединения устройства.
func (c *Conference) DeviceJoining(d *ParticipantDevice) { d.fire(devStartJoin) }

// DeviceAlerting отмечает, что сессия устройства звонит.
func (c *Conference) DeviceAlerting(d *ParticipantDevice) { d.fire(devAlert) }

// UpdateDevicePresence применяет к устройству целевое состояние
// Present или OnHold вместе с согласованными направлениями потоков.
// Переход выполняется только из состояния Created конференции и только
// если изменились возможности устройства или его состояние отличается
// от целевого. Повтор без изменений отбрасывается, чтобы не рассылать
// лишние уведомления, пока пересогласование медиа не устоялось.
func (c *Conference) UpdateDevicePresence(p *Participant, d *ParticipantDevice, target DeviceState, media map[signal.MediaType]signal.MediaDirection) bool {
	if target != DevicePresent && target != DeviceOnHold {
		return false
	}
	if c.State() != StateCreated {
		return false
	}
	changed := d.updateMedia(media)
	if !changed && d.State() == target {
		return false
	}
	if d.State() != target {
		switch target {
		case DevicePresent:
			if d.fire(devJoin) && d.joinedAt.IsZero() {
				d.joinedAt = time.Now()
			}
		case DeviceOnHold:
			d.fire(devHold)
		}
	}
	if changed {
		c.notify(Notification{
			Kind:        NotifyDeviceMediaChanged,
			Participant: p.addr,
			Device:      d.addr,
			Media:       d.mediaTypes(),
		})
		c.recomputeAvailableMedia()
	}
	return true
}

// DeviceContactChanged обрабатывает смену контакта устройства после
// пересогласования. Если у того же участника уже есть устройство с
// новым адресом, устройства сливаются: дескриптор подписки переносится
// на выжившее, для устаревшего рассылается уведомление об удалении.
// Уведомление о добавлении при слиянии не рассылается никогда.
func (c *Conference) DeviceContactChanged(p *Participant, d *ParticipantDevice, newAddr *address.Address) {
	if d.addr.WeakEqual(newAddr) {
		d.addr = newAddr.Clone()
		return
	}
	survivor := p.FindDevice(newAddr)
	if survivor == nil || survivor == d {
		d.addr = newAddr.Clone()
		return
	}
	if survivor.subscription == nil {
		survivor.subscription = d.subscription
	}
	if survivor.sessionID == "" {
		survivor.sessionID = d.sessionID
	}
	stale := d.addr
	p.removeDevice(d)
	c.notify(Notification{Kind: NotifyDeviceRemoved, Participant: p.addr, Device: stale})
	c.notify(Notification{
		Kind:        NotifyDeviceMediaChanged,
		Participant: p.addr,
		Device:      survivor.addr,
		Media:       survivor.mediaTypes(),
	})
	c.recomputeAvailableMedia()
}

// RemoveDevice отключает устройство. Последнее устройство участника
// тянет за собой удаление самого участника.
func (c *Conference) RemoveDevice(p *Participant, d *ParticipantDevice, method, reason string) {
	if !c.detachDevice(d, false, method, reason) {
		return
	}
	p.removeDevice(d)
	c.notify(Notification{Kind: NotifyDeviceRemoved, Participant: p.addr, Device: d.addr})
	c.recomputeAvailableMedia()
	if len(p.devices) == 0 {
		c.RemoveParticipant(p, false)
	}
}

// detachDevice переводит устройство в Left и отвязывает сессию.
// Сессия завершается только при teardown; отвязанная сессия живет
// дальше и наблюдает завершение на собственном витке обработки.
func (c *Conference) detachDevice(d *ParticipantDevice, teardown bool, method, reason string) bool {
	if d.State() == DeviceLeft {
		return false
	}
	d.SetDisconnect(method, reason)
	d.fire(devScheduleLeave)
	d.fire(devLeave)
	callID := d.sessionID
	d.sessionID = ""
	if teardown && callID != "" && c.sessions != nil {
		if sess := c.sessions.SessionByCallID(callID); sess != nil {
			if err := sess.Terminate(); err != nil {
				c.log.Warn("завершение сессии устройства не удалось",
					slog.String("call_id", callID),
					slog.Any("error", err))
			}
		}
	}
	return true
}

// SetSubject меняет тему конференции и рассылает уведомление.
func (c *Conference) SetSubject(subject string) {
	if c.params.Subject == subject {
		return
	}
	c.params.Subject = subject
	c.notify(Notification{Kind: NotifySubjectChanged, Subject: subject})
}

// recomputeAvailableMedia пересчитывает доступность потоков по типам
// сразу после изменения возможностей любого устройства.
func (c *Conference) recomputeAvailableMedia() {
	next := make(map[signal.MediaType]bool, 3)
	if c.params.AudioEnabled {
		next[signal.MediaAudio] = c.anyActiveStream(signal.MediaAudio)
	}
	if c.params.VideoEnabled {
		next[signal.MediaVideo] = c.anyActiveStream(signal.MediaVideo)
	}
	if c.params.ChatEnabled {
		next[signal.MediaText] = c.anyActiveStream(signal.MediaText)
	}
	if availEqual(c.availableMedia, next) {
		return
	}
	c.availableMedia = next
	c.notify(Notification{Kind: NotifyAvailableMediaChanged})
}

func (c *Conference) anyActiveStream(mt signal.MediaType) bool {
	for _, p := range c.participants {
		for _, d := range p.devices {
			if !d.State().Active() {
				continue
			}
			if dir, ok := d.media[mt]; ok && dir != signal.DirectionInactive {
				return true
			}
		}
	}
	return false
}

// MediaAvailable сообщает, доступен ли в конференции поток типа mt.
func (c *Conference) MediaAvailable(mt signal.MediaType) bool { return c.availableMedia[mt] }

func availEqual(a, b map[signal.MediaType]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for mt, v := range a {
		if b[mt] != v {
			return false
		}
	}
	return true
}
