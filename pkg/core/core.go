// Package core содержит диспетчер сигнальных событий и ядро движка:
// реестр вызовов и конференций, аккаунты, очередь отложенных действий
// и персистентные хранилища журнала и метаданных.
package core

import (
	"errors"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/rtc_engine/pkg/account"
	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/call"
	"github.com/arzzra/rtc_engine/pkg/conference"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// GlobalState состояние ядра целиком.
type GlobalState int

const (
	// GlobalOff ядро не запущено
	GlobalOff GlobalState = iota
	// GlobalStartup ядро поднимается
	GlobalStartup
	// GlobalOn ядро обрабатывает события
	GlobalOn
	// GlobalShutdown ядро останавливается, обычные побочные эффекты
	// завершения подавлены
	GlobalShutdown
)

func (s GlobalState) String() string {
	switch s {
	case GlobalOff:
		return "off"
	case GlobalStartup:
		return "startup"
	case GlobalOn:
		return "on"
	case GlobalShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// IncomingKind классификация входящего вызова.
type IncomingKind int

const (
	// IncomingPlainCall обычный вызов
	IncomingPlainCall IncomingKind = iota
	// IncomingConference вход в конференцию или ее создание
	IncomingConference
	// IncomingChat вход в беседу или ее создание
	IncomingChat
)

func (k IncomingKind) String() string {
	switch k {
	case IncomingPlainCall:
		return "call"
	case IncomingConference:
		return "conference"
	case IncomingChat:
		return "chat"
	default:
		return "unknown"
	}
}

// Hooks обратные вызовы ядра к приложению. Любое поле может быть nil.
type Hooks struct {
	// OnIncomingCall новый входящий вызов после классификации
	OnIncomingCall func(c *call.Call, kind IncomingKind)
	// OnMessage входящее сообщение чата
	OnMessage func(tx signal.Transaction)
	// OnMessageDelivery смена статуса доставки сообщения
	OnMessageDelivery func(callID string, status signal.DeliveryStatus)
	// OnSubscribe/OnNotify/OnPublish входящие события подписок
	OnSubscribe func(tx signal.Transaction)
	OnNotify    func(tx signal.Transaction)
	OnPublish   func(tx signal.Transaction)
	// OnAuthResolved итог запроса аутентификации
	OnAuthResolved func(a *account.Account, tx signal.Transaction, res account.AuthResult)
	// OnConferenceEvent уведомление от конференции, созданной ядром.
	// Рассылается в том же такте обработки, что и породившее событие.
	OnConferenceEvent func(conf *conference.Conference, n conference.Notification)
}

// Options параметры создания ядра.
type Options struct {
	// Local локальный адрес узла, владелец создаваемых конференций
	Local *address.Address

	Config *Config

	// DB открытая база для журнала вызовов и метаданных конференций
	DB *badger.DB

	Hooks Hooks

	// Registerer реестр метрик; nil означает глобальный
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// Core сердце движка: диспетчер сигнальных событий, реестр живых
// вызовов и конференций, аккаунты и очередь отложенных действий.
//
// Все события обрабатываются последовательно: одно событие полностью,
// включая синхронные побочные эффекты, затем следующее. Машины
// состояний из-за этого обходятся без внутренних блокировок.
type Core struct {
	state GlobalState

	cfg      *Config
	local    *address.Address
	registry *Registry
	tasks    *taskQueue
	store    *Store
	logs     *call.LogStore
	metrics  *Metrics
	hooks    Hooks

	accounts map[string]*account.Account

	log *slog.Logger
}

// New создает ядро в состоянии GlobalOff.
func New(opts Options) (*Core, error) {
	if opts.Local == nil {
		return nil, errors.New("core: не задан локальный адрес")
	}
	if opts.DB == nil {
		return nil, errors.New("core: не задана база данных")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "core"))

	return &Core{
		state:    GlobalOff,
		cfg:      cfg,
		local:    opts.Local,
		registry: NewRegistry(),
		tasks:    newTaskQueue(logger),
		store:    NewStore(opts.DB, logger),
		logs:     call.NewLogStore(opts.DB, logger),
		metrics:  NewMetrics(opts.Registerer),
		hooks:    opts.Hooks,
		accounts: make(map[string]*account.Account),
		log:      logger,
	}, nil
}

// State текущее состояние ядра.
func (c *Core) State() GlobalState { return c.state }

// Registry реестр живых вызовов и конференций.
func (c *Core) Registry() *Registry { return c.registry }

// Logs журнал вызовов.
func (c *Core) Logs() *call.LogStore { return c.logs }

// Store хранилище метаданных конференций.
func (c *Core) Store() *Store { return c.store }

// Start переводит ядро в рабочее состояние.
func (c *Core) Start() error {
	switch c.state {
	case GlobalOn:
		return nil
	case GlobalShutdown:
		return errors.New("core: запуск во время остановки")
	}
	c.state = GlobalStartup
	for _, a := range c.accounts {
		if err := a.Register(); err != nil {
			c.log.Warn("регистрация аккаунта не началась",
				slog.String("account", a.Identity().String()),
				slog.Any("error", err))
		}
	}
	c.state = GlobalOn
	c.log.Info("ядро запущено")
	return nil
}

// Shutdown останавливает ядро. Конференции завершаются с подавленными
// хуками снятия регистрации, реестр уничтожается целиком.
func (c *Core) Shutdown() {
	if c.state == GlobalOff {
		return
	}
	c.state = GlobalShutdown
	c.registry.ForEachConference(func(conf *conference.Conference) {
		conf.SetShuttingDown(true)
		if err := conf.Terminate(); err != nil {
			c.log.Warn("завершение конференции при остановке",
				slog.String("conference", conf.FocusAddress().URI()),
				slog.Any("error", err))
		}
	})
	c.registry.ForEachCall(func(cl *call.Call) {
		sess := cl.Session()
		if !sess.State().IsEnded() {
			if err := sess.Terminate(); err != nil {
				c.log.Warn("завершение сессии при остановке",
					slog.String("call_id", sess.CallID()),
					slog.Any("error", err))
			}
		}
		c.finalizeCall(cl)
	})
	for _, a := range c.accounts {
		if a.State().Registered() {
			if err := a.Unregister(); err != nil {
				c.log.Warn("снятие регистрации при остановке", slog.Any("error", err))
			}
		}
	}
	c.registry.Clear()
	c.metrics.callsActive.Set(0)
	c.metrics.conferencesLive.Set(0)
	c.state = GlobalOff
	c.log.Info("ядро остановлено")
}

// AddAccount регистрирует аккаунт в ядре.
func (c *Core) AddAccount(a *account.Account) {
	c.accounts[a.Identity().URI()] = a
}

// AccountByIdentity возвращает аккаунт по адресу идентичности.
func (c *Core) AccountByIdentity(addr *address.Address) (*account.Account, bool) {
	if a, ok := c.accounts[addr.URI()]; ok {
		return a, true
	}
	for _, a := range c.accounts {
		if a.Identity().WeakEqual(addr) {
			return a, true
		}
	}
	return nil, false
}

// Defer ставит однократное действие в очередь отложенных. Очередь
// опустошается в конце обработки каждого события, порядок FIFO.
func (c *Core) Defer(name string, run func()) {
	c.metrics.deferredTasks.Inc()
	c.tasks.Schedule(name, run)
}
