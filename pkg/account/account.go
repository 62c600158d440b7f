package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// nowFn подменяется в тестах.
var nowFn = time.Now

// События переходов автомата регистрации.
const (
	evRegister = "register"
	evOk       = "ok"
	evRefresh  = "refresh"
	evClear    = "clear"
	evFail     = "fail"
	evDegrade  = "degrade"
)

// ErrNoCertificate сертификатный режим без сертификата: жесткий отказ,
// запрос к приложению не ставится в очередь.
var ErrNoCertificate = errors.New("account: клиентский сертификат недоступен")

// PresencePublish дескриптор публикации присутствия аккаунта.
// При потере регистрации публикация завершается и помечается к
// повторной отправке после восстановления.
type PresencePublish struct {
	active        bool
	resendPending bool
}

// Active сообщает, действует ли публикация.
func (p *PresencePublish) Active() bool { return p.active }

// ResendPending сообщает, ожидает ли публикация повторной отправки.
func (p *PresencePublish) ResendPending() bool { return p.resendPending }

// Config параметры аккаунта.
type Config struct {
	// Identity адрес идентичности аккаунта
	Identity *address.Address

	Credentials CredentialStore
	Refresher   TokenRefresher

	// OnCredentialRetry вызывается, когда приложение ответило на
	// отложенный запрос учетных данных и исходную транзакцию пора
	// повторить
	OnCredentialRetry func(req *CredentialRequest, result AuthResult)

	// OnPresenceResend вызывается при восстановлении регистрации,
	// если публикация присутствия ожидает повторной отправки
	OnPresenceResend func(a *Account)

	Logger *slog.Logger
}

// Account автомат регистрации и аутентификации одной идентичности.
// Мутации происходят в рамках одного витка обработки событий,
// внутренних блокировок нет.
type Account struct {
	identity *address.Address
	machine  *fsm.FSM

	// prev предыдущее состояние регистрации
	prev State

	presence *PresencePublish

	creds     CredentialStore
	refresher TokenRefresher

	// pendingAuth очередь отложенных запросов учетных данных, FIFO,
	// не больше одного невыполненного запроса на область
	pendingAuth []*CredentialRequest

	onRetry          func(req *CredentialRequest, result AuthResult)
	onPresenceResend func(a *Account)
	onState          func(a *Account, from, to State)

	log *slog.Logger
}

// New создает аккаунт в состоянии None.
func New(cfg Config) (*Account, error) {
	if cfg.Identity == nil {
		return nil, errors.New("account: не задан адрес идентичности")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Account{
		identity:         cfg.Identity,
		prev:             StateNone,
		creds:            cfg.Credentials,
		refresher:        cfg.Refresher,
		onRetry:          cfg.OnCredentialRetry,
		onPresenceResend: cfg.OnPresenceResend,
		log:              logger.With(slog.String("account", cfg.Identity.String())),
	}
	a.machine = fsm.NewFSM(
		StateNone.String(),
		fsm.Events{
			{Name: evRegister, Src: []string{
				StateNone.String(),
				StateCleared.String(),
				StateFailed.String(),
			}, Dst: StateProgress.String()},
			{Name: evOk, Src: []string{
				StateProgress.String(),
				StateRefreshing.String(),
			}, Dst: StateOk.String()},
			{Name: evRefresh, Src: []string{StateOk.String()}, Dst: StateRefreshing.String()},
			{Name: evClear, Src: []string{
				StateProgress.String(),
				StateOk.String(),
				StateRefreshing.String(),
			}, Dst: StateCleared.String()},
			{Name: evFail, Src: []string{
				StateProgress.String(),
				StateOk.String(),
				StateRefreshing.String(),
			}, Dst: StateFailed.String()},
			{Name: evDegrade, Src: []string{
				StateOk.String(),
				StateRefreshing.String(),
			}, Dst: StateProgress.String()},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if e.Src == e.Dst {
					return
				}
				from := regStatesByName[e.Src]
				to := regStatesByName[e.Dst]
				a.prev = from
				a.stateChanged(from, to)
			},
		},
	)
	return a, nil
}

func (a *Account) fire(event string) error {
	return a.machine.Event(context.Background(), event)
}

// Identity адрес идентичности аккаунта.
func (a *Account) Identity() *address.Address { return a.identity }

// State текущее состояние регистрации.
func (a *Account) State() State { return regStatesByName[a.machine.Current()] }

// PreviousState предыдущее состояние регистрации.
func (a *Account) PreviousState() State { return a.prev }

// Presence дескриптор публикации присутствия, nil если не публиковалась.
func (a *Account) Presence() *PresencePublish { return a.presence }

// OnStateChange устанавливает обработчик смены состояния регистрации.
func (a *Account) OnStateChange(h func(a *Account, from, to State)) { a.onState = h }

func (a *Account) stateChanged(from, to State) {
	a.log.Info("смена состояния регистрации",
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	// потеря регистрации завершает публикацию присутствия и помечает
	// ее к повторной отправке после восстановления
	if from.Registered() && !to.Registered() || to == StateFailed {
		if a.presence != nil && a.presence.active {
			a.presence.active = false
			a.presence.resendPending = to != StateCleared
		}
	}
	if to == StateOk && a.presence != nil && a.presence.resendPending {
		a.presence.resendPending = false
		a.presence.active = true
		if a.onPresenceResend != nil {
			a.onPresenceResend(a)
		}
	}
	if a.onState != nil {
		a.onState(a, from, to)
	}
}

// StartPresence отмечает активную публикацию присутствия.
func (a *Account) StartPresence() {
	if a.presence == nil {
		a.presence = &PresencePublish{}
	}
	a.presence.active = true
}

// Register начинает регистрацию.
func (a *Account) Register() error { return a.fire(evRegister) }

// Unregister снимает регистрацию по запросу.
func (a *Account) Unregister() error { return a.fire(evClear) }

// HandleRegisterSuccess обрабатывает успешный ответ на регистрацию.
// Успех, пришедший в состоянии Ok, проходит через Refreshing. Успех
// снятия регистрации (cleared) ведет в Cleared.
func (a *Account) HandleRegisterSuccess(cleared bool) error {
	if a.State() == StateOk {
		if err := a.fire(evRefresh); err != nil {
			return err
		}
	}
	if cleared {
		return a.fire(evClear)
	}
	return a.fire(evOk)
}

// HandleRegisterFailure обрабатывает неуспех регистрации.
// Ответ 401/407 не является сбоем: состояние не меняется в ожидании
// события auth-requested. Недоступность сервиса или сбой ввода-вывода
// при действующей регистрации деградирует в Progress с продолжением
// попыток, а не в Failed.
func (a *Account) HandleRegisterFailure(info *signal.ErrorInfo) error {
	if info != nil && info.Reason == signal.ReasonAuthChallenge {
		a.log.Debug("запрошена аутентификация регистрации",
			slog.Int("code", info.ProtocolCode))
		return nil
	}
	if info != nil && a.State().Registered() {
		switch info.Reason {
		case signal.ReasonServiceUnavailable, signal.ReasonIOError, signal.ReasonRequestTimeout:
			return a.fire(evDegrade)
		}
	}
	return a.fire(evFail)
}

// HandleAuthRequested обрабатывает запрос аутентификации транспортного
// слоя. Дайджест: сохраненные данные отдаются синхронно, иначе запрос
// ставится в очередь к приложению, а транзакция быстро завершается со
// статусом Pending. Bearer: просроченный или отсутствующий токен
// запускает асинхронное обновление, транзакция еще не может идти.
// Сертификат: отсутствие материала это жесткий отказ без очереди.
func (a *Account) HandleAuthRequested(tx signal.Transaction, mode signal.AuthMode, realm string) AuthResult {
	switch mode {
	case signal.AuthModeDigest:
		return a.handleDigest(tx, realm)
	case signal.AuthModeBearer:
		return a.handleBearer(realm)
	case signal.AuthModeTLSCert:
		if a.creds != nil && a.creds.HasCertificate(realm) {
			return AuthResult{Status: AuthSupplied}
		}
		return AuthResult{Status: AuthFailed, Err: ErrNoCertificate}
	default:
		return AuthResult{Status: AuthFailed, Err: errors.New("account: неизвестный режим аутентификации")}
	}
}

func (a *Account) handleDigest(tx signal.Transaction, realm string) AuthResult {
	if a.creds != nil {
		if cred, ok := a.creds.DigestCredential(realm); ok {
			auth, err := digestAuthorization(
				tx.Header("WWW-Authenticate"),
				tx.Kind().String(),
				a.identity.URI(),
				cred,
			)
			if err != nil {
				return AuthResult{Status: AuthFailed, Err: err}
			}
			return AuthResult{Status: AuthSupplied, Authorization: auth}
		}
	}
	// не больше одного невыполненного запроса на область
	for _, req := range a.pendingAuth {
		if req.Realm == realm {
			return AuthResult{Status: AuthPending}
		}
	}
	a.pendingAuth = append(a.pendingAuth, &CredentialRequest{
		Realm: realm,
		Mode:  signal.AuthModeDigest,
		Tx:    tx,
	})
	a.log.Info("запрос учетных данных поставлен в очередь", slog.String("realm", realm))
	return AuthResult{Status: AuthPending}
}

func (a *Account) handleBearer(realm string) AuthResult {
	var token string
	if a.creds != nil {
		token, _ = a.creds.BearerToken(realm)
	}
	if tokenUsable(token) {
		return AuthResult{Status: AuthSupplied, Token: token}
	}
	if a.refresher != nil {
		a.refresher.RefreshToken(realm)
	}
	return AuthResult{Status: AuthPending}
}

// PendingCredentialRequests отложенные запросы учетных данных, FIFO.
func (a *Account) PendingCredentialRequests() []*CredentialRequest {
	out := make([]*CredentialRequest, len(a.pendingAuth))
	copy(out, a.pendingAuth)
	return out
}

// AnswerCredential ответ приложения на отложенный запрос. Первый
// подходящий запрос снимается с очереди, исходная транзакция
// повторяется с вычисленными данными.
func (a *Account) AnswerCredential(realm string, cred DigestCredential) bool {
	for i, req := range a.pendingAuth {
		if req.Realm != realm {
			continue
		}
		a.pendingAuth = append(a.pendingAuth[:i], a.pendingAuth[i+1:]...)
		result := AuthResult{Status: AuthSupplied}
		auth, err := digestAuthorization(
			req.Tx.Header("WWW-Authenticate"),
			req.Tx.Kind().String(),
			a.identity.URI(),
			cred,
		)
		if err != nil {
			result = AuthResult{Status: AuthFailed, Err: err}
		} else {
			result.Authorization = auth
		}
		if a.onRetry != nil {
			a.onRetry(req, result)
		}
		return true
	}
	return false
}
