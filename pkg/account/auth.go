package account

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/icholy/digest"

	"github.com/arzzra/rtc_engine/pkg/signal"
)

// DigestCredential пара логин/пароль для дайджест-аутентификации.
type DigestCredential struct {
	Username string
	Password string
}

// CredentialStore внешнее хранилище учетных данных. Само хранение
// вне ядра; здесь только поиск.
type CredentialStore interface {
	// DigestCredential возвращает учетные данные для области realm
	DigestCredential(realm string) (DigestCredential, bool)
	// BearerToken возвращает сохраненный токен для области realm
	BearerToken(realm string) (string, bool)
	// HasCertificate сообщает о наличии клиентского сертификата
	HasCertificate(realm string) bool
}

// TokenRefresher запускает асинхронное обновление токена. Новый токен
// попадает в CredentialStore вне текущего витка обработки.
type TokenRefresher interface {
	RefreshToken(realm string)
}

// AuthStatus исход запроса аутентификации.
type AuthStatus int

const (
	// AuthSupplied - учетные данные получены, транзакция может идти
	AuthSupplied AuthStatus = iota
	// AuthPending - данных пока нет, транзакция завершается быстро;
	// ответ приложения позже вызовет повтор исходной транзакции
	AuthPending
	// AuthFailed - данных нет и не будет, жесткий отказ
	AuthFailed
)

func (s AuthStatus) String() string {
	switch s {
	case AuthSupplied:
		return "supplied"
	case AuthPending:
		return "pending"
	case AuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthResult результат обработки запроса аутентификации.
type AuthResult struct {
	Status AuthStatus
	// Authorization готовое значение заголовка для дайджест-режима
	Authorization string
	// Token действующий токен для bearer-режима
	Token string
	// Err причина при Status == AuthFailed
	Err error
}

// CredentialRequest отложенный запрос учетных данных к приложению.
// Очередь запросов строго per-account и FIFO.
type CredentialRequest struct {
	Realm string
	Mode  signal.AuthMode
	// Tx исходная транзакция, повторяемая после ответа приложения
	Tx signal.Transaction
}

// digestAuthorization вычисляет значение заголовка Authorization по
// вызову сервера и сохраненным учетным данным.
func digestAuthorization(challenge, method, uri string, cred DigestCredential) (string, error) {
	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("разбор вызова дайджеста: %w", err)
	}
	answer, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: cred.Username,
		Password: cred.Password,
	})
	if err != nil {
		return "", fmt.Errorf("вычисление дайджеста: %w", err)
	}
	return answer.String(), nil
}

// tokenUsable проверяет токен на пригодность: токен есть и срок
// действия не истек. Подпись не проверяется, это задача сервера.
func tokenUsable(token string) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if exp == nil {
		// токен без срока действия считается действующим
		return true
	}
	return exp.After(nowFn())
}
