// Package address реализует неизменяемый адрес протокола (URI),
// используемый как идентичность сессий, участников и аккаунтов.
package address

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Param представляет один параметр URI (;key=value).
// Порядок параметров сохраняется при парсинге и сериализации.
type Param struct {
	Name  string
	Value string
}

// Address представляет адрес протокола: схема, пользователь, хост, порт
// и упорядоченный набор параметров.
//
// Address неизменяем после создания: все мутирующие операции
// (WithParam, WithoutParam, WithDisplayName) возвращают копию.
type Address struct {
	scheme      string
	displayName string
	user        string
	host        string
	port        int
	params      []Param
}

// New создает адрес из базовых компонентов без параметров.
func New(scheme, user, host string, port int) *Address {
	return &Address{
		scheme: strings.ToLower(scheme),
		user:   user,
		host:   host,
		port:   port,
	}
}

// Parse разбирает строковое представление адреса.
// Поддерживаются формы "sip:user@host:port;params" и
// "Display Name <sip:user@host>;params".
func Parse(raw string) (*Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("пустой адрес")
	}

	a := &Address{}

	// Display name и угловые скобки
	if idx := strings.Index(raw, "<"); idx >= 0 {
		end := strings.LastIndex(raw, ">")
		if end < idx {
			return nil, fmt.Errorf("незакрытая угловая скобка в адресе: %q", raw)
		}
		a.displayName = strings.Trim(strings.TrimSpace(raw[:idx]), `"`)
		inner := raw[idx+1 : end]
		// Параметры после > относятся к адресу целиком
		tail := raw[end+1:]
		if err := a.parseURI(inner); err != nil {
			return nil, err
		}
		if err := a.parseParams(strings.TrimPrefix(tail, ";")); err != nil {
			return nil, err
		}
		return a, nil
	}

	if err := a.parseURI(raw); err != nil {
		return nil, err
	}
	return a, nil
}

// MustParse как Parse, но паникует при ошибке. Только для тестов и констант.
func MustParse(raw string) *Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// FromSIPURI конвертирует sipgo URI в Address.
func FromSIPURI(uri sip.Uri) *Address {
	a := &Address{
		scheme: strings.ToLower(uri.Scheme),
		user:   uri.User,
		host:   uri.Host,
		port:   uri.Port,
	}
	if a.scheme == "" {
		a.scheme = "sip"
	}
	// HeaderParams — map, порядок не определен; сортируем для детерминизма
	names := make([]string, 0, len(uri.UriParams))
	for name := range uri.UriParams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.params = append(a.params, Param{Name: name, Value: uri.UriParams[name]})
	}
	return a
}

func (a *Address) parseURI(raw string) error {
	colon := strings.Index(raw, ":")
	if colon < 0 {
		return fmt.Errorf("адрес без схемы: %q", raw)
	}
	a.scheme = strings.ToLower(raw[:colon])
	switch a.scheme {
	case "sip", "sips", "tel":
	default:
		return fmt.Errorf("неподдерживаемая схема адреса: %q", a.scheme)
	}
	rest := raw[colon+1:]

	// Для tel: всё остальное — номер
	if a.scheme == "tel" {
		if semi := strings.Index(rest, ";"); semi >= 0 {
			a.user = rest[:semi]
			return a.parseParams(rest[semi+1:])
		}
		a.user = rest
		return nil
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		a.user = rest[:at]
		rest = rest[at+1:]
	}

	var paramsPart string
	if semi := strings.Index(rest, ";"); semi >= 0 {
		paramsPart = rest[semi+1:]
		rest = rest[:semi]
	}

	// host[:port], включая IPv6 в квадратных скобках
	host, portStr, err := net.SplitHostPort(rest)
	if err == nil {
		a.host = host
		port, perr := strconv.Atoi(portStr)
		if perr != nil {
			return fmt.Errorf("невалидный порт в адресе: %q", portStr)
		}
		a.port = port
	} else {
		a.host = strings.Trim(rest, "[]")
	}
	if a.host == "" {
		return fmt.Errorf("адрес без хоста: %q", raw)
	}

	return a.parseParams(paramsPart)
}

func (a *Address) parseParams(s string) error {
	if s == "" {
		return nil
	}
	for _, p := range strings.Split(s, ";") {
		if p == "" {
			continue
		}
		if eq := strings.Index(p, "="); eq >= 0 {
			a.params = append(a.params, Param{Name: p[:eq], Value: p[eq+1:]})
		} else {
			a.params = append(a.params, Param{Name: p})
		}
	}
	return nil
}

// Scheme возвращает схему адреса ("sip", "sips", "tel").
func (a *Address) Scheme() string { return a.scheme }

// User возвращает пользовательскую часть.
func (a *Address) User() string { return a.user }

// Host возвращает хост.
func (a *Address) Host() string { return a.host }

// Port возвращает порт (0 — порт по умолчанию).
func (a *Address) Port() int { return a.port }

// DisplayName возвращает отображаемое имя, если было задано.
func (a *Address) DisplayName() string { return a.displayName }

// Secure сообщает, защищена ли схема (sips).
func (a *Address) Secure() bool { return a.scheme == "sips" }

// HasParam проверяет наличие параметра.
func (a *Address) HasParam(name string) bool {
	for _, p := range a.params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Param возвращает значение параметра и флаг его наличия.
func (a *Address) Param(name string) (string, bool) {
	for _, p := range a.params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// GRUU возвращает значение параметра "gr" (идентичность устройства).
func (a *Address) GRUU() string {
	v, _ := a.Param("gr")
	return v
}

// Params возвращает копию упорядоченного списка параметров.
func (a *Address) Params() []Param {
	out := make([]Param, len(a.params))
	copy(out, a.params)
	return out
}

// Clone возвращает глубокую копию адреса.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	c := *a
	c.params = make([]Param, len(a.params))
	copy(c.params, a.params)
	return &c
}

// WithParam возвращает копию с добавленным или замененным параметром.
func (a *Address) WithParam(name, value string) *Address {
	c := a.Clone()
	for i := range c.params {
		if c.params[i].Name == name {
			c.params[i].Value = value
			return c
		}
	}
	c.params = append(c.params, Param{Name: name, Value: value})
	return c
}

// WithoutParam возвращает копию без указанного параметра.
func (a *Address) WithoutParam(name string) *Address {
	c := a.Clone()
	out := c.params[:0]
	for _, p := range c.params {
		if p.Name != name {
			out = append(out, p)
		}
	}
	c.params = out
	return c
}

// WithDisplayName возвращает копию с указанным отображаемым именем.
func (a *Address) WithDisplayName(name string) *Address {
	c := a.Clone()
	c.displayName = name
	return c
}

// Equal выполняет строгое сравнение: схема, пользователь, хост, порт
// и все параметры с учетом порядка.
func (a *Address) Equal(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.WeakEqual(b) || a.scheme != b.scheme {
		return false
	}
	if len(a.params) != len(b.params) {
		return false
	}
	for i := range a.params {
		if a.params[i] != b.params[i] {
			return false
		}
	}
	return true
}

// WeakEqual выполняет слабое сравнение: только пользователь, хост и порт.
// Параметры и схема игнорируются. Используется повсеместно для
// сопоставления участников и устройств конференции.
func (a *Address) WeakEqual(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.user == b.user &&
		strings.EqualFold(a.host, b.host) &&
		a.port == b.port
}

// URI возвращает строковое представление без display name и внешних скобок.
func (a *Address) URI() string {
	var sb strings.Builder
	sb.WriteString(a.scheme)
	sb.WriteByte(':')
	if a.scheme == "tel" {
		sb.WriteString(a.user)
	} else {
		if a.user != "" {
			sb.WriteString(a.user)
			sb.WriteByte('@')
		}
		if strings.Contains(a.host, ":") {
			sb.WriteByte('[')
			sb.WriteString(a.host)
			sb.WriteByte(']')
		} else {
			sb.WriteString(a.host)
		}
		if a.port != 0 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(a.port))
		}
	}
	for _, p := range a.params {
		sb.WriteByte(';')
		sb.WriteString(p.Name)
		if p.Value != "" {
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
	}
	return sb.String()
}

// String возвращает полное представление, включая display name.
func (a *Address) String() string {
	if a == nil {
		return ""
	}
	if a.displayName != "" {
		return fmt.Sprintf("%q <%s>", a.displayName, a.URI())
	}
	return a.URI()
}
