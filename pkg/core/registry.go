package core

import (
	"hash/fnv"
	"sync"

	"github.com/arzzra/rtc_engine/pkg/call"
	"github.com/arzzra/rtc_engine/pkg/conference"
	"github.com/arzzra/rtc_engine/pkg/session"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// sessionShardCount количество шардов реестра сессий.
// Должно быть степенью 2 для быстрого вычисления индекса.
const sessionShardCount = 32

type sessionShard struct {
	calls map[string]*call.Call
	mutex sync.RWMutex
}

// Registry реестр живых объектов ядра: вызовы с их сессиями по
// идентификатору вызова и конференции по адресу фокуса.
//
// Карта вызовов шардирована: события разных вызовов приходят из
// транспортного слоя параллельно, и шардирование с отдельным
// мьютексом на шард устраняет глобальную точку конкуренции.
// Конференций на порядки меньше, им хватает одной карты.
type Registry struct {
	shards [sessionShardCount]*sessionShard

	confMutex   sync.RWMutex
	conferences map[string]*conference.Conference
}

// NewRegistry создает пустой реестр.
func NewRegistry() *Registry {
	r := &Registry{
		conferences: make(map[string]*conference.Conference),
	}
	for i := range r.shards {
		r.shards[i] = &sessionShard{calls: make(map[string]*call.Call)}
	}
	return r
}

func (r *Registry) shard(callID string) *sessionShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(callID))
	return r.shards[hasher.Sum32()&(sessionShardCount-1)]
}

// AddCall регистрирует вызов по идентификатору его сессии.
func (r *Registry) AddCall(c *call.Call) {
	shard := r.shard(c.Session().CallID())
	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	shard.calls[c.Session().CallID()] = c
}

// Call возвращает вызов по идентификатору.
func (r *Registry) Call(callID string) (*call.Call, bool) {
	shard := r.shard(callID)
	shard.mutex.RLock()
	defer shard.mutex.RUnlock()
	c, ok := shard.calls[callID]
	return c, ok
}

// SessionByCallID возвращает сессию вызова; nil, если вызова нет.
// Реализует разрешение слабых ссылок устройств конференции.
func (r *Registry) SessionByCallID(callID string) *session.Session {
	c, ok := r.Call(callID)
	if !ok {
		return nil
	}
	return c.Session()
}

// RemoveCall удаляет вызов из реестра.
func (r *Registry) RemoveCall(callID string) bool {
	shard := r.shard(callID)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	_, ok := shard.calls[callID]
	if ok {
		delete(shard.calls, callID)
	}
	return ok
}

// CallCount число живых вызовов.
func (r *Registry) CallCount() int {
	count := 0
	for i := range r.shards {
		r.shards[i].mutex.RLock()
		count += len(r.shards[i].calls)
		r.shards[i].mutex.RUnlock()
	}
	return count
}

// ForEachCall выполняет fn для каждого вызова. Итерация идет по
// копии, fn может безопасно менять реестр.
func (r *Registry) ForEachCall(fn func(*call.Call)) {
	var all []*call.Call
	for i := range r.shards {
		r.shards[i].mutex.RLock()
		for _, c := range r.shards[i].calls {
			all = append(all, c)
		}
		r.shards[i].mutex.RUnlock()
	}
	for _, c := range all {
		fn(c)
	}
}

// AddConference регистрирует конференцию по адресу фокуса.
func (r *Registry) AddConference(c *conference.Conference) {
	r.confMutex.Lock()
	defer r.confMutex.Unlock()
	r.conferences[c.FocusAddress().URI()] = c
}

// Conference возвращает конференцию по адресу фокуса.
func (r *Registry) Conference(focusURI string) (*conference.Conference, bool) {
	r.confMutex.RLock()
	defer r.confMutex.RUnlock()
	c, ok := r.conferences[focusURI]
	return c, ok
}

// ConferenceByID ищет конференцию по значению параметра conf-id
// адреса ее фокуса.
func (r *Registry) ConferenceByID(confID string) (*conference.Conference, bool) {
	r.confMutex.RLock()
	defer r.confMutex.RUnlock()
	for _, c := range r.conferences {
		if id, ok := c.FocusAddress().Param(signal.URIParamConfID); ok && id == confID {
			return c, true
		}
	}
	return nil, false
}

// RemoveConference удаляет конференцию из реестра.
func (r *Registry) RemoveConference(focusURI string) bool {
	r.confMutex.Lock()
	defer r.confMutex.Unlock()
	_, ok := r.conferences[focusURI]
	if ok {
		delete(r.conferences, focusURI)
	}
	return ok
}

// ConferenceCount число зарегистрированных конференций.
func (r *Registry) ConferenceCount() int {
	r.confMutex.RLock()
	defer r.confMutex.RUnlock()
	return len(r.conferences)
}

// ForEachConference выполняет fn для каждой конференции по копии.
func (r *Registry) ForEachConference(fn func(*conference.Conference)) {
	r.confMutex.RLock()
	all := make([]*conference.Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		all = append(all, c)
	}
	r.confMutex.RUnlock()
	for _, c := range all {
		fn(c)
	}
}

// Clear опустошает реестр целиком. Используется при глобальной
// остановке, когда хуки снятия регистрации подавлены.
func (r *Registry) Clear() {
	for i := range r.shards {
		r.shards[i].mutex.Lock()
		r.shards[i].calls = make(map[string]*call.Call)
		r.shards[i].mutex.Unlock()
	}
	r.confMutex.Lock()
	r.conferences = make(map[string]*conference.Conference)
	r.confMutex.Unlock()
}
