// Package call реализует пользовательскую обертку над сессией вызова:
// объект Call и журнал вызовов с персистентным хранилищем.
package call

import (
	"time"

	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/session"
	"github.com/arzzra/rtc_engine/pkg/signal"
)

// Outcome исход вызова, фиксируемый в журнале.
type Outcome int

const (
	// OutcomeSuccess - вызов состоялся
	OutcomeSuccess Outcome = iota
	// OutcomeAborted - вызов прерван до ответа
	OutcomeAborted
	// OutcomeMissed - входящий вызов пропущен
	OutcomeMissed
	// OutcomeDeclined - вызов отклонен
	OutcomeDeclined
	// OutcomeEarlyFailed - вызов отклонен до создания сессии;
	// синтетическая запись для консистентности истории
	OutcomeEarlyFailed
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:     "success",
	OutcomeAborted:     "aborted",
	OutcomeMissed:      "missed",
	OutcomeDeclined:    "declined",
	OutcomeEarlyFailed: "early-failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Log запись журнала о завершенном (или отклоненном) вызове.
type Log struct {
	CallID    string        `json:"call_id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Direction string        `json:"direction"`
	Outcome   Outcome       `json:"outcome"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ErrorCode int           `json:"error_code,omitempty"`
}

// Call пользовательская обертка вызова: ровно одна сессия плюс журнал.
// Ссылка на конференцию - невладеющая, по адресу конференции, а не по
// указателю: конференция и вызов живут независимо.
type Call struct {
	sess *session.Session
	log  *Log

	conferenceAddr string
}

// New создает Call поверх сессии.
func New(sess *session.Session, from, to *address.Address) *Call {
	return &Call{
		sess: sess,
		log: &Log{
			CallID:    sess.CallID(),
			From:      from.String(),
			To:        to.String(),
			Direction: sess.Direction().String(),
			StartedAt: time.Now(),
		},
	}
}

// Session возвращает сессию вызова.
func (c *Call) Session() *session.Session { return c.sess }

// Log возвращает запись журнала вызова.
func (c *Call) Log() *Log { return c.log }

// CallID возвращает идентификатор вызова.
func (c *Call) CallID() string { return c.sess.CallID() }

// SetConference прикрепляет вызов к конференции по ее адресу.
// Пустая строка отсоединяет.
func (c *Call) SetConference(confAddr string) { c.conferenceAddr = confAddr }

// Conference возвращает адрес конференции, в которой участвует вызов.
func (c *Call) Conference() string { return c.conferenceAddr }

// InConference сообщает, участвует ли вызов в конференции.
func (c *Call) InConference() bool { return c.conferenceAddr != "" }

// FinishLog дополняет журнал по финальному состоянию сессии.
func (c *Call) FinishLog() *Log {
	c.log.Duration = c.sess.Duration()
	switch {
	case c.sess.State() == session.StateError:
		c.log.Outcome = OutcomeAborted
		if info := c.sess.ErrorInfo(); info != nil {
			c.log.ErrorCode = info.ProtocolCode
			if info.Reason == signal.ReasonDeclined {
				c.log.Outcome = OutcomeDeclined
			}
		}
	case c.sess.Duration() > 0:
		c.log.Outcome = OutcomeSuccess
	case c.sess.Direction() == session.DirectionIncoming:
		if info := c.sess.ErrorInfo(); info != nil && info.Reason == signal.ReasonDeclined {
			c.log.Outcome = OutcomeDeclined
		} else {
			c.log.Outcome = OutcomeMissed
		}
	default:
		c.log.Outcome = OutcomeAborted
	}
	return c.log
}

// NewEarlyFailureLog создает синтетическую запись для вызова,
// отклоненного до создания сессии.
func NewEarlyFailureLog(callID string, from, to *address.Address, reason signal.Reason) *Log {
	l := &Log{
		CallID:    callID,
		Direction: session.DirectionIncoming.String(),
		Outcome:   OutcomeEarlyFailed,
		StartedAt: time.Now(),
		ErrorCode: reason.StatusCode(),
	}
	if reason == signal.ReasonDeclined {
		l.Outcome = OutcomeDeclined
	}
	if from != nil {
		l.From = from.String()
	}
	if to != nil {
		l.To = to.String()
	}
	return l
}
