package core

import "log/slog"

// deferredTask однократное действие, отложенное на следующий виток
// обработки событий. Часть действий нельзя выполнять внутри текущего
// витка: возобновление вызова посреди пересогласования паузы или
// перенаправление сессии, еще не вышедшей из Idle.
type deferredTask struct {
	name string
	run  func()
}

// taskQueue очередь отложенных действий. Порядок строго FIFO по
// моменту постановки, приоритетов нет. Очередь наполняется и
// опустошается только из витка обработки событий, блокировок не нужно.
type taskQueue struct {
	tasks    []deferredTask
	draining bool
	log      *slog.Logger
}

func newTaskQueue(log *slog.Logger) *taskQueue {
	return &taskQueue{log: log}
}

// Schedule ставит действие в конец очереди.
func (q *taskQueue) Schedule(name string, run func()) {
	q.tasks = append(q.tasks, deferredTask{name: name, run: run})
	q.log.Debug("действие отложено", slog.String("task", name))
}

// Drain выполняет накопленные действия один раз за виток. Действия,
// поставленные во время выполнения, остаются до следующего витка.
func (q *taskQueue) Drain() {
	if q.draining || len(q.tasks) == 0 {
		return
	}
	q.draining = true
	batch := q.tasks
	q.tasks = nil
	for _, t := range batch {
		q.log.Debug("выполнение отложенного действия", slog.String("task", t.name))
		t.run()
	}
	q.draining = false
}

// Len число действий в очереди.
func (q *taskQueue) Len() int { return len(q.tasks) }
