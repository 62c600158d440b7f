package core

// Config переключатели поведения ядра.
type Config struct {
	// RejectDuplicateCalls отклонять с Busy входящий вызов от пира,
	// чей исходящий вызов уже идет, для защиты от звонка самому себе.
	// Разветвленные плечи с общим идентификатором вызова не
	// отклоняются.
	RejectDuplicateCalls bool

	// PreferAssertedIdentity при атрибуции вызова доверять заголовку
	// подтвержденной идентичности, а не полю From
	PreferAssertedIdentity bool

	// OneToOneChatEnabled разрешает автосоздание диалоговых бесед
	OneToOneChatEnabled bool

	// FullStateNotifications включает инкрементальную рассылку
	// полного состояния конференции подписчикам
	FullStateNotifications bool

	// AutoAcceptTransfers немедленно следовать за переводом вызова
	// без подтверждения приложения
	AutoAcceptTransfers bool

	// CallLogSearchDepth глубина поиска в журнале при дедупликации по
	// идентификатору вызова; 0 означает поиск без ограничения
	CallLogSearchDepth int
}

// DefaultConfig переключатели по умолчанию.
func DefaultConfig() *Config {
	return &Config{
		RejectDuplicateCalls:   true,
		PreferAssertedIdentity: true,
		OneToOneChatEnabled:    true,
		FullStateNotifications: true,
		AutoAcceptTransfers:    false,
		CallLogSearchDepth:     64,
	}
}
