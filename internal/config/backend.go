package config

// ConfigBackend abstracts where non-secret config values are persisted.
// Keys are dotted paths such as "server.port" or "webhooks.test_cases".
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
