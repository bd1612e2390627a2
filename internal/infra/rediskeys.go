package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "cplane"
)

// Ключи состояния
const (
	RedisKeyKillSwitchState = RedisNamespace + ":killswitch:state"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanKillSwitch: сигнал остальным инстансам, что состояние kill-switch изменилось.
	RedisChanKillSwitch = RedisNamespace + ":killswitch:signal"
)
