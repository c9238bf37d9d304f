package models

import "time"

const (
	// DefaultPaymentWindow время на оплату до автоматического снятия брони
	DefaultPaymentWindow = 15 * time.Minute

	// DefaultMaxNights максимальная длина проживания
	DefaultMaxNights = 30

	// DefaultCacheTTL время жизни вердикта доступности в кэше
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCreateAttempts попытки создания при конфликте записи
	DefaultCreateAttempts = 3

	DefaultBackoffBase = 25 * time.Millisecond
	DefaultBackoffCap  = 200 * time.Millisecond

	// DefaultSweepInterval период запуска очистки просроченных броней
	DefaultSweepInterval = 30 * time.Second

	// DefaultSweepBatch размер страницы при выборке кандидатов
	DefaultSweepBatch = 100
)

const (
	CacheSourceRedis  = "redis"
	CacheSourceMemory = "memory"
)
