package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing - первый запрос с ключом ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone - заказ создан, ответ сохранён для повторов.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed - создание отклонено бизнес-правилом; отказ тоже воспроизводится.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord связывает ключ клиента с отпечатком запроса createOrder и его итогом.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	// ResponseBody - сериализованный ответ адаптера (HTTP-тело или JSON gRPC-ответа).
	ResponseBody []byte
	// ResponseCode - HTTP-статус или код gRPC, в зависимости от адаптера, записавшего ответ.
	ResponseCode int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Finished сообщает, что по ключу уже сохранён окончательный ответ.
func (r IdempotencyRecord) Finished() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ExpiredAt сообщает, что срок жизни ключа истёк к моменту at.
// Запись без TTL не истекает.
func (r IdempotencyRecord) ExpiredAt(at time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(at)
}

// Matches сравнивает отпечаток повторного запроса с сохранённым.
func (r IdempotencyRecord) Matches(requestHash string) bool {
	return r.RequestHash == requestHash
}
