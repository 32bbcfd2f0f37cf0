package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки ядра, чтобы вызывающая сторона ветвилась по типу, а не по тексту.
type ErrorKind string

const (
	// KindValidation - некорректный или неполный ввод, повтор бессмысленен.
	KindValidation ErrorKind = "validation"
	// KindNotFound - сущность, на которую ссылается запрос, отсутствует.
	KindNotFound ErrorKind = "not_found"
	// KindUnauthorized - сущность существует, но принадлежит другому пользователю.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindInsufficientStock - на складе не хватает товара; ошибка содержит идентификатор товара.
	KindInsufficientStock ErrorKind = "insufficient_stock"
	// KindInvalidState - операция недопустима в текущем статусе заказа.
	KindInvalidState ErrorKind = "invalid_state"
	// KindInvalidTransition - запрошенный переход статуса запрещён.
	KindInvalidTransition ErrorKind = "invalid_transition"
	// KindConflict - конфликт повторного запроса (idempotency-key).
	KindConflict ErrorKind = "conflict"
	// KindInternal - сбой хранилища или инфраструктуры; запрос можно повторить.
	KindInternal ErrorKind = "internal"
)

// Сентинелы по видам ошибок: errors.Is(err, ErrNotFound) работает для любой *Error нужного вида.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal error")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:        ErrValidation,
	KindNotFound:          ErrNotFound,
	KindUnauthorized:      ErrUnauthorized,
	KindInsufficientStock: ErrInsufficientStock,
	KindInvalidState:      ErrInvalidState,
	KindInvalidTransition: ErrInvalidTransition,
	KindConflict:          ErrConflict,
	KindInternal:          ErrInternal,
}

// Error - доменная ошибка с явным видом.
type Error struct {
	Kind    ErrorKind
	Message string
	// ProductID заполняется для KindInsufficientStock и KindNotFound по товару.
	ProductID int64
	// Err - исходная причина (для KindInternal).
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap отдаёт сентинел вида и исходную причину.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError создаёт ошибку заданного вида.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation описывает ошибку входных данных.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound описывает отсутствующую сущность.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// ProductNotFound описывает ссылку на несуществующий товар.
func ProductNotFound(productID int64) *Error {
	return &Error{
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("product %d not found", productID),
		ProductID: productID,
	}
}

// Unauthorized описывает доступ к чужому заказу.
func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Message: "unauthorized"}
}

// InsufficientStock описывает нехватку товара на складе.
func InsufficientStock(product Product) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %s", product.Name),
		ProductID: product.ID,
	}
}

// InvalidState описывает операцию, недопустимую в текущем статусе.
func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

// InvalidTransition описывает запрещённый переход статуса.
func InvalidTransition(from, to OrderStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot change order status from %s to %s", from, to),
	}
}

// Conflict описывает конфликт повторного запроса.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Internal оборачивает инфраструктурную ошибку.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}

// AsError приводит произвольную ошибку к *Error; всё, что не является доменной ошибкой, становится KindInternal.
func AsError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return Internal(op, err)
}

// KindOf возвращает вид ошибки. Для nil возвращается пустая строка.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInternal
}

// IsKind проверяет вид ошибки.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable сообщает, имеет ли смысл повторять запрос. Бизнес-отказы не повторяются.
func Retryable(err error) bool {
	return IsKind(err, KindInternal)
}

var (
	// ErrOrderNotFound возвращается репозиторием, если заказа нет.
	ErrOrderNotFound = NewError(KindNotFound, "order not found")
	// ErrOrderAlreadyExists возвращается при повторной вставке заказа с тем же ID.
	ErrOrderAlreadyExists = NewError(KindConflict, "order already exists")
	// ErrProductNotFound возвращается каталогом, если товара нет.
	ErrProductNotFound = NewError(KindNotFound, "product not found")
	// ErrOutboxPublish - ошибка при публикации или отметке сообщения outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Инварианты заказа и товара.
var (
	ErrUserRequired          = errors.New("user_id is required")
	ErrItemsRequired         = errors.New("order must contain at least one item")
	ErrItemQtyInvalid        = errors.New("item quantity must be greater than zero")
	ErrItemPriceInvalid      = errors.New("item price must be non-negative")
	ErrItemProductRequired   = errors.New("item product_id is required")
	ErrTotalNegative         = errors.New("order total must be non-negative")
	ErrTotalMismatch         = errors.New("order total does not match items sum")
	ErrTotalOverflow         = errors.New("order total exceeds the supported range")
	ErrProductNameRequired   = errors.New("product name is required")
	ErrProductPriceNegative  = errors.New("price must be non-negative")
	ErrProductStockNegative  = errors.New("stock must be non-negative")
	ErrReservationQtyInvalid = errors.New("reservation quantity must be greater than zero")
)

// Ошибки idempotency-репозитория.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IsIdempotencyConflict проверяет, что ключ уже использовался.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
