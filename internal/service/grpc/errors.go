package grpcsvc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
)

// Trailer-ключи, по которым клиент различает вид отказа без разбора текста.
const (
	ErrorKindTrailer = "x-error-kind"
	ProductIDTrailer = "x-product-id"
)

var kindCodes = map[domain.ErrorKind]codes.Code{
	domain.KindValidation:        codes.InvalidArgument,
	domain.KindNotFound:          codes.NotFound,
	domain.KindUnauthorized:      codes.PermissionDenied,
	domain.KindInsufficientStock: codes.FailedPrecondition,
	domain.KindInvalidState:      codes.FailedPrecondition,
	domain.KindInvalidTransition: codes.FailedPrecondition,
	domain.KindConflict:          codes.AlreadyExists,
	domain.KindInternal:          codes.Internal,
}

// codeFor возвращает gRPC-код для доменной ошибки.
func codeFor(err *domain.Error) codes.Code {
	if err.Kind == domain.KindConflict && errors.Is(err, idempotency.ErrInProgress) {
		return codes.Aborted
	}
	if code, ok := kindCodes[err.Kind]; ok {
		return code
	}
	return codes.Internal
}

// idempotencyErrorPayload - сохранённый под ключом отказ, который воспроизводится при повторе.
type idempotencyErrorPayload struct {
	Code      int32            `json:"code"`
	Message   string           `json:"message"`
	Kind      domain.ErrorKind `json:"kind"`
	ProductID int64            `json:"product_id,omitempty"`
}

func grpcCodeFromInt32(value int32) (codes.Code, bool) {
	if value < int32(codes.OK) || value > int32(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

// setErrorTrailer передаёт вид ошибки и товар в trailer-метаданных ответа.
func setErrorTrailer(ctx context.Context, kind domain.ErrorKind, productID int64) {
	pairs := []string{ErrorKindTrailer, string(kind)}
	if productID > 0 {
		pairs = append(pairs, ProductIDTrailer, strconv.FormatInt(productID, 10))
	}
	// Вне серверного вызова SetTrailer возвращает ошибку.
	_ = grpc.SetTrailer(ctx, metadata.Pairs(pairs...))
}

func (p idempotencyErrorPayload) status() error {
	code, ok := grpcCodeFromInt32(p.Code)
	if !ok || code == codes.OK {
		code = codes.Internal
	}
	message := p.Message
	if message == "" {
		message = "previous request with the same idempotency key failed"
	}
	return status.Error(code, message)
}
