package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type itemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type createOrderRequest struct {
	Items []itemRequest `json:"items"`
}

type updateOrderRequest struct {
	Status *string `json:"status"`
}

// createProductRequest принимает цену строкой ("12.49") или числом; в минимальные единицы
// она переводится без округления.
type createProductRequest struct {
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Stock int64            `json:"stock"`
}

type orderItemResponse struct {
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
}

type orderResponse struct {
	ID        string              `json:"id"`
	UserID    int64               `json:"user_id"`
	Total     string              `json:"total"`
	Status    string              `json:"status"`
	Items     []orderItemResponse `json:"items"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type productResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int64  `json:"stock"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type orderMessageResponse struct {
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

type productMessageResponse struct {
	Message string          `json:"message"`
	Product productResponse `json:"product"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toOrderResponse(order domain.Order) orderResponse {
	out := orderResponse{
		ID:        order.ID,
		UserID:    order.UserID,
		Total:     domain.FormatMinor(order.TotalMinor),
		Status:    string(order.Status),
		Items:     make([]orderItemResponse, 0, len(order.Items)),
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, orderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     domain.FormatMinor(item.PriceMinor),
		})
	}
	return out
}

func toProductResponse(product domain.Product) productResponse {
	return productResponse{
		ID:    product.ID,
		Name:  product.Name,
		Price: domain.FormatMinor(product.PriceMinor),
		Stock: product.Stock,
	}
}
