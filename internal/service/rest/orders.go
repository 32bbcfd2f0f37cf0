package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
)

const (
	contentTypeJSON  = "application/json; charset=utf-8"
	createOrderScope = "POST /api/orders/"
)

// GET /api/orders/
func (h *handler) listOrders(c *gin.Context) {
	list, err := h.api.ListOrders(c.Request.Context(), c.GetInt64(userIDKey))
	if err != nil {
		h.fail(c, "list orders", err)
		return
	}
	resp := make([]orderResponse, 0, len(list))
	for _, order := range list {
		resp = append(resp, toOrderResponse(order))
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/orders/:id
func (h *handler) getOrder(c *gin.Context) {
	order, err := h.api.GetOrder(c.Request.Context(), c.Param("id"), c.GetInt64(userIDKey))
	if err != nil {
		h.fail(c, "get order", err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// POST /api/orders/
func (h *handler) createOrder(c *gin.Context) {
	userID := c.GetInt64(userIDKey)

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			h.fail(c, "create order", domain.Validation("order items are required"))
			return
		}
		h.fail(c, "create order", domain.Validation("invalid request body: %v", err))
		return
	}

	fingerprint, err := json.Marshal(struct {
		UserID int64         `json:"user_id"`
		Items  []itemRequest `json:"items"`
	}{UserID: userID, Items: req.Items})
	if err != nil {
		h.fail(c, "create order", domain.Internal("encode idempotency fingerprint", err))
		return
	}

	instance := c.Request.URL.Path
	outcome, replayed, err := h.runner.Do(c.Request.Context(), c.GetHeader(IdempotencyKeyHeader), createOrderScope, fingerprint,
		func(ctx context.Context) (idempotency.Outcome, error) {
			return h.runCreateOrder(ctx, userID, req.Items, instance)
		})
	if err != nil {
		h.fail(c, "create order", err)
		return
	}

	if replayed {
		c.Header(ReplayHeader, "true")
	}
	contentType := contentTypeJSON
	if outcome.Failed {
		contentType = ContentTypeProblemJSON
	}
	c.Data(outcome.Code, contentType, outcome.Body)
}

// runCreateOrder превращает результат ядра в сохраняемый ответ. Бизнес-отказ запоминается
// как problem-документ, инфраструктурная ошибка возвращается наверх и снимает ключ.
func (h *handler) runCreateOrder(ctx context.Context, userID int64, items []itemRequest, instance string) (idempotency.Outcome, error) {
	var requests []orders.ItemRequest
	if items != nil {
		requests = make([]orders.ItemRequest, 0, len(items))
	}
	for _, item := range items {
		requests = append(requests, orders.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.api.CreateOrder(ctx, userID, requests)
	if err != nil {
		if domain.Retryable(err) {
			return idempotency.Outcome{}, err
		}
		problem := problemFor(domain.AsError("create order", err), instance)
		body, marshalErr := json.Marshal(problem)
		if marshalErr != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Outcome{Code: problem.Status, Body: body, Failed: true}, nil
	}

	body, err := json.Marshal(orderMessageResponse{
		Message: "Order created successfully",
		Order:   toOrderResponse(order),
	})
	if err != nil {
		return idempotency.Outcome{}, domain.Internal("encode create order response", err)
	}
	return idempotency.Outcome{Code: http.StatusCreated, Body: body}, nil
}

// PUT /api/orders/:id
func (h *handler) updateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetInt64(userIDKey)
	orderID := c.Param("id")

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, "update order", domain.Validation("invalid request body: %v", err))
		return
	}

	var (
		order domain.Order
		err   error
	)
	if req.Status == nil {
		order, err = h.api.GetOrder(ctx, orderID, userID)
	} else {
		order, err = h.api.UpdateOrderStatus(ctx, orderID, userID, *req.Status)
	}
	if err != nil {
		h.fail(c, "update order", err)
		return
	}

	c.JSON(http.StatusOK, orderMessageResponse{
		Message: "Order updated successfully",
		Order:   toOrderResponse(order),
	})
}

// DELETE /api/orders/:id
func (h *handler) cancelOrder(c *gin.Context) {
	if err := h.api.CancelOrder(c.Request.Context(), c.Param("id"), c.GetInt64(userIDKey)); err != nil {
		h.fail(c, "cancel order", err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Order cancelled successfully"})
}

// GET /api/orders/:id/timeline
func (h *handler) orderTimeline(c *gin.Context) {
	events, err := h.api.OrderTimeline(c.Request.Context(), c.Param("id"), c.GetInt64(userIDKey))
	if err != nil {
		h.fail(c, "order timeline", err)
		return
	}
	resp := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, timelineEventResponse{
			Type:     event.Type,
			From:     string(event.From),
			To:       string(event.To),
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	c.JSON(http.StatusOK, resp)
}
