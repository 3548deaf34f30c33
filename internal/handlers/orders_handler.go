package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-pipeline/internal/errs"
	"github.com/imrishuroy/go-order-pipeline/internal/orders"
	"github.com/imrishuroy/go-order-pipeline/internal/validation"
)

// OrderService is the intake and query side of orders.Service.
type OrderService interface {
	ReceiveOrder(ctx context.Context, cmd orders.CreateOrderCommand) (*orders.Order, bool, error)
	GetOrders(ctx context.Context, status *orders.Status) (*orders.OrderList, error)
	GetOrderByID(ctx context.Context, id string) (*orders.Order, error)
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &ordersHandler{cfg: cfg}

	r.POST("/webhooks/orders", h.create)
	r.POST("/orders", h.create)
	r.GET("/orders", h.list)
	r.GET("/orders/:id", h.get)
}

type ordersHandler struct {
	cfg HandlerConfig
}

func (h *ordersHandler) create(c *gin.Context) {
	var cmd orders.CreateOrderCommand
	if err := validation.BindAndValidate(c, &cmd, h.cfg.Validator); err != nil {
		// BindAndValidate already wrote a 400
		return
	}
	cmd.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, created, err := h.cfg.Orders.ReceiveOrder(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, h.cfg.Logger, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", order.ID))
	if !created {
		c.JSON(http.StatusOK, order)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *ordersHandler) list(c *gin.Context) {
	var status *orders.Status
	if raw := c.Query("status"); raw != "" {
		s, err := orders.ParseStatus(raw)
		if err != nil {
			writeError(c, h.cfg.Logger, errs.NewValidationErrorWithCause("status", "is not a known order status", err))
			return
		}
		status = &s
	}

	list, err := h.cfg.Orders.GetOrders(c.Request.Context(), status)
	if err != nil {
		writeError(c, h.cfg.Logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ordersHandler) get(c *gin.Context) {
	id := c.Param("id")
	order, err := h.cfg.Orders.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.cfg.Logger, err)
		return
	}
	if order == nil {
		writeError(c, h.cfg.Logger, errs.NewNotFoundError("order", id))
		return
	}
	c.JSON(http.StatusOK, order)
}
