package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// GET /api/products/
func (h *handler) listProducts(c *gin.Context) {
	products, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.fail(c, "list products", err)
		return
	}
	resp := make([]productResponse, 0, len(products))
	for _, product := range products {
		resp = append(resp, toProductResponse(product))
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/products/:id
func (h *handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, "get product", domain.Validation("invalid product id %q", c.Param("id")))
		return
	}

	product, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			err = domain.ProductNotFound(id)
		}
		h.fail(c, "get product", err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

// POST /api/products/
func (h *handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "create product", domain.Validation("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Price == nil {
		h.fail(c, "create product", domain.Validation("name and price are required"))
		return
	}

	priceMinor, err := domain.DecimalToMinor(*req.Price)
	if err != nil {
		h.fail(c, "create product", err)
		return
	}

	product, err := h.catalog.Create(c.Request.Context(), domain.Product{
		Name:       strings.TrimSpace(req.Name),
		PriceMinor: priceMinor,
		Stock:      req.Stock,
	})
	if err != nil {
		h.fail(c, "create product", err)
		return
	}

	c.JSON(http.StatusCreated, productMessageResponse{
		Message: "Product created successfully",
		Product: toProductResponse(product),
	})
}
