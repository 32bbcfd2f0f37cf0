package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type productCatalog struct{ view }

// Get возвращает товар или ErrProductNotFound.
func (c productCatalog) Get(_ context.Context, id int64) (domain.Product, error) {
	unlock := c.rlock()
	defer unlock()

	product, ok := c.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Create заводит товар. Если ID не задан, назначается следующий свободный.
func (c productCatalog) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, &domain.Error{Kind: domain.KindValidation, Message: "invalid product", Err: err}
	}

	unlock := c.lock()
	defer unlock()

	prevNextID := c.s.nextProductID
	if product.ID == 0 {
		c.s.nextProductID++
		product.ID = c.s.nextProductID
	} else {
		if _, exists := c.s.products[product.ID]; exists {
			return domain.Product{}, domain.Conflict("product already exists")
		}
		if product.ID > c.s.nextProductID {
			c.s.nextProductID = product.ID
		}
	}

	now := c.s.now()
	product.CreatedAt = now
	product.UpdatedAt = now
	c.s.products[product.ID] = product

	id := product.ID
	c.onRollback(func() {
		delete(c.s.products, id)
		c.s.nextProductID = prevNextID
	})
	return product, nil
}

// List возвращает товары по возрастанию ID.
func (c productCatalog) List(context.Context) ([]domain.Product, error) {
	unlock := c.rlock()
	defer unlock()

	result := make([]domain.Product, 0, len(c.s.products))
	for _, product := range c.s.products {
		result = append(result, product)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ domain.ProductCatalog = productCatalog{}
