package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type productCatalog struct{ scope }

const productColumns = `id, name, price_minor, stock, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.PriceMinor, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (c productCatalog) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(c.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (c productCatalog) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, &domain.Error{Kind: domain.KindValidation, Message: "invalid product", Err: err}
	}

	var created domain.Product
	err := c.atomically(ctx, func(ctx context.Context, tx scope) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		now := time.Now().UTC()
		var err error
		if product.ID == 0 {
			created, err = scanProduct(tx.q.QueryRowContext(ctx, `
				INSERT INTO products (name, price_minor, stock, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$4)
				RETURNING `+productColumns,
				product.Name, product.PriceMinor, product.Stock, now,
			))
		} else {
			created, err = scanProduct(tx.q.QueryRowContext(ctx, `
				INSERT INTO products (id, name, price_minor, stock, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$5)
				RETURNING `+productColumns,
				product.ID, product.Name, product.PriceMinor, product.Stock, now,
			))
			if err == nil {
				// Явный ID сдвигает последовательность, чтобы следующие вставки не упёрлись в него.
				_, err = tx.q.ExecContext(ctx, `
					SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))
				`)
			}
		}
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Conflict("product already exists")
			}
			return fmt.Errorf("insert product: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return created, nil
}

func (c productCatalog) List(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return queryAll(ctx, c.q, "products", scanProduct, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

var _ domain.ProductCatalog = productCatalog{}
