package domain

import (
	"errors"
	"strings"
	"time"
)

// Product - товар каталога. Остаток меняет только складской журнал.
type Product struct {
	ID         int64
	Name       string
	PriceMinor int64
	Stock      int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate проверяет поля товара перед записью в каталог.
func (p *Product) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceNegative)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrProductStockNegative)
	}
	return errors.Join(errs...)
}
