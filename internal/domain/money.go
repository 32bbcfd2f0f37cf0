package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale - количество знаков после запятой у минимальной денежной единицы.
const MoneyScale int32 = 2

// FormatMinor переводит сумму в минимальных единицах в десятичную строку ("24.98").
func FormatMinor(minor int64) string {
	return MinorToDecimal(minor).StringFixed(MoneyScale)
}

// MinorToDecimal переводит сумму в минимальных единицах в decimal.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -MoneyScale)
}

// ParseMinor разбирает неотрицательную десятичную цену в минимальные единицы.
// Значения с точностью выше MoneyScale отклоняются, а не округляются.
func ParseMinor(raw string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, Validation("invalid price %q", raw)
	}
	return DecimalToMinor(value)
}

// DecimalToMinor переводит decimal в минимальные единицы с проверкой знака и точности.
func DecimalToMinor(value decimal.Decimal) (int64, error) {
	if value.IsNegative() {
		return 0, NewError(KindValidation, ErrProductPriceNegative.Error())
	}
	if !value.Equal(value.Truncate(MoneyScale)) {
		return 0, Validation("price must have at most %d decimal places", MoneyScale)
	}
	shifted := value.Shift(MoneyScale)
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, Validation("price %s is out of range", value.String())
	}
	return shifted.IntPart(), nil
}

// MulMinor умножает сумму на количество; ok == false, если результат не помещается в int64.
func MulMinor(amount, qty int64) (product int64, ok bool) {
	if amount == 0 || qty == 0 {
		return 0, true
	}
	if (amount == -1 && qty == math.MinInt64) || (qty == -1 && amount == math.MinInt64) {
		return 0, false
	}
	product = amount * qty
	if product/qty != amount {
		return 0, false
	}
	return product, true
}

// AddMinor складывает суммы; ok == false при переполнении int64.
func AddMinor(a, b int64) (sum int64, ok bool) {
	sum = a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, false
	}
	return sum, true
}

// MustParseMinor используется в тестах и сидировании фиксированными значениями.
func MustParseMinor(raw string) int64 {
	minor, err := ParseMinor(raw)
	if err != nil {
		panic(fmt.Sprintf("parse money %q: %v", raw, err))
	}
	return minor
}
