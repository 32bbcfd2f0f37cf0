package domain

import "sort"

// ReservationLine - запрос на списание или возврат количества товара.
type ReservationLine struct {
	ProductID int64
	Quantity  int64
}

// MergeReservationLines склеивает строки одного товара и сортирует их по возрастанию ProductID.
// Порядок по ID задаёт порядок блокировок, поэтому два резерва не могут взаимно заблокироваться.
func MergeReservationLines(lines []ReservationLine) ([]ReservationLine, error) {
	totals := make(map[int64]int64, len(lines))
	for _, line := range lines {
		if line.ProductID <= 0 {
			return nil, NewError(KindValidation, ErrItemProductRequired.Error())
		}
		if line.Quantity <= 0 {
			return nil, NewError(KindValidation, ErrReservationQtyInvalid.Error())
		}
		totals[line.ProductID] += line.Quantity
	}

	merged := make([]ReservationLine, 0, len(totals))
	for productID, qty := range totals {
		merged = append(merged, ReservationLine{ProductID: productID, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })

	return merged, nil
}

// TotalUnits возвращает суммарное количество единиц в строках.
func TotalUnits(lines []ReservationLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}
