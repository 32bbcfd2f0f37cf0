package domain

import "testing"

func TestMergeReservationLines(t *testing.T) {
	merged, err := MergeReservationLines([]ReservationLine{
		{ProductID: 5, Quantity: 1},
		{ProductID: 2, Quantity: 3},
		{ProductID: 5, Quantity: 4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []ReservationLine{{ProductID: 2, Quantity: 3}, {ProductID: 5, Quantity: 5}}
	if len(merged) != len(want) {
		t.Fatalf("expected %d lines, got %+v", len(want), merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("line %d: expected %+v, got %+v", i, want[i], merged[i])
		}
	}
	if TotalUnits(merged) != 8 {
		t.Fatalf("expected 8 units, got %d", TotalUnits(merged))
	}
}

func TestMergeReservationLines_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		lines []ReservationLine
	}{
		{name: "zero product", lines: []ReservationLine{{ProductID: 0, Quantity: 1}}},
		{name: "zero quantity", lines: []ReservationLine{{ProductID: 1, Quantity: 0}}},
		{name: "negative quantity", lines: []ReservationLine{{ProductID: 1, Quantity: 2}, {ProductID: 3, Quantity: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MergeReservationLines(tt.lines)
			if !IsKind(err, KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
