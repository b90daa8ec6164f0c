package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOptimisticConflictAndBusy(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantConflict bool
		wantBusy     bool
	}{
		{name: "conflict", err: ErrOptimisticLockConflict, wantConflict: true},
		{name: "wrapped conflict", err: fmt.Errorf("update account: %w", ErrOptimisticLockConflict), wantConflict: true},
		{name: "busy", err: ErrOperationInProgress, wantBusy: true},
		{name: "wrapped busy", err: fmt.Errorf("stock lock: %w", ErrOperationInProgress), wantBusy: true},
		{name: "business error", err: ErrInsufficientFunds},
		{name: "nil error", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOptimisticConflict(tt.err); got != tt.wantConflict {
				t.Errorf("IsOptimisticConflict() = %v, want %v", got, tt.wantConflict)
			}
			if got := IsBusy(tt.err); got != tt.wantBusy {
				t.Errorf("IsBusy() = %v, want %v", got, tt.wantBusy)
			}
		})
	}
}

func TestStockShortageError(t *testing.T) {
	var err error = &StockShortageError{SKUID: 7, Requested: 5, Available: 2}

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("shortage must match ErrInsufficientStock")
	}

	var shortage *StockShortageError
	if !errors.As(fmt.Errorf("deduct: %w", err), &shortage) {
		t.Fatal("expected errors.As to extract shortage details")
	}
	if shortage.SKUID != 7 || shortage.Requested != 5 || shortage.Available != 2 {
		t.Fatalf("unexpected shortage details: %+v", shortage)
	}
	if got := err.Error(); got != "insufficient stock for sku 7: requested 5, available 2" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestIsRejection(t *testing.T) {
	if !IsRejection(fmt.Errorf("pay: %w", ErrOrderAmountMismatch)) {
		t.Fatal("amount mismatch must be a rejection")
	}
	if !IsRejection(&StockShortageError{SKUID: 1}) {
		t.Fatal("stock shortage must be a rejection")
	}
	for _, err := range []error{ErrOperationInProgress, ErrOptimisticLockConflict, ErrRowVanished, errors.New("db down"), nil} {
		if IsRejection(err) {
			t.Fatalf("%v must not be a rejection", err)
		}
	}
}
