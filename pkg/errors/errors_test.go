package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestNewDataError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		row     int
		field   string
		reason  string
		value   interface{}
		wantMsg string
	}{
		{
			name:    "with row number",
			op:      "Transform",
			row:     4,
			field:   "p_value",
			reason:  "degenerate p-value",
			value:   1.0,
			wantMsg: "metaforest: Transform: row 4, field 'p_value': degenerate p-value (got: 1)",
		},
		{
			name:    "dataset-wide",
			op:      "Load",
			row:     0,
			field:   "cor",
			reason:  "missing required column",
			value:   nil,
			wantMsg: "metaforest: Load: field 'cor': missing required column (got: <nil>)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDataError(tt.op, tt.row, tt.field, tt.reason, tt.value)

			// 基本的なエラーメッセージの確認
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			// DataError型にキャスト可能か確認
			var dataErr *DataError
			if !As(err, &dataErr) {
				t.Error("Error should be castable to *DataError")
			}
		})
	}
}

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid rho",
			err:     fmt.Errorf("rho must be in [0, 1)"),
			wantMsg: "metaforest: Fit: invalid rho: rho must be in [0, 1)",
		},
		{
			name:    "without original error",
			op:      "Fit",
			kind:    "moderator has fewer than 2 levels",
			err:     nil,
			wantMsg: "metaforest: Fit: moderator has fewer than 2 levels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// ModelError型にキャスト可能か確認
			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewConvergenceError(t *testing.T) {
	err := NewConvergenceError("MultilevelModel.Fit", 500, 12.345678, []float64{0.1, 0.2})

	// 最終反復の診断情報がメッセージに含まれるか確認
	msg := err.Error()
	if !strings.Contains(msg, "500 iterations") {
		t.Errorf("Error() = %v, want iteration count in message", msg)
	}
	if !strings.Contains(msg, "12.3457") {
		t.Errorf("Error() = %v, want last objective in message", msg)
	}

	var convErr *ConvergenceError
	if !As(err, &convErr) {
		t.Fatal("Error should be castable to *ConvergenceError")
	}
	if convErr.Iterations != 500 {
		t.Errorf("Iterations = %d, want 500", convErr.Iterations)
	}
	if len(convErr.LastParams) != 2 {
		t.Errorf("LastParams length = %d, want 2", len(convErr.LastParams))
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("MultilevelModel", "PooledEstimate")

	want := "metaforest: MultilevelModel: this model is not fitted yet. Call Fit() before using PooledEstimate()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	// NotFittedError型にキャスト可能か確認
	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestWarningHandler(t *testing.T) {
	var captured error
	SetWarningHandler(func(w error) {
		captured = w
	})
	defer SetWarningHandler(nil)

	warning := NewConvergenceWarning("NelderMead", 300, "flat objective")
	Warn(warning)

	if captured == nil {
		t.Fatal("Warning handler was not invoked")
	}
	if !strings.Contains(captured.Error(), "NelderMead") {
		t.Errorf("captured = %v, want algorithm name in message", captured)
	}
}

func TestCheckNumericalStability(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		wantErr bool
	}{
		{name: "finite values", values: []float64{0.1, -0.5, 3.0}, wantErr: false},
		{name: "contains NaN", values: []float64{0.1, math.NaN(), 3.0}, wantErr: true},
		{name: "contains Inf", values: []float64{0.1, math.Inf(1), 3.0}, wantErr: true},
		{name: "empty", values: nil, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckNumericalStability("test_op", tt.values, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckNumericalStability() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
