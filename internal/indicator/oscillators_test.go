package indicator

import (
	"math"
	"testing"
)

func TestStdDev(t *testing.T) {
	std := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)

	if len(std) != 1 {
		t.Fatalf("expected 1 value, got %d", len(std))
	}
	// sample variance = 32/7
	if !almostEqual(std[0], math.Sqrt(32.0/7.0), 1e-9) {
		t.Errorf("std = %f, want %f", std[0], math.Sqrt(32.0/7.0))
	}
}

func TestStdDev_NotEnoughData(t *testing.T) {
	if len(StdDev([]float64{1, 2}, 5)) != 0 {
		t.Error("expected empty slice")
	}
	if len(StdDev([]float64{1, 2, 3}, 1)) != 0 {
		t.Error("period 1 has no sample deviation")
	}
}

func TestRSI_Bounds(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7}
	rsi := RSI(rising, 3)
	if len(rsi) != 4 {
		t.Fatalf("expected 4 values, got %d", len(rsi))
	}
	for i, v := range rsi {
		if v != 100 {
			t.Errorf("rsi[%d] = %f, want 100 for monotonic rise", i, v)
		}
	}

	falling := []float64{7, 6, 5, 4, 3, 2, 1}
	for i, v := range RSI(falling, 3) {
		if v != 0 {
			t.Errorf("rsi[%d] = %f, want 0 for monotonic fall", i, v)
		}
	}

	flat := []float64{5, 5, 5, 5}
	if v, _ := Last(RSI(flat, 3)); v != 50 {
		t.Errorf("flat rsi = %f, want 50", v)
	}
}

func TestRSI_Mixed(t *testing.T) {
	// gains 2,0 losses 0,1 over period 2 -> avg gain 1, avg loss 0.5
	rsi := RSI([]float64{10, 12, 11}, 2)
	if len(rsi) != 1 {
		t.Fatalf("expected 1 value, got %d", len(rsi))
	}
	want := 100 - 100/(1+2.0)
	if !almostEqual(rsi[0], want, 1e-9) {
		t.Errorf("rsi = %f, want %f", rsi[0], want)
	}
}

func TestMACD(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}

	m := MACD(prices, 12, 26, 9)
	if len(m.MACD) != 60 || len(m.Signal) != 60 || len(m.Histogram) != 60 {
		t.Fatalf("unexpected lengths %d/%d/%d", len(m.MACD), len(m.Signal), len(m.Histogram))
	}
	if m.MACD[0] != 0 {
		t.Errorf("first MACD should be 0, got %f", m.MACD[0])
	}
	last, _ := Last(m.MACD)
	if last <= 0 {
		t.Errorf("uptrend MACD should be positive, got %f", last)
	}
	for i := range m.Histogram {
		if !almostEqual(m.Histogram[i], m.MACD[i]-m.Signal[i], 1e-12) {
			t.Fatalf("histogram[%d] mismatch", i)
		}
	}
}

func TestMACD_Empty(t *testing.T) {
	if m := MACD(nil, 12, 26, 9); m.MACD != nil {
		t.Error("expected empty result")
	}
}

func TestBollinger(t *testing.T) {
	prices := []float64{10, 12, 14, 12, 10}
	b := Bollinger(prices, 3, 2)

	if len(b.Middle) != 3 {
		t.Fatalf("expected 3 values, got %d", len(b.Middle))
	}
	if b.Middle[0] != 12 {
		t.Errorf("middle[0] = %f, want 12", b.Middle[0])
	}
	// sample std of 10,12,14 = 2
	if !almostEqual(b.Upper[0], 16, 1e-9) || !almostEqual(b.Lower[0], 8, 1e-9) {
		t.Errorf("bands[0] = %f/%f, want 16/8", b.Upper[0], b.Lower[0])
	}
	for i := range b.Middle {
		if b.Upper[i] < b.Middle[i] || b.Lower[i] > b.Middle[i] {
			t.Errorf("band order broken at %d", i)
		}
	}
}

func TestLast(t *testing.T) {
	if _, ok := Last(nil); ok {
		t.Error("expected no value for empty series")
	}
	if v, ok := Last([]float64{1, 2, 3}); !ok || v != 3 {
		t.Errorf("Last = %f, %v", v, ok)
	}
}
