package batchdetect

import (
	"testing"

	"shielded-risk/internal/domain"
)

func TestIsRoundNumber(t *testing.T) {
	tests := []struct {
		zec  float64
		want bool
	}{
		{1.0, true},
		{2.5, true},
		{0.1, true},
		{0.25, true},
		{10.0, true},
		{100.5, true},
		{0.75, true},
		{1.23456, false},
		{0.00001, false},
		{0.15, false},
		{3.33, false},
	}

	for _, tt := range tests {
		got := IsRoundNumber(domain.ZecToZat(tt.zec))
		if got != tt.want {
			t.Errorf("IsRoundNumber(%v ZEC) = %v, want %v", tt.zec, got, tt.want)
		}
	}
}

func TestIsRoundNumber_NonPositive(t *testing.T) {
	if IsRoundNumber(0) {
		t.Error("zero amount should not be round")
	}
	if IsRoundNumber(-domain.ZatPerZec) {
		t.Error("negative amount should not be round")
	}
}
