package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeCutoff(t *testing.T) {
	w := CutoffWindow{DefaultLookback: 24 * time.Hour, MaxLookback: 2 * time.Hour}
	floor := testNow.Add(-2 * time.Hour)

	tests := []struct {
		name      string
		lastOrder *time.Time
		lastClear *time.Time
		want      time.Time
	}{
		{name: "empty display", want: floor},
		{name: "recent order", lastOrder: at(-15 * time.Minute), want: testNow.Add(-15 * time.Minute)},
		{name: "order older than floor", lastOrder: at(-3 * time.Hour), want: floor},
		{name: "clear after order wins", lastOrder: at(-15 * time.Minute), lastClear: at(-5 * time.Minute), want: testNow.Add(-5 * time.Minute)},
		{name: "clear before order ignored", lastOrder: at(-5 * time.Minute), lastClear: at(-15 * time.Minute), want: testNow.Add(-5 * time.Minute)},
		{name: "old clear still clamped", lastClear: at(-5 * time.Hour), want: floor},
		{name: "clear without orders", lastClear: at(-time.Hour), want: testNow.Add(-time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCutoff(testNow, tt.lastOrder, tt.lastClear, w)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.False(t, got.Before(floor))
		})
	}
}

func TestComputeCutoffWideDefault(t *testing.T) {
	// a default lookback inside the hard bound is used as is
	w := CutoffWindow{DefaultLookback: 30 * time.Minute, MaxLookback: 2 * time.Hour}
	got := ComputeCutoff(testNow, nil, nil, w)
	assert.True(t, testNow.Add(-30*time.Minute).Equal(got))
}
