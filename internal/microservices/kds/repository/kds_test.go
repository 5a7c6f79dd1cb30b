package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee-kds/internal/microservices/kds/models"
)

func TestParseSettingTime(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{name: "rfc3339", value: "2026-10-18T08:30:00Z", want: time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC)},
		{name: "rfc3339 nano", value: "2026-10-18T08:30:00.5Z", want: time.Date(2026, 10, 18, 8, 30, 0, 500_000_000, time.UTC)},
		{name: "sql datetime", value: "2026-10-18 08:30:00", want: time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSettingTime(tt.value)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := parseSettingTime("yesterday-ish")
	assert.Error(t, err)
}

func TestMarshalNullable(t *testing.T) {
	b, err := marshalNullable(nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = marshalNullable(&models.CustomerInfo{Name: "Ada", SearchKey: "ADA01"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada","searchkey":"ADA01"}`, string(b))
}
