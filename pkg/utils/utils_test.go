package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "1280.50", FormatCurrency(1280.5))
	assert.Equal(t, "0.00", FormatCurrency(0))
	assert.Equal(t, "99.90", FormatCurrency(99.9))
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, "Mar 2, 2025", FormatDate(ts, nil))

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	assert.Equal(t, "Mar 1, 2025", FormatDate(ts, ny))
}
