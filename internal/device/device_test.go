package device

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestValidateTemperature(t *testing.T) {
	tests := []struct {
		temperature int
		wantErr     assert.ErrorAssertionFunc
	}{
		{17, assert.Error},
		{18, assert.NoError},
		{24, assert.NoError},
		{30, assert.NoError},
		{31, assert.Error},
	}
	for _, tt := range tests {
		err := ValidateTemperature(tt.temperature)
		tt.wantErr(t, err)
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidTemperature)
		}
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, On.Valid())
	assert.True(t, Off.Valid())
	assert.False(t, Status("on").Valid())
}

func TestSchedulePath(t *testing.T) {
	assert.Equal(t, "airConditioner/schedules/abc", SchedulePath("abc"))
}
