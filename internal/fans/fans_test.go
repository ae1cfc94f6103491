package fans

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/clambin/aircon-scheduler/internal/store/memory"
	"github.com/clambin/aircon-scheduler/internal/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		temperature float64
		want        States
	}{
		{name: "all off", temperature: 29.9, want: States{"fan1": false, "fan2": false, "fan3": false, "fan4": false}},
		{name: "at threshold", temperature: 30, want: States{"fan1": true, "fan2": false, "fan3": false, "fan4": false}},
		{name: "some on", temperature: 33, want: States{"fan1": true, "fan2": true, "fan3": false, "fan4": false}},
		{name: "all on", temperature: 40, want: States{"fan1": true, "fan2": true, "fan3": true, "fan4": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Evaluate(tt.temperature, DefaultThresholds))
		})
	}
}

func TestThresholds_Shift(t *testing.T) {
	shifted := DefaultThresholds.Shift(25)
	assert.Equal(t, Thresholds{"fan1": 25, "fan2": 27, "fan3": 29, "fan4": 31}, shifted)
	assert.Equal(t, 25.0, shifted.Lowest())
	assert.Equal(t, 30.0, DefaultThresholds.Lowest(), "shift should not modify the original")
	assert.Zero(t, Thresholds{}.Lowest())
}

func TestLoadThresholds(t *testing.T) {
	thresholds, err := LoadThresholds(strings.NewReader("thresholds:\n  fan1: 28\n  fan2: 31.5\n"))
	require.NoError(t, err)
	assert.Equal(t, Thresholds{"fan1": 28, "fan2": 31.5}, thresholds)

	_, err = LoadThresholds(strings.NewReader("fans: []\n"))
	assert.Error(t, err)
	_, err = LoadThresholds(strings.NewReader("thresholds: [\n"))
	assert.Error(t, err)
}

func getStates(t *testing.T, s *memory.Store) States {
	t.Helper()
	raw, err := s.Get(t.Context(), StatesPath)
	require.NoError(t, err)
	var states States
	require.NoError(t, json.Unmarshal(raw, &states))
	return states
}

func TestController_AutoMode(t *testing.T) {
	ctx := t.Context()
	s := memory.New()
	require.NoError(t, s.Set(ctx, TemperaturePath, 33.0))
	c := New(s, nil, slog.New(slog.DiscardHandler))

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.AutoMode)
	assert.Equal(t, DefaultThresholds, status.Thresholds)
	require.NotNil(t, status.Temperature)
	assert.Equal(t, 33.0, *status.Temperature)
	assert.Equal(t, States{"fan1": false, "fan2": false, "fan3": false, "fan4": false}, status.Fans)

	require.NoError(t, c.SetAutoMode(ctx, true))
	assert.Equal(t, States{"fan1": true, "fan2": true, "fan3": false, "fan4": false}, getStates(t, s))

	_, err = c.Toggle(ctx, "fan1")
	assert.ErrorIs(t, err, ErrAutoMode)

	require.NoError(t, c.SetAutoMode(ctx, false))
	assert.Equal(t, States{"fan1": false, "fan2": false, "fan3": false, "fan4": false}, getStates(t, s))

	on, err := c.Toggle(ctx, "fan3")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, States{"fan1": false, "fan2": false, "fan3": true, "fan4": false}, getStates(t, s))
	on, err = c.Toggle(ctx, "fan3")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = c.Toggle(ctx, "fan9")
	assert.ErrorIs(t, err, ErrUnknownFan)
}

func TestController_SetBaseThreshold(t *testing.T) {
	ctx := t.Context()
	s := memory.New()
	require.NoError(t, s.Set(ctx, TemperaturePath, 28.0))
	c := New(s, nil, slog.New(slog.DiscardHandler))

	thresholds, err := c.SetBaseThreshold(ctx, 26)
	require.NoError(t, err)
	assert.Equal(t, Thresholds{"fan1": 26, "fan2": 28, "fan3": 30, "fan4": 32}, thresholds)

	raw, err := s.Get(ctx, BaseThresholdPath)
	require.NoError(t, err)
	assert.JSONEq(t, `26`, string(raw))
	raw, err = s.Get(ctx, ThresholdsPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fan1":26,"fan2":28,"fan3":30,"fan4":32}`, string(raw))

	// auto mode is on by default: the fans follow the new thresholds
	assert.Equal(t, States{"fan1": true, "fan2": true, "fan3": false, "fan4": false}, getStates(t, s))

	// shifting again starts from the stored thresholds
	thresholds, err = c.SetBaseThreshold(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, Thresholds{"fan1": 30, "fan2": 32, "fan3": 34, "fan4": 36}, thresholds)
	assert.Equal(t, States{"fan1": false, "fan2": false, "fan3": false, "fan4": false}, getStates(t, s))
}

func TestController_SetThreshold(t *testing.T) {
	ctx := t.Context()
	s := memory.New()
	require.NoError(t, s.Set(ctx, TemperaturePath, 31.0))
	c := New(s, Thresholds{"fan1": 30, "fan2": 32}, slog.New(slog.DiscardHandler))

	require.NoError(t, c.SetAutoMode(ctx, true))
	assert.Equal(t, States{"fan1": true, "fan2": false}, getStates(t, s))

	thresholds, err := c.SetThreshold(ctx, "fan2", 31)
	require.NoError(t, err)
	assert.Equal(t, Thresholds{"fan1": 30, "fan2": 31}, thresholds)
	raw, err := s.Get(ctx, ThresholdsPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fan1":30,"fan2":31}`, string(raw))
	assert.Equal(t, States{"fan1": true, "fan2": true}, getStates(t, s))

	thresholds, err = c.SetThreshold(ctx, "fan1", 33)
	require.NoError(t, err)
	assert.Equal(t, Thresholds{"fan1": 33, "fan2": 31}, thresholds)
	raw, err = s.Get(ctx, BaseThresholdPath)
	require.NoError(t, err)
	assert.JSONEq(t, `31`, string(raw))
	assert.Equal(t, States{"fan1": false, "fan2": true}, getStates(t, s))

	_, err = c.SetThreshold(ctx, "fan9", 30)
	assert.ErrorIs(t, err, ErrUnknownFan)

	// in manual mode, the fans are left alone
	require.NoError(t, c.SetAutoMode(ctx, false))
	_, err = c.SetThreshold(ctx, "fan1", 20)
	require.NoError(t, err)
	assert.Equal(t, States{"fan1": false, "fan2": false}, getStates(t, s))
}

func TestController_CorrectsExternalChanges(t *testing.T) {
	ctx := t.Context()
	s := memory.New()
	c := New(s, Thresholds{"fan1": 30, "fan2": 32}, slog.New(slog.DiscardHandler))

	require.NoError(t, s.Set(ctx, TemperaturePath, 31.0))
	require.NoError(t, c.evaluate(ctx))
	assert.Equal(t, States{"fan1": true, "fan2": false}, getStates(t, s))

	// someone switches off fan1 behind our back
	require.NoError(t, s.Set(ctx, StatesPath+"/fan1", false))
	assert.Equal(t, States{"fan1": false, "fan2": false}, getStates(t, s))

	require.NoError(t, s.Set(ctx, TemperaturePath, 31.5))
	require.NoError(t, c.evaluate(ctx))
	assert.Equal(t, States{"fan1": true, "fan2": false}, getStates(t, s))
}

func TestController_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s := memory.New()
	c := New(s, Thresholds{"fan1": 25, "fan2": 27}, slog.New(slog.DiscardHandler))
	errCh := make(chan error)
	go func() { errCh <- c.Run(ctx) }()

	require.NoError(t, s.Set(ctx, TemperaturePath, 26.0))
	assert.Eventually(t, func() bool {
		raw, err := s.Get(ctx, StatesPath)
		return err == nil && string(raw) == `{"fan1":true,"fan2":false}`
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Set(ctx, TemperaturePath, 27.5))
	assert.Eventually(t, func() bool {
		raw, err := s.Get(ctx, StatesPath)
		return err == nil && string(raw) == `{"fan1":true,"fan2":true}`
	}, time.Second, 10*time.Millisecond)

	// in manual mode, temperature changes don't touch the fans
	require.NoError(t, c.SetAutoMode(ctx, false))
	require.NoError(t, s.Set(ctx, TemperaturePath, 20.0))
	time.Sleep(50 * time.Millisecond)
	raw, err := s.Get(ctx, StatesPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fan1":false,"fan2":false}`, string(raw))

	cancel()
	assert.NoError(t, <-errCh)
}

func TestController_StoreErrors(t *testing.T) {
	s := mocks.NewStore(t)
	errStore := errors.New("offline")
	s.EXPECT().Set(mock.Anything, AutoModePath, true).Return(nil).Once()
	s.EXPECT().Get(mock.Anything, SettingsPath).Return(nil, errStore).Once()
	c := New(s, nil, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, c.SetAutoMode(t.Context(), true), errStore)

	s.EXPECT().Get(mock.Anything, SettingsPath).Return(json.RawMessage(`{"isAutoMode":true}`), nil).Once()
	s.EXPECT().Get(mock.Anything, TemperaturePath).Return(json.RawMessage(`31`), nil).Once()
	s.EXPECT().Get(mock.Anything, StatesPath).Return(json.RawMessage(`null`), nil).Once()
	s.EXPECT().Set(mock.Anything, StatesPath, States{"fan1": true, "fan2": false, "fan3": false, "fan4": false}).Return(errStore).Once()
	assert.ErrorIs(t, c.evaluate(t.Context()), errStore)

	// fans already in the desired state are not written again
	s.EXPECT().Get(mock.Anything, SettingsPath).Return(json.RawMessage(`{"isAutoMode":true}`), nil).Once()
	s.EXPECT().Get(mock.Anything, TemperaturePath).Return(json.RawMessage(`31`), nil).Once()
	s.EXPECT().Get(mock.Anything, StatesPath).Return(json.RawMessage(`{"fan1":true,"fan2":false,"fan3":false,"fan4":false}`), nil).Once()
	assert.NoError(t, c.evaluate(t.Context()))

	s.EXPECT().Get(mock.Anything, SettingsPath).Return(json.RawMessage(`{"isAutoMode":true}`), nil).Once()
	s.EXPECT().Get(mock.Anything, TemperaturePath).Return(json.RawMessage(`31`), nil).Once()
	s.EXPECT().Get(mock.Anything, StatesPath).Return(nil, errStore).Once()
	assert.ErrorIs(t, c.evaluate(t.Context()), errStore)
}
