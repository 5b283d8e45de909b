package dispatcher

import (
	"testing"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickGPUPrefersIdleDevice(t *testing.T) {
	// Device 0 is nearly full and hot, device 1 is idle
	states := []models.GPUState{
		{DeviceIndex: 0, TotalVRAMMB: 8192, UsedVRAMMB: 7168, FreeVRAMMB: 1024, UtilizationPct: 90},
		{DeviceIndex: 1, TotalVRAMMB: 8192, UsedVRAMMB: 1024, FreeVRAMMB: 7168, UtilizationPct: 10},
	}

	g, reason, ok := PickGPU(states, 1024)
	require.True(t, ok)
	assert.Equal(t, 1, g.DeviceIndex)
	assert.Contains(t, reason, "device 1")
}

func TestPickGPUScore(t *testing.T) {
	tests := []struct {
		name     string
		state    models.GPUState
		expected float64
	}{
		{
			name:     "busy device",
			state:    models.GPUState{TotalVRAMMB: 8192, UsedVRAMMB: 7168, UtilizationPct: 90},
			expected: 0.6*0.875 + 0.4*0.9,
		},
		{
			name:     "idle device",
			state:    models.GPUState{TotalVRAMMB: 8192, UsedVRAMMB: 1024, UtilizationPct: 10},
			expected: 0.6*0.125 + 0.4*0.1,
		},
		{
			name:     "zero total vram",
			state:    models.GPUState{TotalVRAMMB: 0, UsedVRAMMB: 0, UtilizationPct: 50},
			expected: 0.4 * 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, gpuScore(&tt.state), 1e-9)
		})
	}
}

func TestPickGPUVRAMFloor(t *testing.T) {
	states := []models.GPUState{
		{DeviceIndex: 0, TotalVRAMMB: 8192, UsedVRAMMB: 7680, FreeVRAMMB: 512, UtilizationPct: 10},
	}

	_, reason, ok := PickGPU(states, 1024)
	assert.False(t, ok)
	assert.Contains(t, reason, "1024 MB")
}

func TestPickGPUTieBreaksOnLowestIndex(t *testing.T) {
	states := []models.GPUState{
		{DeviceIndex: 2, TotalVRAMMB: 8192, UsedVRAMMB: 1024, FreeVRAMMB: 7168, UtilizationPct: 10},
		{DeviceIndex: 0, TotalVRAMMB: 8192, UsedVRAMMB: 1024, FreeVRAMMB: 7168, UtilizationPct: 10},
		{DeviceIndex: 1, TotalVRAMMB: 8192, UsedVRAMMB: 1024, FreeVRAMMB: 7168, UtilizationPct: 10},
	}

	g, _, ok := PickGPU(states, 0)
	require.True(t, ok)
	assert.Equal(t, 0, g.DeviceIndex)
}

func TestPickGPUDeterministic(t *testing.T) {
	states := []models.GPUState{
		{DeviceIndex: 0, TotalVRAMMB: 16384, UsedVRAMMB: 4096, FreeVRAMMB: 12288, UtilizationPct: 35},
		{DeviceIndex: 1, TotalVRAMMB: 16384, UsedVRAMMB: 8192, FreeVRAMMB: 8192, UtilizationPct: 20},
	}

	first, _, ok := PickGPU(states, 2048)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		g, _, ok := PickGPU(states, 2048)
		require.True(t, ok)
		assert.Equal(t, first.DeviceIndex, g.DeviceIndex)
	}
}

func TestPickGPUNoDevices(t *testing.T) {
	_, _, ok := PickGPU(nil, 0)
	assert.False(t, ok)
}
