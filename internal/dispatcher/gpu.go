package dispatcher

import (
	"fmt"

	"github.com/malgorath/cyberbrain/internal/store/models"
)

// VRAM fill weighs heavier than instantaneous utilization when scoring
// devices.
const (
	vramWeight = 0.6
	utilWeight = 0.4
)

// gpuScore computes the scheduling score for a device. Lower wins.
func gpuScore(g *models.GPUState) float64 {
	var vramRatio float64
	if g.TotalVRAMMB > 0 {
		vramRatio = float64(g.UsedVRAMMB) / float64(g.TotalVRAMMB)
	}
	return vramWeight*vramRatio + utilWeight*(g.UtilizationPct/100.0)
}

// PickGPU selects the device for a job: filter by the VRAM floor, score the
// remainder, lowest score wins, ties break on lowest device index. The
// returned reason string lands in the audit row. Selection is deterministic
// given identical device states.
func PickGPU(states []models.GPUState, minVRAMMB int) (*models.GPUState, string, bool) {
	var best *models.GPUState
	var bestScore float64

	for i := range states {
		g := &states[i]
		if g.FreeVRAMMB < minVRAMMB {
			continue
		}
		score := gpuScore(g)
		if best == nil || score < bestScore || (score == bestScore && g.DeviceIndex < best.DeviceIndex) {
			best = g
			bestScore = score
		}
	}

	if best == nil {
		return nil, fmt.Sprintf("no device with %d MB free VRAM", minVRAMMB), false
	}

	reason := fmt.Sprintf("device %d scored %.3f (used %d/%d MB, util %.0f%%)",
		best.DeviceIndex, bestScore, best.UsedVRAMMB, best.TotalVRAMMB, best.UtilizationPct)
	return best, reason, true
}
