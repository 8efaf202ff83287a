package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/types"
)

func node(id uuid.UUID, energy types.EnergySource, battery, gpuUtil float64, geohash string) *types.Node {
	return &types.Node{
		ID:             id,
		Geohash:        geohash,
		EnergySource:   energy,
		BatteryLevel:   battery,
		GPUUtilization: gpuUtil,
	}
}

func TestScore_SolarBonus(t *testing.T) {
	solar := Score("9q8yyk", node(uuid.New(), types.EnergySolar, 0.5, 0.1, "9q8yyk"))
	grid := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.5, 0.1, "9q8yyk"))
	assert.Greater(t, solar, grid)
}

func TestScore_BatteryBonusThreshold(t *testing.T) {
	high := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.81, 0.1, "9q8yyk"))
	low := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.80, 0.1, "9q8yyk"))
	assert.Greater(t, high, low)
}

func TestScore_DecreasingInGPUUtilization(t *testing.T) {
	busy := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.5, 0.9, "9q8yyk"))
	idle := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.5, 0.1, "9q8yyk"))
	assert.Greater(t, idle, busy)
}

func TestScore_DecreasingInEstimatedLatency(t *testing.T) {
	near := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.5, 0.1, "9q8yyk"))
	far := Score("9q8yyk", node(uuid.New(), types.EnergyGrid, 0.5, 0.1, "drt2y2"))
	assert.Greater(t, near, far)
}

func TestEstimatedLatencyMS_MissingGeohashFallsBackToFixedEstimate(t *testing.T) {
	assert.Equal(t, 50.0, EstimatedLatencyMS("", "9q8yyk"))
	assert.Equal(t, 50.0, EstimatedLatencyMS("9q8yyk", ""))
}

func TestTopN_OrdersDescendingAndCaps(t *testing.T) {
	nodes := []*types.Node{
		node(uuid.New(), types.EnergyGrid, 0.5, 0.9, "9q8yyk"), // worst
		node(uuid.New(), types.EnergySolar, 0.9, 0.1, "9q8yyk"), // best
		node(uuid.New(), types.EnergyGrid, 0.5, 0.5, "9q8yyk"),  // middle
	}

	top := TopN(nodes, "9q8yyk", 2)
	a := assert.New(t)
	a.Len(top, 2)
	a.Equal(nodes[1].ID, top[0].Node.ID)
	a.Equal(nodes[2].ID, top[1].Node.ID)
}

func TestTopN_DeterministicTieBreakByID(t *testing.T) {
	idLow := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	idHigh := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	nodes := []*types.Node{
		node(idHigh, types.EnergyGrid, 0.5, 0.1, "9q8yyk"),
		node(idLow, types.EnergyGrid, 0.5, 0.1, "9q8yyk"),
	}

	top := TopN(nodes, "9q8yyk", 2)
	assert.Equal(t, idLow, top[0].Node.ID)
	assert.Equal(t, idHigh, top[1].Node.ID)
}
