package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolPortion_Of(t *testing.T) {
	cases := []struct {
		name     string
		portion  PoolPortion
		total    int
		expected int
	}{
		{"absolute count", NewCountPortion(3), 10, 3},
		{"fraction rounds to nearest", NewFractionPortion(0.25), 10, 3},
		{"fraction never below one", NewFractionPortion(0.01), 10, 1},
		{"fraction of empty pool still at least one", NewFractionPortion(0.5), 0, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.portion.Of(tc.total))
		})
	}
}

func TestWorkerSetup_Validate(t *testing.T) {
	valid := WorkerSetup{
		Rate:                       NewCountPortion(1),
		Precedence:                 PrecedenceTaskCount,
		HealthCheckIntervalSeconds: 30,
	}
	assert.NoError(t, valid.Validate())

	missingRate := valid
	missingRate.Rate = PoolPortion{}
	assert.Error(t, missingRate.Validate())

	badPrecedence := valid
	badPrecedence.Precedence = "bogus"
	assert.Error(t, badPrecedence.Validate())

	noInterval := valid
	noInterval.HealthCheckIntervalSeconds = 0
	assert.Error(t, noInterval.Validate())
}
