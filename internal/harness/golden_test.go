package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden trails live in testdata/golden. Regenerate with:
//
//	go test ./internal/harness -run TestGolden -update
func TestGolden_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestFormatTrail(t *testing.T) {
	result := &Result{
		Trail: []TrailEntry{{ID: 1, Event: "PAYMENT", Details: "paymentId=pay-1"}},
		Steps: []StepOutcome{{Op: OpEnd, Vehicle: "v1"}, {Op: OpEnd, Vehicle: "v1", Error: "INVALID_STATE"}},
	}

	want := "1 PAYMENT paymentId=pay-1\n--\nstep 0 end v1 ok\nstep 1 end v1 INVALID_STATE\n"
	assert.Equal(t, want, string(FormatTrail(result)))
}
