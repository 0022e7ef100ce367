package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityPolicy(t *testing.T) {
	tests := []struct {
		sev       Severity
		tier      Tier
		alerts    bool
		escalates bool
	}{
		{SeverityInfo, TierGeneral, false, false},
		{SeverityWarning, TierGeneral, false, false},
		{SeverityMedium, TierGeneral, false, false},
		{SeverityHigh, TierHighAssurance, true, false},
		{SeverityCritical, TierHighAssurance, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.sev), func(t *testing.T) {
			assert.Equal(t, tt.tier, tt.sev.Tier())
			assert.Equal(t, tt.alerts, tt.sev.Alerts())
			assert.Equal(t, tt.escalates, tt.sev.Escalates())
		})
	}
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, sev)

	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
	assert.False(t, Severity("urgent").Valid())
}

func TestBuffer_PrunesOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := range 5 {
		b.Append(Entry{ID: fmt.Sprint(i)})
	}

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, int64(2), b.Pruned())
}

func TestBuffer_RecentNewestFirst(t *testing.T) {
	b := NewBuffer(10)
	for i := range 4 {
		b.Append(Entry{ID: fmt.Sprint(i)})
	}

	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "2", recent[1].ID)
	assert.Len(t, b.Recent(0), 4)
}
