package structs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromIssues(t *testing.T) {
	tests := []struct {
		name          string
		cloudIssue    bool
		clusterIssue  bool
		expectedValue Status
	}{
		{"no issues", false, false, StatusOK},
		{"cloud only", true, false, StatusCloud},
		{"cluster only", false, true, StatusCluster},
		{"both", true, true, StatusBoth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedValue, FromIssues(tt.cloudIssue, tt.clusterIssue))
		})
	}
}

func TestMax(t *testing.T) {
	assert.Equal(t, StatusOK, Max())
	assert.Equal(t, StatusCluster, Max(StatusOK, StatusCluster))
	assert.Equal(t, StatusBoth, Max(StatusOK, StatusCloud, StatusCluster, StatusBoth))
	assert.Equal(t, StatusInternalIO, Max(StatusInternalIO, StatusOK))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "CLOUD", StatusCloud.String())
	assert.Equal(t, "CLUSTER", StatusCluster.String())
	assert.Equal(t, "BOTH", StatusBoth.String())
	assert.Equal(t, "INTERNAL_IO", StatusInternalIO.String())
	assert.Equal(t, "UNKNOWN", Status(99).String())
}
