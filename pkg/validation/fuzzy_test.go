package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		candidate string
		want      float64
	}{
		{
			name:      "exact match",
			requested: "k8s__get_pods",
			candidate: "k8s__get_pods",
			want:      1.0,
		},
		{
			name:      "exact match ignores case",
			requested: "K8S__GET_PODS",
			candidate: "k8s__get_pods",
			want:      1.0,
		},
		{
			name:      "bare name inside canonical caps at one",
			requested: "get_pods",
			candidate: "k8s__get_pods",
			want:      1.0,
		},
		{
			name:      "trailing character missing caps at one",
			requested: "k8s__get_pod",
			candidate: "k8s__get_pods",
			want:      1.0,
		},
		{
			name:      "transposition scores on edit distance only",
			requested: "get_pdos",
			candidate: "get_pods",
			want:      0.375,
		},
		{
			name:      "nothing in common",
			requested: "zzz",
			candidate: "abc",
			want:      0,
		},
		{
			name:      "empty requested name",
			requested: "",
			candidate: "k8s__get_pods",
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, similarity(tt.requested, tt.candidate), 0.0001)
		})
	}
}

func TestRankMatches(t *testing.T) {
	candidates := []string{"k8s__describe", "k8s__get_logs", "k8s__get_pods"}

	ranked := rankMatches("get_pod", candidates)
	require.Len(t, ranked, 3)
	assert.Equal(t, "k8s__get_pods", ranked[0].name)
	assert.InDelta(t, 1.0, ranked[0].score, 0.0001)
	assert.Equal(t, "k8s__get_logs", ranked[1].name)
	assert.Equal(t, "k8s__describe", ranked[2].name)
}

func TestRankMatches_TiesBreakAlphabetically(t *testing.T) {
	ranked := rankMatches("ab", []string{"ay", "ax"})
	require.Len(t, ranked, 2)
	assert.Equal(t, "ax", ranked[0].name)
	assert.Equal(t, "ay", ranked[1].name)
	assert.Equal(t, ranked[0].score, ranked[1].score)
}

func TestBestMatch_DropsZeroScores(t *testing.T) {
	_, ok := bestMatch("zzz", []string{"abc"})
	assert.False(t, ok)

	m, ok := bestMatch("get_pods", []string{"k8s__get_pods"})
	require.True(t, ok)
	assert.Equal(t, "k8s__get_pods", m.name)
}

func TestSuggest(t *testing.T) {
	candidates := []string{"k8s__get_pods", "k8s__get_logs"}

	assert.Equal(t, "k8s__get_pods (1.00)", suggest("get_pod", candidates, 1))
	assert.Equal(t, "k8s__get_pods (1.00), k8s__get_logs (0.19)", suggest("get_pod", candidates, 2))
	assert.Empty(t, suggest("get_pod", nil, 3))
}
