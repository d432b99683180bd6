package structs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentApply_rejectsUnknownKey(t *testing.T) {
	doc := Document{State: ZeroState()}
	err := doc.Apply("not_a_real_key", true)
	require.Error(t, err)
}

func TestDocumentApply_rejectsTypeMismatch(t *testing.T) {
	doc := Document{State: ZeroState()}
	err := doc.Apply(KeyWasMJSBusy, "not-a-bool")
	require.Error(t, err)
	assert.False(t, doc.State.WasMJSBusy)
}

func TestDocumentApply_acceptsValidBool(t *testing.T) {
	doc := Document{State: ZeroState()}
	require.NoError(t, doc.Apply(KeyClusterReadyForTermination, true))
	assert.True(t, doc.State.ClusterReadyForTermination)
}

func TestDocumentApply_acceptsValidString(t *testing.T) {
	doc := Document{State: ZeroState()}
	require.NoError(t, doc.Apply(KeyLastTerminationPolicy, "on_idle"))
	assert.Equal(t, "on_idle", doc.State.LastTerminationPolicy)
}

func TestDocumentGet_roundTrip(t *testing.T) {
	doc := Document{State: ZeroState()}
	require.NoError(t, doc.Apply(KeyMWStateCounter, "3"))
	v, ok := doc.Get(KeyMWStateCounter)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = doc.Get("unknown")
	assert.False(t, ok)
}

func TestEffectiveInitialTerminationPolicy(t *testing.T) {
	assert.Equal(t, "never", Config{}.EffectiveInitialTerminationPolicy())
	assert.Equal(t, "on_idle", Config{InitialTerminationPolicy: "on_idle"}.EffectiveInitialTerminationPolicy())
}

func TestZeroState(t *testing.T) {
	s := ZeroState()
	assert.False(t, s.ClusterReadyForTermination)
	assert.Equal(t, "0", s.MinNodesPreTermination)
	assert.Equal(t, "0", s.MWStateCounter)
}
