package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	messages []FailureMessage
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) SendNotification(m FailureMessage) {
	f.messages = append(f.messages, m)
}

func TestNotifyStatus_okStatusSkipsDispatch(t *testing.T) {
	p := &fakeProvider{name: "fake"}
	n := New(nil, p)

	n.NotifyStatus("cluster-1", "OK")
	assert.Empty(t, p.messages)
}

func TestNotifyStatus_nonOKStatusDispatchesToAllProviders(t *testing.T) {
	p1 := &fakeProvider{name: "fake-1"}
	p2 := &fakeProvider{name: "fake-2"}
	n := New(nil, p1, p2)

	n.NotifyStatus("cluster-1", "CLOUD")

	want := []FailureMessage{{
		ClusterIdentifier: "cluster-1",
		Reason:            "cluster management invocation completed with a non-OK status",
		Status:            "CLOUD",
	}}
	assert.Equal(t, want, p1.messages)
	assert.Equal(t, want, p2.messages)
}

func TestNotifyTearDown_alwaysDispatchesWithOKStatus(t *testing.T) {
	p := &fakeProvider{name: "fake"}
	n := New(nil, p)

	n.NotifyTearDown("cluster-1")

	require.Len(t, p.messages, 1)
	assert.Equal(t, "cluster teardown started", p.messages[0].Reason)
	assert.Equal(t, "OK", p.messages[0].Status)
}

func TestDispatch_noProvidersIsANoop(t *testing.T) {
	n := New(nil)
	n.NotifyTearDown("cluster-1")
}

func TestPagerDutyProvider_name(t *testing.T) {
	p := NewPagerDutyProvider("key", nil)
	assert.Equal(t, "pagerduty", p.Name())
}

func TestOpsGenieProvider_name(t *testing.T) {
	p := NewOpsGenieProvider("key", nil)
	assert.Equal(t, "opsgenie", p.Name())
}
