// Package notifier fires best-effort alerts to an on-call provider when a
// cluster management invocation ends in a non-OK status, or when cluster
// teardown begins. Notification failures are logged and never change the
// process exit code.
package notifier

import (
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
)

// FailureMessage carries the information an on-call provider needs to
// render an alert.
type FailureMessage struct {
	ClusterIdentifier string
	Reason            string
	Status            string
}

// Provider is implemented by each notification backend.
type Provider interface {
	Name() string
	SendNotification(FailureMessage)
}

// Notifier dispatches a FailureMessage to every configured provider,
// logging (but not propagating) any failure.
type Notifier struct {
	providers []Provider
	log       *logging.Logger
}

// New builds a Notifier over the given providers. A Notifier with no
// providers is valid and simply logs that notification was skipped.
func New(log *logging.Logger, providers ...Provider) *Notifier {
	if log == nil {
		log = logging.Nop()
	}
	return &Notifier{providers: providers, log: log.Component("notifier")}
}

// NotifyStatus fires an alert if status is not OK. clusterIdentifier
// identifies the cluster in the alert payload.
func (n *Notifier) NotifyStatus(clusterIdentifier, status string) {
	if status == "OK" {
		return
	}
	n.dispatch(FailureMessage{
		ClusterIdentifier: clusterIdentifier,
		Reason:            "cluster management invocation completed with a non-OK status",
		Status:            status,
	})
}

// NotifyTearDown fires an informational alert that cluster teardown has
// started.
func (n *Notifier) NotifyTearDown(clusterIdentifier string) {
	n.dispatch(FailureMessage{
		ClusterIdentifier: clusterIdentifier,
		Reason:            "cluster teardown started",
		Status:            "OK",
	})
}

func (n *Notifier) dispatch(message FailureMessage) {
	if len(n.providers) == 0 {
		n.log.Debug("no notification providers configured, skipping alert: %s", message.Reason)
		return
	}
	for _, p := range n.providers {
		n.log.Info("sending notification via %s: %s", p.Name(), message.Reason)
		p.SendNotification(message)
	}
}
