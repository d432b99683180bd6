package notifier

import (
	"fmt"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
)

// PagerDutyProvider sends notifications to PagerDuty using the Events API.
type PagerDutyProvider struct {
	serviceKey string
	log        *logging.Logger
}

// NewPagerDutyProvider builds a PagerDutyProvider for the given service key.
func NewPagerDutyProvider(serviceKey string, log *logging.Logger) *PagerDutyProvider {
	if log == nil {
		log = logging.Nop()
	}
	return &PagerDutyProvider{serviceKey: serviceKey, log: log.Component("notifier/pagerduty")}
}

// Name returns the provider's identifier.
func (p *PagerDutyProvider) Name() string {
	return "pagerduty"
}

// SendNotification triggers a PagerDuty incident for message.
func (p *PagerDutyProvider) SendNotification(message FailureMessage) {
	description := fmt.Sprintf("%s: %s (status=%s)",
		message.ClusterIdentifier, message.Reason, message.Status)

	event := pagerduty.Event{
		ServiceKey:  p.serviceKey,
		Type:        "trigger",
		Description: description,
		Details:     message,
	}

	resp, err := pagerduty.CreateEvent(event)
	if err != nil {
		p.log.Error("an error occurred creating the PagerDuty event: %v", err)
		return
	}

	p.log.Info("incident %s has been triggered", resp.IncidentKey)
}
