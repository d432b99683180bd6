package notifier

import (
	"fmt"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	alerts "github.com/opsgenie/opsgenie-go-sdk/alertsv2"
	ogclient "github.com/opsgenie/opsgenie-go-sdk/client"
)

// OpsGenieProvider sends notifications to OpsGenie.
type OpsGenieProvider struct {
	apiKey string
	log    *logging.Logger
}

// NewOpsGenieProvider builds an OpsGenieProvider for the given API key.
func NewOpsGenieProvider(apiKey string, log *logging.Logger) *OpsGenieProvider {
	if log == nil {
		log = logging.Nop()
	}
	return &OpsGenieProvider{apiKey: apiKey, log: log.Component("notifier/opsgenie")}
}

// Name returns the provider's identifier.
func (og *OpsGenieProvider) Name() string {
	return "opsgenie"
}

// SendNotification creates an OpsGenie alert for message.
func (og *OpsGenieProvider) SendNotification(message FailureMessage) {
	description := fmt.Sprintf("%s: %s (status=%s)",
		message.ClusterIdentifier, message.Reason, message.Status)

	client := new(ogclient.OpsGenieClient)
	client.SetAPIKey(og.apiKey)

	alertClient, err := client.AlertV2()
	if err != nil {
		og.log.Error("unable to build OpsGenie alert client: %v", err)
		return
	}

	request := alerts.CreateAlertRequest{
		Message:     "cluster management notification",
		Alias:       message.ClusterIdentifier + ":" + message.Reason,
		Description: description,
		Details: map[string]string{
			"cluster_identifier": message.ClusterIdentifier,
			"reason":             message.Reason,
			"status":             message.Status,
		},
		Entity: message.ClusterIdentifier,
		Source: "cluster-manager",
	}

	resp, err := alertClient.Create(request)
	if err != nil {
		og.log.Error("an error occurred creating the OpsGenie event: %v", err)
		return
	}

	og.log.Info("incident %s has been triggered", resp.RequestID)
}
