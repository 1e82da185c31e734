package enums

// ReconcileSource names the trigger that observed a gateway status.
type ReconcileSource string

const (
	SourceWebhook ReconcileSource = "webhook"
	SourcePoller  ReconcileSource = "poller"
	SourceSync    ReconcileSource = "sync"
	SourceExpiry  ReconcileSource = "expiry"
	SourceSeller  ReconcileSource = "seller"
)
