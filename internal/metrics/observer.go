package metrics

import (
	"time"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// DiscoveryObserver forwards engine signals to the Prometheus collectors.
type DiscoveryObserver struct{}

// NewDiscoveryObserver initializes the collectors and returns an observer.
func NewDiscoveryObserver() DiscoveryObserver {
	Init()
	return DiscoveryObserver{}
}

// ObserveFetch implements frontier.Observer.
func (DiscoveryObserver) ObserveFetch(outcome string, d time.Duration) {
	ObserveFetch(outcome, d)
}

// ObservePermitWait implements frontier.Observer.
func (DiscoveryObserver) ObservePermitWait(d time.Duration) {
	ObservePermitWait(d)
}

// ObserveRun implements frontier.Observer.
func (DiscoveryObserver) ObserveRun(mode crawler.Mode, outcome string, total int, d time.Duration) {
	ObserveDiscovery(string(mode), outcome, total, d)
}
