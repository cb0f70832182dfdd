package delivery

import (
	"math"
	"time"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// RetryPolicy bounds retries for one priority tier.
type RetryPolicy struct {
	MaxPerChannel int
	MaxTotal      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
}

// retryPolicies tiers retry budgets by message priority. Emergency messages
// retry hardest with the shortest delays; low-priority messages give up
// quickly and wait the longest between attempts.
var retryPolicies = map[models.Priority]RetryPolicy{
	models.PriorityEmergency: {MaxPerChannel: 3, MaxTotal: 8, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute, Multiplier: 1.5},
	models.PriorityHigh:      {MaxPerChannel: 2, MaxTotal: 6, BaseDelay: 45 * time.Second, MaxDelay: 45 * time.Minute, Multiplier: 2},
	models.PriorityNormal:    {MaxPerChannel: 2, MaxTotal: 5, BaseDelay: 60 * time.Second, MaxDelay: time.Hour, Multiplier: 2},
	models.PriorityLow:       {MaxPerChannel: 1, MaxTotal: 3, BaseDelay: 120 * time.Second, MaxDelay: 2 * time.Hour, Multiplier: 2.5},
}

// PolicyFor returns the retry policy for a priority tier. Unknown priorities
// get the normal tier.
func PolicyFor(priority models.Priority) RetryPolicy {
	if p, ok := retryPolicies[priority]; ok {
		return p
	}
	return retryPolicies[models.PriorityNormal]
}

// Delay computes the backoff before retry number retryCount (zero-based):
// min(base * multiplier^retryCount, max). The result never decreases as
// retryCount grows.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryCount)))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}
