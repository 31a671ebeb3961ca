package relay

import (
	"context"

	"github.com/vitalmesh/meshlink/internal/protocol/message"
)

// Classifier turns free-text vitals into a risk assessment. The relay
// ships no implementation; a deployment injects one and the admin API
// exposes it through POST /classify-send. Without one the route
// reports the capability as unavailable.
type Classifier interface {
	Classify(ctx context.Context, vitals string) (risk message.RiskLevel, analysis string, err error)
}
