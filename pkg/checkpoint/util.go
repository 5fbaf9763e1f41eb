package checkpoint

import (
	mrand "math/rand"
	"os"
	"time"
)

func isDisabled() bool {
	return os.Getenv("CHECKPOINT_DISABLE") != ""
}

// randomStagger spreads reports over the back half of the interval so
// a fleet restarted together does not report in lockstep.
func randomStagger(interval time.Duration) time.Duration {
	stagger := time.Duration(mrand.Int63()) % (interval / 2)
	return 3*(interval/4) + stagger
}
