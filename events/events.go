package events

import (
	"github.com/ethereum/go-ethereum/event"
	"github.com/strideworks/trackd/types/fix"
	"github.com/strideworks/trackd/types/run"
)

// StoredRunFeed is emitted for every finished run that is successfully persisted.
var StoredRunFeed = event.FeedOf[*run.Record]{}

// PopulateFeed is a feed of raw fixes as they are pushed to the daemon.
// The fixes are as received: decoded, but not yet normalized, gated,
// nor necessarily accepted. Emitted only on the HTTP populate path;
// replay and direct sources bypass it.
var PopulateFeed = event.FeedOf[[]*fix.Fix]{}
