package jobs

import (
	"time"

	"github.com/extensionhub/extension_hub/realtime"
)

const typingIdleTimeout = 10 * time.Second

// SweepStaleTyping clears typing indicators from clients that went away
// without sending typing_stop, so rooms don't show someone typing forever.
func SweepStaleTyping(hub *realtime.Hub) func() {
	return func() {
		hub.SweepIdleTyping(typingIdleTimeout)
	}
}
