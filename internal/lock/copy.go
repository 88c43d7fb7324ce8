package lock

import (
	"fmt"
	"strings"
	"time"
)

// Message renders user-facing copy for a lock reason. The badge UI and
// the run endpoint share this text so both surfaces agree.
func Message(r Reason) string {
	switch r.Kind {
	case KindNone:
		return ""
	case KindTokens:
		return fmt.Sprintf("You're out of tokens for today (%d left). Your allowance resets at %s.",
			r.TokensRemaining, r.ResetAt.UTC().Format(time.RFC3339))
	case KindPlan:
		if r.RequiredPlanSlug == "" {
			return "This tool isn't included in your plan."
		}
		return fmt.Sprintf("This tool isn't included in your plan. Upgrade to %s to use it.", r.RequiredPlanSlug)
	case KindCooldown:
		return fmt.Sprintf("This tool is cooling down. Try again at %s.",
			r.AvailableAt.UTC().Format(time.RFC3339))
	case KindMulti:
		parts := make([]string, 0, len(r.Reasons))
		for _, sub := range r.Reasons {
			if msg := Message(sub); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
