package pipeline

import (
	"fmt"
	"strings"
)

const (
	msgComplete    = "Great! All required information has been collected."
	msgUpdated     = "Information updated."
	msgNothing     = "I couldn't extract any form information from your input."
	msgTryAgain    = "Please try again."
	msgMissingOne  = "I still need your %s. Please provide it."
	msgMissingMany = "I still need your %s. Please provide them."
)

// message builds the user-facing summary for a result.
func (p *Pipeline) message(r *Result) string {
	if r.IsComplete {
		return msgComplete
	}
	missing := p.missingMessage(r.MissingFields)
	if len(r.Extracted) > 0 {
		if missing == "" {
			return msgUpdated
		}
		return "Thank you! " + missing
	}
	if missing == "" {
		return msgNothing + " " + msgTryAgain
	}
	return msgNothing + " " + missing
}

func (p *Pipeline) missingMessage(missing []string) string {
	labels := make([]string, len(missing))
	for i, f := range missing {
		labels[i] = p.cfg.Label(f)
	}
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf(msgMissingOne, labels[0])
	}
	return fmt.Sprintf(msgMissingMany, joinList(labels))
}

// joinList renders "a", "a and b" or "a, b, and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}
