package gridledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MatchPolicy identifies how the lots consumed by a sell were selected.
type MatchPolicy int

const (
	// Unmatched means no lot could be found for the sell: no profit is recorded.
	Unmatched MatchPolicy = iota
	// SpreadMatch selects the lot whose price is the closest to the sell price
	// discounted by one grid step.
	SpreadMatch
	// FIFO consumes the oldest lots first, regardless of their price.
	FIFO
	// Estimated means at least one consumed lot was an operator estimated lot,
	// the profit is not guaranteed to be accurate.
	Estimated
)

func (m MatchPolicy) String() string {
	switch m {
	case Unmatched:
		return "UNMATCHED"
	case SpreadMatch:
		return "SPREAD_MATCH"
	case FIFO:
		return "FIFO"
	case Estimated:
		return "ESTIMATED"
	default:
		return "unknown"
	}
}

// ParseMatchPolicy parses a string into a MatchPolicy. It is case insensitive.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToUpper(s) {
	case "UNMATCHED":
		return Unmatched, nil
	case "SPREAD_MATCH", "SPREAD":
		return SpreadMatch, nil
	case "FIFO":
		return FIFO, nil
	case "ESTIMATED":
		return Estimated, nil
	default:
		return 0, fmt.Errorf("unknown match policy: %q", s)
	}
}

func (m MatchPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MatchPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	p, err := ParseMatchPolicy(s)
	if err != nil {
		return err
	}
	*m = p
	return nil
}
