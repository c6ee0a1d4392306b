package pooling

import (
	"fmt"
	"strings"
)

// Strategy selects which reduction Pool applies.
// The zero value is Cls.
type Strategy int

const (
	// Cls keeps the embedding of token index 0.
	Cls Strategy = iota
	// Mean averages token embeddings weighted by the attention mask.
	Mean
)

// DefaultStrategy is used when no strategy is configured.
const DefaultStrategy = Cls

func (s Strategy) String() string {
	switch s {
	case Cls:
		return "cls"
	case Mean:
		return "mean"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts "cls" or "mean" (any case) to a Strategy.
// An empty string yields DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultStrategy, nil
	case "cls":
		return Cls, nil
	case "mean":
		return Mean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if s != Cls && s != Mean {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
