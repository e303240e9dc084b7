package market

import (
	"fmt"
	"strings"

	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/fxp"
)

// Type is the market's outcome structure.
type Type int8

const (
	Binary Type = iota
	Categorical
	Scalar
)

func (t Type) String() string {
	switch t {
	case Binary:
		return "binary"
	case Categorical:
		return "categorical"
	case Scalar:
		return "scalar"
	default:
		return "unknown"
	}
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "binary":
		*t = Binary
	case "categorical":
		*t = Categorical
	case "scalar":
		*t = Scalar
	default:
		return fmt.Errorf("unknown market type %q", string(b))
	}
	return nil
}

// Status is the trading status of a market.
type Status int8

const (
	Active Status = iota
	Halted        // no new executions
	Closed        // terminal
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Halted:
		return "halted"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "active":
		*s = Active
	case "halted":
		*s = Halted
	case "closed":
		*s = Closed
	default:
		return fmt.Errorf("unknown market status %q", string(b))
	}
	return nil
}

// Market describes one prediction market.
type Market struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Type        Type     `json:"type"`
	Outcomes    []string `json:"outcomes"`
	Status      Status   `json:"status"`

	// MinValue and MaxValue bound a scalar market's outcome. Binary and
	// categorical markets trade on [0, 1].
	MinValue fxp.Decimal `json:"minValue"`
	MaxValue fxp.Decimal `json:"maxValue"`

	// Fees are fractions of notional, e.g. 0.01 for 1%.
	MakerFee fxp.Decimal `json:"makerFee"`
	TakerFee fxp.Decimal `json:"takerFee"`
}

// Validate checks a market definition before registration.
func (m *Market) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("market id is empty")
	}
	if len(m.Outcomes) < 2 {
		return fmt.Errorf("market %s: need at least 2 outcomes, got %d", m.ID, len(m.Outcomes))
	}
	if m.Type == Binary && len(m.Outcomes) != 2 {
		return fmt.Errorf("market %s: binary market needs exactly 2 outcomes", m.ID)
	}
	if m.Type == Scalar && !m.MaxValue.GreaterThan(m.MinValue) {
		return fmt.Errorf("market %s: scalar max %s must exceed min %s", m.ID, m.MaxValue, m.MinValue)
	}
	if err := m.Fees().Validate(); err != nil {
		return fmt.Errorf("market %s: %w", m.ID, err)
	}
	return nil
}

// HasOutcome reports whether outcome is one of the market's outcome IDs.
func (m *Market) HasOutcome(outcome string) bool {
	for _, o := range m.Outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

// Range is the width of the price band: max-min for scalar markets, 1
// otherwise.
func (m *Market) Range() fxp.Decimal {
	if m.Type == Scalar {
		return m.MaxValue.Sub(m.MinValue)
	}
	return fxp.New(1)
}

// Fees is the fee schedule the matcher prices actions with.
func (m *Market) Fees() matcher.Fees {
	return matcher.Fees{Maker: m.MakerFee, Taker: m.TakerFee}
}

// ScalarRange is the outcome band of a scalar market, nil otherwise.
func (m *Market) ScalarRange() *matcher.ScalarRange {
	if m.Type != Scalar {
		return nil
	}
	return &matcher.ScalarRange{Min: m.MinValue, Max: m.MaxValue}
}

// Tradable reports whether executions may be started.
func (m *Market) Tradable() bool { return m.Status == Active }
