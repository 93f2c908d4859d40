package notifier

import (
	"context"
	"time"

	"github.com/newthinker/tradesim/internal/backtest"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Summary describes a finished run for delivery to a channel.
type Summary struct {
	RunID    string
	Strategy string
	Symbols  []string
	Start    time.Time
	End      time.Time
	Result   backtest.Result

	// Text is the pre-rendered one-line summary.
	Text string

	// DocumentPath is where the run document was archived, if it was.
	DocumentPath string

	// Alerts holds the messages of alert rules the run triggered.
	Alerts []string
}

// Notifier delivers run summaries to an external channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send delivers one summary
	Send(ctx context.Context, summary Summary) error
}
