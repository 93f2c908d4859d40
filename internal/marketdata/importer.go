package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ImportStats summarises an import.
type ImportStats struct {
	Instruments int
	Bars        int
	Failed      []string
}

// Importer copies instruments and bars from a source into a writer.
type Importer struct {
	source Provider
	sink   Writer
	logger *zap.Logger
}

// NewImporter creates an importer.
func NewImporter(source Provider, sink Writer, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{source: source, sink: sink, logger: logger}
}

// Import copies every instrument the source lists, one symbol at a time. A
// failing symbol is logged and recorded in the stats; the import goes on.
// Zero start or end leaves that side of the range open.
func (im *Importer) Import(ctx context.Context, start, end time.Time) (ImportStats, error) {
	var stats ImportStats

	instruments, err := im.source.Instruments(ctx)
	if err != nil {
		return stats, err
	}
	im.logger.Info("import started", zap.Int("instruments", len(instruments)))

	for i, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		history, err := im.source.LoadHistory(ctx, []string{inst.Symbol}, start, end)
		if err != nil {
			im.logger.Warn("loading failed", zap.String("symbol", inst.Symbol), zap.Error(err))
			stats.Failed = append(stats.Failed, inst.Symbol)
			continue
		}
		if err := im.sink.SaveInstrument(ctx, inst); err != nil {
			return stats, err
		}
		n, err := im.sink.SaveBars(ctx, inst.Symbol, history[inst.Symbol])
		if err != nil {
			im.logger.Warn("saving failed", zap.String("symbol", inst.Symbol), zap.Error(err))
			stats.Failed = append(stats.Failed, inst.Symbol)
			continue
		}
		stats.Instruments++
		stats.Bars += n

		if (i+1)%500 == 0 {
			im.logger.Info("import progress",
				zap.Int("done", i+1),
				zap.Int("total", len(instruments)),
				zap.Int("bars", stats.Bars),
			)
		}
	}

	im.logger.Info("import finished",
		zap.Int("instruments", stats.Instruments),
		zap.Int("bars", stats.Bars),
		zap.Int("failed", len(stats.Failed)),
	)
	return stats, nil
}
