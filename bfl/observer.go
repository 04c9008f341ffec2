package bfl

import "go.uber.org/zap"

//TraceObserver receives training progress callbacks: one at the start of
//every boosting round (after relabeling and the bias update) and one after
//every materialized split. A nil observer disables tracing entirely.
type TraceObserver interface {
	RoundStarted(round int, total Sums, bias float64)
	SplitApplied(round int, cand *SplitCandidate, ranges NodeRanges)
}

//RoundEvaluator is an optional extension of TraceObserver. An observer that
//implements it additionally receives the monitor losses once a round's
//growth has finished, one value per eval set in Monitors order.
type RoundEvaluator interface {
	RoundEvaluated(round int, titles []string, losses []float64)
}

//ZapObserver logs training progress through a structured logger.
type ZapObserver struct {
	Logger *zap.Logger
}

func (o ZapObserver) RoundStarted(round int, total Sums, bias float64) {
	o.Logger.Info("round started",
		zap.Int("round", round),
		zap.Float64("total_weight", total.Weight),
		zap.Float64("bias", bias),
	)
}

func (o ZapObserver) SplitApplied(round int, cand *SplitCandidate, ranges NodeRanges) {
	o.Logger.Info("split applied",
		zap.Int("round", round),
		zap.Int("node", int(cand.NodeID)),
		zap.Float64("gain", cand.Gain),
		zap.Int("first", ranges.Parent.First),
		zap.Int("size0", ranges.Size0),
		zap.Int("size1", ranges.Parent.Size-ranges.Size0),
	)
}

func (o ZapObserver) RoundEvaluated(round int, titles []string, losses []float64) {
	fields := make([]zap.Field, 0, len(losses)+1)
	fields = append(fields, zap.Int("round", round))
	for i, title := range titles {
		fields = append(fields, zap.Float64(title, losses[i]))
	}
	o.Logger.Info("round evaluated", fields...)
}
