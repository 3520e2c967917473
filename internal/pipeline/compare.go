package pipeline

import (
	"context"
	"time"
)

// Comparison 是并行与串行管道的耗时对比。
type Comparison struct {
	Parallel    time.Duration `json:"parallel"`
	Serial      time.Duration `json:"serial"`
	TimeSaved   time.Duration `json:"time_saved"`
	Improvement float64       `json:"improvement_percent"`
	Consistent  bool          `json:"consistent"`

	ParallelOutput *Output `json:"-"`
	SerialOutput   *Output `json:"-"`
}

// Compare 先后运行两个管道，比较耗时并检查三个阶段的状态是否一致。
func Compare(ctx context.Context, parallel, serial *Pipeline, in Input) (*Comparison, error) {
	start := time.Now()
	pOut, err := parallel.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	parallelTime := time.Since(start)

	start = time.Now()
	sOut, err := serial.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	serialTime := time.Since(start)

	cmp := &Comparison{
		Parallel:       parallelTime,
		Serial:         serialTime,
		TimeSaved:      serialTime - parallelTime,
		Consistent:     sameStatuses(pOut, sOut),
		ParallelOutput: pOut,
		SerialOutput:   sOut,
	}
	if serialTime > 0 {
		cmp.Improvement = float64(cmp.TimeSaved) / float64(serialTime) * 100
	}
	return cmp, nil
}

func sameStatuses(a, b *Output) bool {
	return a.Theory.Status == b.Theory.Status &&
		a.Tables.Status == b.Tables.Status &&
		a.Report.Status == b.Report.Status
}
