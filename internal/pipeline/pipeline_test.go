package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"text-pipeline/internal/component"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
	"text-pipeline/internal/llm/mock"
	"text-pipeline/internal/sample"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mockComponents(client llm.Client, withLLM bool) Components {
	c := Components{
		Theory: component.NewTheoryExtractor(),
		Tables: component.NewTableExtractor(),
		Report: component.NewReportGenerator(client),
	}
	if withLLM {
		c.Theory = component.NewTheoryExtractor(component.WithTheoryAnalysis(client))
		c.Tables = component.NewTableExtractor(component.WithTableInterpretation(client))
	}
	return c
}

func TestSerialPipelineProducesAllStages(t *testing.T) {
	client := mock.New(mock.WithDelay(time.Millisecond))
	out, err := NewSerial(mockComponents(client, false)).Run(context.Background(), Input{Content: sample.Full()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Content != sample.Full() {
		t.Fatalf("input content should pass through")
	}
	if out.Theory.Status != component.StatusSuccess || out.Tables.Metadata["table_count"] != 2 {
		t.Fatalf("unexpected extraction results: %+v %+v", out.Theory, out.Tables)
	}
	if out.Report.Status != component.StatusSuccess || !strings.Contains(out.Report.Content, "## 理论框架分析") {
		t.Fatalf("unexpected report: %+v", out.Report)
	}
	for _, stage := range []string{StageTheory, StageTables, StageReport} {
		if _, ok := out.Timings[stage]; !ok {
			t.Fatalf("timing for %s missing", stage)
		}
	}
	if client.Stats().TotalCalls != 1 {
		t.Fatalf("only the report stage should call the llm, got %d", client.Stats().TotalCalls)
	}
}

func TestEmptyContentYieldsWarningReport(t *testing.T) {
	client := mock.New(mock.WithDelay(0))
	for _, p := range []*Pipeline{NewSerial(mockComponents(client, false)), NewParallel(mockComponents(client, false))} {
		out, err := p.Run(context.Background(), Input{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", p.Mode(), err)
		}
		if out.Report.Status != component.StatusWarning || out.Report.Content != component.InsufficientDataContent {
			t.Fatalf("%s: expected warning report, got %+v", p.Mode(), out.Report)
		}
	}
	if client.Stats().TotalCalls != 0 {
		t.Fatalf("empty input must not reach the llm")
	}
}

// barrierClient 让理论与表格请求互相等待，只有并发执行时才能完成。
type barrierClient struct {
	theoryIn chan struct{}
	tableIn  chan struct{}
	once     sync.Once
}

func newBarrierClient() *barrierClient {
	return &barrierClient{theoryIn: make(chan struct{}), tableIn: make(chan struct{})}
}

func (b *barrierClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	switch {
	case strings.Contains(req.Prompt, "学术研究助理"):
		close(b.theoryIn)
		select {
		case <-b.tableIn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.Response{Text: "理论分析"}, nil
	case strings.Contains(req.Prompt, "解读以下表格"):
		b.once.Do(func() { close(b.tableIn) })
		select {
		case <-b.theoryIn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.Response{Text: "表格解读"}, nil
	default:
		return &llm.Response{Text: "报告"}, nil
	}
}

func TestParallelPipelineRunsExtractorsConcurrently(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := NewParallel(mockComponents(newBarrierClient(), true)).Run(ctx, Input{Content: sample.Simple()})
	if err != nil {
		t.Fatalf("extractors should run concurrently: %v", err)
	}
	if out.Theory.Content.Analysis != "理论分析" || out.Tables.Content[0].Interpretation != "表格解读" || out.Report.Content != "报告" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestSerialPipelineRunsExtractorsInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewSerial(mockComponents(newBarrierClient(), true)).Run(ctx, Input{Content: sample.Simple()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("serial pipeline should block on the barrier, got %v", err)
	}
}

type failingTheoryClient struct {
	cause error
}

func (f failingTheoryClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if strings.Contains(req.Prompt, "学术研究助理") {
		return nil, f.cause
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestParallelPipelineCancelsSiblingOnError(t *testing.T) {
	cause := llm.StatusError("stub", 400, "bad prompt")
	client := failingTheoryClient{cause: cause}

	_, err := NewParallel(mockComponents(client, true)).Run(context.Background(), Input{Content: sample.Full()})
	if !errors.Is(err, cause) {
		t.Fatalf("expected theory failure, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodePipelineFailure {
		t.Fatalf("expected pipeline failure code, got %s", xerrors.CodeOf(err))
	}
	if xerrors.RetryableError(err) {
		t.Fatalf("a rejected request should stay non-retryable")
	}
	if e, _ := xerrors.From(err); e.Metadata()["stage"] != StageTheory {
		t.Fatalf("failing stage should be recorded: %v", e.Metadata())
	}
}

func TestStageTimeout(t *testing.T) {
	client := mock.New(mock.WithDelay(time.Second))
	p := NewSerial(mockComponents(client, false), WithStageTimeout(10*time.Millisecond))
	_, err := p.Run(context.Background(), Input{Content: sample.Simple()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected stage timeout, got %v", err)
	}
}

func TestForMode(t *testing.T) {
	c := mockComponents(mock.New(), false)
	if p, err := ForMode(ModeSerial, c); err != nil || p.Mode() != ModeSerial {
		t.Fatalf("unexpected serial pipeline: %v", err)
	}
	if p, err := ForMode("", c); err != nil || p.Mode() != ModeParallel {
		t.Fatalf("empty mode should default to parallel: %v", err)
	}
	if _, err := ForMode("batch", c); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if got := strings.Join(NewParallel(c).Stages(), ","); got != "theory,tables,report" {
		t.Fatalf("unexpected stages: %s", got)
	}
}

func TestCompare(t *testing.T) {
	client := mock.New(mock.WithDelay(5 * time.Millisecond))
	c := mockComponents(client, true)

	cmp, err := Compare(context.Background(), NewParallel(c), NewSerial(c), Input{Content: sample.Full()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmp.Consistent {
		t.Fatalf("statuses should agree")
	}
	if cmp.TimeSaved != cmp.Serial-cmp.Parallel {
		t.Fatalf("time saved should be serial minus parallel")
	}
	if cmp.ParallelOutput == nil || cmp.SerialOutput == nil {
		t.Fatalf("outputs should be kept")
	}
}
