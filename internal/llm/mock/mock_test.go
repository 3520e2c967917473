package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"text-pipeline/internal/llm"
)

func TestRespondKeywordOrder(t *testing.T) {
	cases := []struct {
		prompt string
		prefix string
	}{
		{"请提取理论框架", "## 理论框架分析"},
		{"Extract the THEORY and the table", "## 理论框架分析"},
		{"解读表格", "## 表格数据分析"},
		{"table please", "## 表格数据分析"},
		{"生成报告", "# 分析报告"},
		{"write a Report", "# 分析报告"},
		{"你好", genericResponse},
	}
	for _, tc := range cases {
		if got := Respond(tc.prompt); !strings.HasPrefix(got, tc.prefix) {
			t.Fatalf("prompt %q: expected prefix %q, got %q", tc.prompt, tc.prefix, got)
		}
	}
}

func TestDefaults(t *testing.T) {
	stats := New().Stats()
	if stats.MaxConcurrentCalls != 3 || stats.MockDelay != 100*time.Millisecond || stats.CurrentAvailable != 3 || stats.TotalCalls != 0 {
		t.Fatalf("unexpected defaults: %+v", stats)
	}
}

func TestGenerateLimitsConcurrency(t *testing.T) {
	m := New(WithDelay(20*time.Millisecond), WithMaxConcurrent(2))

	var peak atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := m.inFlight.Load(); n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Generate(context.Background(), llm.Request{Prompt: "报告"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(stop)

	if peak.Load() > 2 {
		t.Fatalf("concurrency limit exceeded: %d", peak.Load())
	}
	stats := m.Stats()
	if stats.TotalCalls != 6 || stats.CurrentAvailable != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	m := New(WithDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Generate(ctx, llm.Request{Prompt: "x"}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestBatchInvoke(t *testing.T) {
	m := New(WithDelay(time.Millisecond))
	results := m.BatchInvoke(context.Background(), []string{"理论", "表格", "报告", "其他"})
	if len(results) != 4 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	if !strings.HasPrefix(results[0], "## 理论框架分析") || !strings.HasPrefix(results[1], "## 表格数据分析") ||
		!strings.HasPrefix(results[2], "# 分析报告") || results[3] != genericResponse {
		t.Fatalf("unexpected results: %q", results)
	}
}

func TestBatchInvokeFailurePlaceholder(t *testing.T) {
	m := New(WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	long := strings.Repeat("长", 60)
	results := m.BatchInvoke(ctx, []string{"短", long})
	if results[0] != "[处理失败] 短..." {
		t.Fatalf("unexpected placeholder: %q", results[0])
	}
	if results[1] != "[处理失败] "+strings.Repeat("长", 50)+"..." {
		t.Fatalf("placeholder should keep the first 50 runes: %q", results[1])
	}
}
