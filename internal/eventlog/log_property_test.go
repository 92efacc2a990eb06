package eventlog

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"oikos/concierge/pkg/types"
)

// TestProperty_SequenceMonotonicity 事件序列单调性
// 对任意数量的追加操作，事件序列必须从 1 开始、无间隙地严格递增，
// 且重复读取得到完全相同的序列。
func TestProperty_SequenceMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 50).Draw(t, "count")
		runID := rapid.StringMatching(`run-[a-z0-9]{4,8}`).Draw(t, "runID")

		log := newTestLog()
		ctx := context.Background()

		for i := 0; i < count; i++ {
			ev, err := log.Append(ctx, runID, types.EventStreamChunk, map[string]any{"i": i}, "corr")
			if err != nil {
				t.Fatalf("append %d failed: %v", i, err)
			}
			if ev.Sequence != int64(i+1) {
				t.Fatalf("expected sequence %d, got %d", i+1, ev.Sequence)
			}
		}

		first, err := log.ReadFrom(ctx, runID, 0)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		second, err := log.ReadFrom(ctx, runID, 0)
		if err != nil {
			t.Fatalf("second read failed: %v", err)
		}

		if len(first) != count || len(second) != count {
			t.Fatalf("expected %d events, got %d and %d", count, len(first), len(second))
		}
		for i := range first {
			if first[i].Sequence != int64(i+1) {
				t.Fatalf("gap at index %d: sequence %d", i, first[i].Sequence)
			}
			if first[i].Sequence != second[i].Sequence || first[i].Type != second[i].Type {
				t.Fatalf("replay diverged at index %d", i)
			}
		}
	})
}

// TestProperty_WatermarkSlicing 水位过滤
// 对任意日志长度和任意水位，ReadFrom 返回的恰好是水位之后的后缀。
func TestProperty_WatermarkSlicing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 40).Draw(t, "count")
		log := newTestLog()
		ctx := context.Background()

		for i := 0; i < count; i++ {
			if _, err := log.Append(ctx, "run-1", types.EventStreamChunk, nil, "corr"); err != nil {
				t.Fatalf("append failed: %v", err)
			}
		}

		after := rapid.Int64Range(0, int64(count)+5).Draw(t, "after")
		events, err := log.ReadFrom(ctx, "run-1", after)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}

		want := count - int(after)
		if want < 0 {
			want = 0
		}
		if len(events) != want {
			t.Fatalf("after=%d count=%d: expected %d events, got %d", after, count, want, len(events))
		}
		for i, ev := range events {
			if ev.Sequence != after+int64(i)+1 {
				t.Fatalf("expected sequence %d, got %d", after+int64(i)+1, ev.Sequence)
			}
		}
	})
}
