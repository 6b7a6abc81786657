package tracer

import (
	"sync"
	"time"
)

type aggregation int

const (
	sum aggregation = iota
	average
)

// 送信する1つのメトリクス
type datum struct {
	name      string
	unit      string
	value     float64
	timestamp time.Time
}

// 1分間の窓で値を集計するメトリクス。
// 窓を跨いで値が追加された時に、前の窓の集計値を返す
type windowMetrics struct {
	m      sync.Mutex
	now    func() time.Time
	name   string
	unit   string
	agg    aggregation
	window time.Time
	total  float64
	count  int
}

func newWindowMetrics(now func() time.Time, name, unit string, agg aggregation) *windowMetrics {
	return &windowMetrics{now: now, name: name, unit: unit, agg: agg}
}

func (w *windowMetrics) add(value float64) *datum {
	current := w.now().Truncate(1 * time.Minute)

	w.m.Lock()
	defer w.m.Unlock()

	var d *datum
	if !w.window.IsZero() && !w.window.Equal(current) {
		d = w.take()
	}

	if w.window.IsZero() {
		w.window = current
	}

	w.total += value
	w.count++
	return d
}

// 集計中の値があれば返す
func (w *windowMetrics) flush() *datum {
	w.m.Lock()
	defer w.m.Unlock()

	if w.window.IsZero() {
		return nil
	}

	return w.take()
}

func (w *windowMetrics) take() *datum {
	value := w.total
	if w.agg == average {
		value = w.total / float64(w.count)
	}

	d := &datum{name: w.name, unit: w.unit, value: value, timestamp: w.window}

	w.window = time.Time{}
	w.total = 0
	w.count = 0
	return d
}
