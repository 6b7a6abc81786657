package kikimimi

import "sync/atomic"

// 1回の実行中に取得したページ数を数えるカウンター。全workerで共有される
type RunCounter struct {
	count uint64
}

func NewRunCounter() *RunCounter {
	return &RunCounter{}
}

func (c *RunCounter) Increment() uint64 {
	return atomic.AddUint64(&c.count, 1)
}

func (c *RunCounter) Count() uint64 {
	return atomic.LoadUint64(&c.count)
}

// 取得数が上限に達しているかどうかを返す
// 各workerが取得中のページ分だけ上限を超えることがある
func (c *RunCounter) Reached(budget uint) bool {
	return c.Count() >= uint64(budget)
}
