package kikimimi

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type Worker struct {
	number uint16
}

func NewWorker(number uint16) *Worker {
	return &Worker{number: number}
}

// キューが空になるか、取得数が上限に達するまでクロールを続ける
func (w *Worker) Start(ctx context.Context, conf *Configuration, shared *Shared, crawler Crawler) {
	ctx, cancel := WorkerContext(ctx, w.number)
	defer cancel()

	logger := LoggerFromContext(ctx)
	logger.Info("started worker")

	for {
		if shared.Counter.Reached(conf.FetchBudget()) {
			logger.Info("reached fetch budget")
			break
		}

		empty, err := shared.Frontier.IsEmpty(ctx)
		if err != nil {
			logger.Errorf("failed to check url frontier: %v", err)
			break
		}

		if empty {
			logger.Info("url frontier is empty")
			break
		}

		url, err := shared.Frontier.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warnf("interrupted: %v", err)
				break
			}

			logger.Warnf("failed to dequeue: %v", err)
			continue
		}

		if len(strings.TrimSpace(url)) == 0 {
			continue
		}

		// loggerにUUIDを付ける
		id, _ := uuid.NewRandom()
		crawlCtx := ContextWithLogger(ctx, logger.WithField("id", id.String()))

		if err := crawler.Crawl(crawlCtx, url); err != nil {
			logger.Errorf("failed to crawl: %v", err)
			break
		}
	}

	logger.Info("stopped worker")
}
