package kikimimi

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/xerrors"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	loggerContextKey contextKey = "KIKIMIMI_CTX_KEY_LOGGER"
	tracerContextKey contextKey = "KIKIMIMI_CTX_KEY_TRACER"
)

func RootContext(conf *Configuration) (context.Context, error) {
	logger := logrus.New()
	if conf.JSONLogging {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if conf.DebugLevelLogging {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = ContextWithLogger(ctx, logrus.NewEntry(logger))

	if conf.TracerProvider != nil {
		tracer, err := conf.TracerProvider(conf)
		if err != nil {
			cancel()
			return nil, xerrors.Errorf("failed to setup context: %w", err)
		}
		ctx = ContextWithTracer(ctx, tracer)
	} else {
		ctx = ContextWithTracer(ctx, NewNullTracer())
	}

	// いくつかのシグナルを受信したらクロールを終了する
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, nil
}

func MustRootContext(conf *Configuration) context.Context {
	ctx, err := RootContext(conf)
	if err != nil {
		panic(err)
	}

	return ctx
}

func WorkerContext(ctx context.Context, number uint16) (context.Context, context.CancelFunc) {
	ctx = ContextWithLogger(ctx, LoggerFromContext(ctx).WithField("worker", number))
	return context.WithCancel(ctx)
}

func SubSystemContext(ctx context.Context, name string) context.Context {
	return ContextWithLogger(ctx, LoggerFromContext(ctx).WithField("subsys", name))
}

func ContextWithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

func ContextWithTracer(ctx context.Context, tracer Tracer) context.Context {
	return context.WithValue(ctx, tracerContextKey, tracer)
}

func LoggerFromContext(ctx context.Context) *logrus.Entry {
	logger, ok := ctx.Value(loggerContextKey).(*logrus.Entry)
	if !ok {
		panic(xerrors.New("can't fetch logger from context"))
	}

	return logger
}

func TracerFromContext(ctx context.Context) Tracer {
	tracer, ok := ctx.Value(tracerContextKey).(Tracer)
	if !ok {
		panic(xerrors.New("can't fetch tracer from context"))
	}

	return tracer
}
