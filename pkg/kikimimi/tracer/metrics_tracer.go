package tracer

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	namespaceConfKey = "built_in.tracer.namespace"
	dimNameConfKey   = "built_in.tracer.dimension_name"
	dimValueConfKey  = "built_in.tracer.dimension_value"
)

// 動作をトレースしてメトリクスとして外部(CloudWatch)に送信するトレーサー
type metricsTracer struct {
	client   metricsClient
	ns       string
	dimName  string
	dimValue string

	fetched        *windowMetrics
	fetchErrors    *windowMetrics
	requestLatency *windowMetrics
	matched        *windowMetrics
}

// 外部(CloudWatch)に送信するためのClient
type metricsClient interface {
	put(ctx context.Context, ns string, d *datum, dimName, dimValue string)
	finish()
}

type cloudWatchMetricsClient struct {
	client *cloudwatch.CloudWatch
	wg     *sync.WaitGroup
	logger *logrus.Entry
}

// metricsTracerをTracerとして生成して返す
func NewMetricsTracer(conf *kikimimi.Configuration) (kikimimi.Tracer, error) {
	client, err := newCloudWatchMetricsClient(conf)
	if err != nil {
		return nil, xerrors.Errorf("failed to build cloudwatch client: %w", err)
	}

	return newMetricsTracer(conf, client, time.Now), nil
}

func newMetricsTracer(conf *kikimimi.Configuration, client metricsClient, now func() time.Time) *metricsTracer {
	return &metricsTracer{
		client:   client,
		ns:       conf.MustOptionAsString(namespaceConfKey),
		dimName:  conf.MustOptionAsString(dimNameConfKey),
		dimValue: conf.MustOptionAsString(dimValueConfKey),

		fetched:        newWindowMetrics(now, "Fetched", "Count", sum),
		fetchErrors:    newWindowMetrics(now, "Fetch Errors", "Count", sum),
		requestLatency: newWindowMetrics(now, "Request Latency", "Seconds", average),
		matched:        newWindowMetrics(now, "Matched", "Count", sum),
	}
}

// 1分間の間に取得したページ数を送信する
func (tracer *metricsTracer) TraceFetched(ctx context.Context, err error) {
	m := tracer.fetched
	if err != nil {
		m = tracer.fetchErrors
	}

	tracer.put(ctx, m.add(1))
}

// 1分間の間に発生したリクエストのレイテンシの平均を送信する
func (tracer *metricsTracer) TraceRequest(ctx context.Context, elapsed float64) {
	tracer.put(ctx, tracer.requestLatency.add(elapsed))
}

// 1分間の間にチャンネルに追加されたURLの数を送信する
func (tracer *metricsTracer) TraceMatched(ctx context.Context) {
	tracer.put(ctx, tracer.matched.add(1))
}

// 集計中のメトリクスを送信し、送信の完了を待つ
func (tracer *metricsTracer) Finish() error {
	ctx := context.Background()
	for _, m := range []*windowMetrics{tracer.fetched, tracer.fetchErrors, tracer.requestLatency, tracer.matched} {
		tracer.put(ctx, m.flush())
	}

	tracer.client.finish()
	return nil
}

func (tracer *metricsTracer) put(ctx context.Context, d *datum) {
	if d != nil {
		tracer.client.put(ctx, tracer.ns, d, tracer.dimName, tracer.dimValue)
	}
}

func newCloudWatchMetricsClient(conf *kikimimi.Configuration) (metricsClient, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}

	cred := credentials.NewStaticCredentials(conf.AwsAccessKeyID, conf.AwsSecretAccessKey, "")
	config := aws.NewConfig().WithCredentials(cred).WithRegion(conf.AwsRegion).WithMaxRetries(5)

	return &cloudWatchMetricsClient{
		client: cloudwatch.New(sess, config),
		wg:     &sync.WaitGroup{},
		logger: logrus.WithField("subsys", "tracer"),
	}, nil
}

// 呼び出し元のcontextがキャンセルされていても送信する
func (m *cloudWatchMetricsClient) put(_ context.Context, ns string, d *datum, dimName, dimValue string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		_, err := m.client.PutMetricData(&cloudwatch.PutMetricDataInput{
			Namespace: aws.String(ns),
			MetricData: []*cloudwatch.MetricDatum{
				{
					Dimensions: []*cloudwatch.Dimension{
						{Name: aws.String(dimName), Value: aws.String(dimValue)},
					},
					MetricName: aws.String(d.name),
					Timestamp:  aws.Time(d.timestamp),
					Value:      aws.Float64(d.value),
					Unit:       aws.String(d.unit),
				},
			},
		})

		if err != nil {
			m.logger.Warnf("failed to put metrics: %v", err)
		}
	}()
}

func (m *cloudWatchMetricsClient) finish() {
	m.wg.Wait()
}
