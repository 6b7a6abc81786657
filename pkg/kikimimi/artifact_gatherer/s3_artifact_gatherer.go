package artifact_gatherer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"golang.org/x/xerrors"
)

const (
	bucketConfKey      = "built_in.artifact_gatherer.bucket"
	keyPrefixConfKey   = "built_in.artifact_gatherer.key_prefix"
	maxBufferedConfKey = "built_in.artifact_gatherer.max_buffered"

	defaultMaxBuffered = 100
	maxUploadFailures  = 5
)

// 保存先ストレージの詳細を抽象化しておく
type artifactStorage interface {
	put(ctx context.Context, key string, data []byte) error
}

// 収集した結果をJSON Linesとしてバッファし、一定数ごとにストレージにアップロードする
type s3ArtifactGatherer struct {
	m           sync.Mutex
	storage     artifactStorage
	prefix      string
	buffer      *bytes.Buffer
	buffered    int
	maxBuffered int
	failures    int
	now         func() time.Time
}

// S3にアップロードするArtifactGathererを生成する
func S3ArtifactGathererProvider(_ context.Context, conf *kikimimi.Configuration) (kikimimi.ArtifactGatherer, error) {
	storage, err := newS3Storage(conf)
	if err != nil {
		return nil, err
	}

	maxBuffered := defaultMaxBuffered
	if s := conf.OptionAsString(maxBufferedConfKey); s != nil {
		if n, err := strconv.Atoi(*s); err == nil && n > 0 {
			maxBuffered = n
		}
	}

	return newS3ArtifactGatherer(storage, conf.OptionAsStringOr(keyPrefixConfKey, "matches"), maxBuffered), nil
}

func newS3ArtifactGatherer(storage artifactStorage, prefix string, maxBuffered int) *s3ArtifactGatherer {
	return &s3ArtifactGatherer{
		storage:     storage,
		prefix:      prefix,
		buffer:      bytes.NewBuffer(nil),
		maxBuffered: maxBuffered,
		now:         time.Now,
	}
}

func (g *s3ArtifactGatherer) Collect(ctx context.Context, artifact interface{}) error {
	marshaled, err := json.Marshal(artifact)
	if err != nil {
		return xerrors.Errorf("failed to marshal artifact: %w", err)
	}

	g.m.Lock()
	defer g.m.Unlock()

	g.buffer.Write(marshaled)
	g.buffer.WriteByte('\n')
	g.buffered++

	if g.buffered < g.maxBuffered {
		return nil
	}

	return g.upload(ctx)
}

// バッファに残った結果をアップロードする
func (g *s3ArtifactGatherer) Finish() error {
	g.m.Lock()
	defer g.m.Unlock()

	if g.buffered == 0 {
		return nil
	}

	return g.upload(context.Background())
}

// アップロードに失敗した場合はバッファを保持して次の機会に再度試みる。
// 連続して失敗した場合のみエラーを返す
func (g *s3ArtifactGatherer) upload(ctx context.Context) error {
	u, err := uuid.NewRandom()
	if err != nil {
		return xerrors.Errorf("failed to generate key: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.jsonl", g.prefix, g.now().UTC().Format("2006-01-02-15-04"), u.String())

	if err = g.storage.put(ctx, key, g.buffer.Bytes()); err != nil {
		g.failures++
		if g.failures >= maxUploadFailures {
			return xerrors.Errorf("can't upload artifact: %w", err)
		}

		return nil
	}

	g.buffer.Reset()
	g.buffered = 0
	g.failures = 0

	return nil
}

// S3を対象にしたストレージ
type s3Storage struct {
	s3     *s3.S3
	bucket string
}

func newS3Storage(conf *kikimimi.Configuration) (artifactStorage, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, xerrors.Errorf("can't create aws session: %w", err)
	}

	config := aws.NewConfig().WithRegion(conf.AwsRegion)
	if !conf.AwsConfigurationMayBeDummy() {
		config = config.WithCredentials(credentials.NewStaticCredentials(conf.AwsAccessKeyID, conf.AwsSecretAccessKey, ""))
	}

	if len(conf.AwsS3EndPoint) > 0 {
		config = config.WithEndpoint(conf.AwsS3EndPoint).WithS3ForcePathStyle(true)
	}

	return &s3Storage{
		s3:     s3.New(sess, config),
		bucket: conf.MustOptionAsString(bucketConfKey),
	}, nil
}

func (s *s3Storage) put(ctx context.Context, key string, data []byte) error {
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		ACL:         aws.String("private"),
		Body:        bytes.NewReader(data),
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/x-ndjson"),
	})

	return err
}
