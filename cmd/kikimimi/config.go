package main

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/artifact_gatherer"
	"github.com/murakmii/kikimimi/pkg/kikimimi/crawler"
	"github.com/murakmii/kikimimi/pkg/kikimimi/fetcher"
	"github.com/murakmii/kikimimi/pkg/kikimimi/store"
	"github.com/murakmii/kikimimi/pkg/kikimimi/tracer"
	"github.com/murakmii/kikimimi/pkg/kikimimi/url_frontier"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

type config struct {
	Workers           uint `json:"workers" yaml:"workers"`
	DebugLevelLogging bool `json:"debug_level_logging" yaml:"debug_level_logging"`
	JSONLogging       bool `json:"json_logging" yaml:"json_logging"`

	Aws         awsConfig         `json:"aws" yaml:"aws"`
	Artifact    artifactConfig    `json:"artifact" yaml:"artifact"`
	Crawling    crawlingConfig    `json:"crawling" yaml:"crawling"`
	Store       storeConfig       `json:"store" yaml:"store"`
	URLFrontier urlFrontierConfig `json:"url_frontier" yaml:"url_frontier"`
	Tracer      tracerConfig      `json:"tracer" yaml:"tracer"`
}

type awsConfig struct {
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	S3EndPoint      string `json:"s3_endpoint" yaml:"s3_endpoint"`
}

type artifactConfig struct {
	Bucket      string `json:"bucket" yaml:"bucket"`
	KeyPrefix   string `json:"key_prefix" yaml:"key_prefix"`
	MaxBuffered int    `json:"max_buffered" yaml:"max_buffered"`
}

type crawlingConfig struct {
	UserAgent         string  `json:"user_agent" yaml:"user_agent"`
	RobotsUA          string  `json:"robots_ua" yaml:"robots_ua"`
	MaxDocumentSize   int64   `json:"max_document_size" yaml:"max_document_size"`
	MaxFetches        uint    `json:"max_fetches" yaml:"max_fetches"`
	RequeuePause      string  `json:"requeue_pause" yaml:"requeue_pause"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
}

type storeConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Source string `json:"source" yaml:"source"`
}

type urlFrontierConfig struct {
	RedisURL     string `json:"redis_url" yaml:"redis_url"`
	PollInterval string `json:"poll_interval" yaml:"poll_interval"`
}

type tracerConfig struct {
	Namespace      string `json:"namespace" yaml:"namespace"`
	DimensionName  string `json:"dimension_name" yaml:"dimension_name"`
	DimensionValue string `json:"dimension_value" yaml:"dimension_value"`
}

// 設定ファイルを読み込む。拡張子が.yaml、.ymlならYAML、それ以外はJSONとして扱う
func loadConfig(path string) (*config, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &config{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, c)
	default:
		err = json.Unmarshal(content, c)
	}

	if err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %w", path, err)
	}

	return c, nil
}

// Configuration生成
func buildConfiguration(path string) (*kikimimi.Configuration, error) {
	c, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	workers := c.Workers
	if workers == 0 {
		workers = 1
	}

	conf := kikimimi.NewConfiguration(workers)
	conf.DebugLevelLogging = c.DebugLevelLogging
	conf.JSONLogging = c.JSONLogging

	conf.UserAgent = c.Crawling.UserAgent
	if len(c.Crawling.RobotsUA) > 0 {
		conf.RobotsUA = c.Crawling.RobotsUA
	}

	if c.Crawling.MaxDocumentSize > 0 {
		conf.MaxDocumentSize = c.Crawling.MaxDocumentSize
	}

	if c.Crawling.MaxFetches > 0 {
		conf.MaxFetches = c.Crawling.MaxFetches
	}

	if len(c.Crawling.RequeuePause) > 0 {
		pause, err := time.ParseDuration(c.Crawling.RequeuePause)
		if err != nil {
			return nil, xerrors.Errorf("invalid requeue_pause: %w", err)
		}
		conf.RequeuePause = pause
	}

	conf.RequestsPerSecond = c.Crawling.RequestsPerSecond

	conf.AwsRegion = c.Aws.Region
	conf.AwsAccessKeyID = c.Aws.AccessKeyID
	conf.AwsSecretAccessKey = c.Aws.SecretAccessKey
	if len(c.Aws.S3EndPoint) > 0 {
		conf.AwsS3EndPoint = c.Aws.S3EndPoint
	}

	conf.StoreProvider = store.BuiltInStoreProvider
	conf.URLFrontierProvider = url_frontier.BuiltInURLFrontierProvider
	conf.ClientProvider = fetcher.BuiltInClientProvider
	conf.CrawlerProvider = crawler.BuiltInCrawlerProvider

	conf.Options["built_in.store.driver"] = c.Store.Driver
	conf.Options["built_in.store.source"] = c.Store.Source

	conf.Options["built_in.url_frontier.redis_url"] = c.URLFrontier.RedisURL
	conf.Options["built_in.url_frontier.poll_interval"] = c.URLFrontier.PollInterval

	// バケットが指定されていなければマッチ結果はストアにのみ記録する
	if len(c.Artifact.Bucket) > 0 {
		conf.ArtifactGathererProvider = artifact_gatherer.S3ArtifactGathererProvider
		conf.Options["built_in.artifact_gatherer.bucket"] = c.Artifact.Bucket
		conf.Options["built_in.artifact_gatherer.key_prefix"] = c.Artifact.KeyPrefix
		if c.Artifact.MaxBuffered > 0 {
			conf.Options["built_in.artifact_gatherer.max_buffered"] = strconv.Itoa(c.Artifact.MaxBuffered)
		}
	}

	if !conf.AwsConfigurationMayBeDummy() && len(c.Tracer.Namespace) > 0 {
		conf.TracerProvider = tracer.NewMetricsTracer
		conf.Options["built_in.tracer.namespace"] = c.Tracer.Namespace
		conf.Options["built_in.tracer.dimension_name"] = c.Tracer.DimensionName
		conf.Options["built_in.tracer.dimension_value"] = c.Tracer.DimensionValue
	}

	return conf, nil
}
