package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	dir, err := ioutil.TempDir("", "kikimimi")
	if err != nil {
		t.Fatalf("TempDir() returns error: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() returns error: %v", err)
	}

	return path
}

func TestBuildConfiguration(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		path := writeConfig(t, "config.json", `{
  "workers": 4,
  "crawling": {"user_agent": "kikimimi-bot/1.0", "max_fetches": 50, "requeue_pause": "250ms"},
  "store": {"driver": "sqlite3", "source": "/tmp/kikimimi.db"}
}`)

		conf, err := buildConfiguration(path)
		if err != nil {
			t.Fatalf("buildConfiguration() returns error: %v", err)
		}

		if conf.Workers != 4 || conf.UserAgent != "kikimimi-bot/1.0" || conf.MaxFetches != 50 {
			t.Errorf("unexpected configuration: %+v", conf)
		}

		if conf.RequeuePause != 250*time.Millisecond {
			t.Errorf("RequeuePause = %v, want = 250ms", conf.RequeuePause)
		}

		if conf.RobotsUA != "kikimimi" || conf.MaxDocumentSize != 1024*1024 {
			t.Errorf("defaults are NOT kept: %+v", conf)
		}

		if conf.MustOptionAsString("built_in.store.source") != "/tmp/kikimimi.db" {
			t.Errorf("unexpected store source: %v", conf.Options["built_in.store.source"])
		}

		if conf.ArtifactGathererProvider != nil || conf.TracerProvider != nil {
			t.Error("optional providers should NOT be set")
		}

		if conf.StoreProvider == nil || conf.URLFrontierProvider == nil || conf.ClientProvider == nil || conf.CrawlerProvider == nil {
			t.Error("built-in providers are NOT set")
		}
	})

	t.Run("YAML", func(t *testing.T) {
		path := writeConfig(t, "config.yml", `
workers: 2
json_logging: true
aws:
  region: ap-northeast-1
  access_key_id: key
  secret_access_key: secret
artifact:
  bucket: matches
  max_buffered: 10
tracer:
  namespace: kikimimi
url_frontier:
  redis_url: redis://localhost:6379
`)

		conf, err := buildConfiguration(path)
		if err != nil {
			t.Fatalf("buildConfiguration() returns error: %v", err)
		}

		if conf.Workers != 2 || !conf.JSONLogging || conf.AwsRegion != "ap-northeast-1" {
			t.Errorf("unexpected configuration: %+v", conf)
		}

		if conf.ArtifactGathererProvider == nil || conf.MustOptionAsString("built_in.artifact_gatherer.max_buffered") != "10" {
			t.Error("artifact gatherer is NOT configured")
		}

		if conf.TracerProvider == nil {
			t.Error("tracer is NOT configured")
		}

		if conf.MustOptionAsString("built_in.url_frontier.redis_url") != "redis://localhost:6379" {
			t.Errorf("unexpected redis url: %v", conf.Options["built_in.url_frontier.redis_url"])
		}
	})

	t.Run("workersが未指定なら1", func(t *testing.T) {
		conf, err := buildConfiguration(writeConfig(t, "config.json", `{}`))
		if err != nil {
			t.Fatalf("buildConfiguration() returns error: %v", err)
		}

		if conf.Workers != 1 {
			t.Errorf("Workers = %d, want = 1", conf.Workers)
		}
	})

	t.Run("不正な設定", func(t *testing.T) {
		tests := []struct {
			name    string
			file    string
			content string
		}{
			{name: "壊れたJSON", file: "config.json", content: `{"workers": `},
			{name: "壊れたYAML", file: "config.yaml", content: "workers: [1"},
			{name: "不正な待ち時間", file: "config.json", content: `{"crawling": {"requeue_pause": "soon"}}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := buildConfiguration(writeConfig(t, tt.file, tt.content)); err == nil {
					t.Error("buildConfiguration() returns no error")
				}
			})
		}

		if _, err := buildConfiguration("/not/found.json"); err == nil {
			t.Error("buildConfiguration() returns no error for missing file")
		}
	})
}
