package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	// Conf 是包级全局变量，Unmarshal 不会清零缺省字段，逐用例重置
	Conf = Config{}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestInitParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  mode: "release"
elasticsearch:
  addresses: "http://es:9200"
  index_name: "article_chunks"
embedding:
  model: "text-embedding-3-small"
  dimensions: 1536
llm:
  default_provider: "mistral"
  providers:
    mistral:
      base_url: "https://api.mistral.ai/v1"
      model: "mistral-small-latest"
retrieval:
  top_k: 25
  context_size: 3
  max_articles: 5
  page_size: 200
`)

	Init(path)

	if Conf.Server.Port != "9090" || Conf.Server.Mode != "release" {
		t.Errorf("server = %+v", Conf.Server)
	}
	if Conf.Elasticsearch.IndexName != "article_chunks" {
		t.Errorf("index name = %q", Conf.Elasticsearch.IndexName)
	}
	if Conf.Embedding.Dimensions != 1536 {
		t.Errorf("dimensions = %d", Conf.Embedding.Dimensions)
	}
	if Conf.LLM.DefaultProvider != "mistral" {
		t.Errorf("default provider = %q", Conf.LLM.DefaultProvider)
	}
	if p, ok := Conf.LLM.Providers["mistral"]; !ok || p.Model != "mistral-small-latest" {
		t.Errorf("providers = %+v", Conf.LLM.Providers)
	}
	if Conf.Retrieval.TopK != 25 || Conf.Retrieval.ContextSize != 3 || Conf.Retrieval.MaxArticles != 5 || Conf.Retrieval.PageSize != 200 {
		t.Errorf("retrieval = %+v", Conf.Retrieval)
	}
}

func TestInitAppliesRetrievalDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "8080"
`)

	Init(path)

	if Conf.Retrieval.TopK != 10 {
		t.Errorf("default top_k = %d, want 10", Conf.Retrieval.TopK)
	}
	if Conf.Retrieval.MaxArticles != 2 {
		t.Errorf("default max_articles = %d, want 2", Conf.Retrieval.MaxArticles)
	}
	if Conf.Retrieval.PageSize != 500 {
		t.Errorf("default page_size = %d, want 500", Conf.Retrieval.PageSize)
	}
	if Conf.LLM.DefaultProvider != "openai" {
		t.Errorf("default provider = %q, want openai", Conf.LLM.DefaultProvider)
	}
}

func TestInitPanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Init must panic when the config file does not exist")
		}
	}()
	Init(filepath.Join(t.TempDir(), "nope.yaml"))
}
