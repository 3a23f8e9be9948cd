// Package config loads the settings of the embedding service and the
// knowledge backend from a YAML file or from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/embeddings"
	"github.com/effective-security/ragtools/pkg/knowledge"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

// Environment variables recognized by FromEnv.
const (
	EnvOpenAIEndpoint        = "AZURE_OPENAI_ENDPOINT"
	EnvOpenAIAPIKey          = "AZURE_OPENAI_API_KEY"
	EnvOpenAIAPIVersion      = "AZURE_OPENAI_API_VERSION"
	EnvOpenAIEmbeddingModel  = "AZURE_OPENAI_EMBEDDING_MODEL_NAME"
	EnvEmbeddingAPIType      = "EMBEDDING_API_TYPE"
	EnvEmbeddingDimensions   = "EMBEDDING_DIMENSIONS"
	EnvEmbeddingRegion       = "EMBEDDING_REGION"
	EnvSearchEndpoint        = "AZURE_SEARCH_ENDPOINT"
	EnvSearchIndex           = "AZURE_SEARCH_INDEX"
	EnvSearchAPIKey          = "AZURE_SEARCH_API_KEY"
	EnvSearchAPIVersion      = "AZURE_SEARCH_API_VERSION"
	EnvSearchSemanticConfig  = "AZURE_SEARCH_SEMANTIC_CONFIGURATION"
	EnvSearchIdentifierField = "AZURE_SEARCH_IDENTIFIER_FIELD"
	EnvSearchTitleField      = "AZURE_SEARCH_TITLE_FIELD"
	EnvSearchContentField    = "AZURE_SEARCH_CONTENT_FIELD"
	EnvSearchVectorField     = "AZURE_SEARCH_VECTOR_FIELD"
)

// Config of the RAG tools.
type Config struct {
	Embeddings embeddings.Config `json:"embeddings" yaml:"embeddings"`
	Search     Search            `json:"search" yaml:"search"`
}

// Search configures the knowledge backend.
type Search struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	Index    string `json:"index" yaml:"index" validate:"required"`
	// APIKey is the static key, the token credential is used when empty.
	APIKey                string           `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIVersion            string           `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	SemanticConfiguration string           `json:"semantic_configuration,omitempty" yaml:"semantic_configuration,omitempty"`
	Fields                knowledge.Fields `json:"fields" yaml:"fields"`
}

// Load returns the configuration from file, or from the environment
// when file is empty. Defaults are applied and the result is validated.
func Load(file string) (*Config, error) {
	if file == "" {
		cfg := FromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := new(Config)
	if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
		return nil, errors.WithMessagef(err, "failed to load config %s", file)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the configuration from the environment with defaults applied.
func FromEnv() *Config {
	dims, _ := strconv.Atoi(os.Getenv(EnvEmbeddingDimensions))
	cfg := &Config{
		Embeddings: embeddings.Config{
			APIType:    os.Getenv(EnvEmbeddingAPIType),
			BaseURL:    os.Getenv(EnvOpenAIEndpoint),
			APIVersion: os.Getenv(EnvOpenAIAPIVersion),
			Token:      os.Getenv(EnvOpenAIAPIKey),
			Model:      os.Getenv(EnvOpenAIEmbeddingModel),
			Dimensions: dims,
			Region:     os.Getenv(EnvEmbeddingRegion),
		},
		Search: Search{
			Endpoint:              os.Getenv(EnvSearchEndpoint),
			Index:                 os.Getenv(EnvSearchIndex),
			APIKey:                os.Getenv(EnvSearchAPIKey),
			APIVersion:            os.Getenv(EnvSearchAPIVersion),
			SemanticConfiguration: os.Getenv(EnvSearchSemanticConfig),
			Fields: knowledge.Fields{
				ID:      os.Getenv(EnvSearchIdentifierField),
				Title:   os.Getenv(EnvSearchTitleField),
				Content: os.Getenv(EnvSearchContentField),
				Vector:  os.Getenv(EnvSearchVectorField),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty settings.
func (c *Config) ApplyDefaults() {
	c.Embeddings.APIType = c.Embeddings.Provider()
	if c.Embeddings.APIType == embeddings.ProviderAzure || c.Embeddings.APIType == embeddings.ProviderAzureAD {
		c.Embeddings.APIVersion = values.StringsCoalesce(c.Embeddings.APIVersion, embeddings.DefaultAzureAPIVersion)
		c.Embeddings.Model = values.StringsCoalesce(c.Embeddings.Model, embeddings.DefaultAzureModel)
	}
	c.Search.APIVersion = values.StringsCoalesce(c.Search.APIVersion, knowledge.DefaultAPIVersion)
	c.Search.Fields = c.Search.Fields.WithDefaults()
}

// Validate returns an error listing the invalid settings.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WithStack(err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return errors.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}
