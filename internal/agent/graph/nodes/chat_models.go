package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/banking-router-poc/server/internal/agent/model"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	Classifier *model.ClassifierModelConfig
	Responder  *model.ResponderModelConfig
	Memory     *model.MemoryModelConfig
}

// ChatModels holds the classifier, responder and memory chat models.
type ChatModels struct {
	Classifier *gemini.ChatModel
	Responder  *gemini.ChatModel
	Memory     *gemini.ChatModel

	ClassifierModelName string
	ResponderModelName  string
	MemoryModelName     string
}

// NewChatModels creates the three Gemini chat models over one shared client.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.Classifier == nil || config.Responder == nil || config.Memory == nil {
		return nil, fmt.Errorf("chat model configs are not set")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	classifier, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Classifier.Model,
		Temperature: &config.Classifier.Temperature,
		MaxTokens:   &config.Classifier.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating classifier model")
		return nil, fmt.Errorf("error creating classifier model: %w", err)
	}

	responderCfg := &gemini.Config{
		Client:      client,
		Model:       config.Responder.Model,
		Temperature: &config.Responder.Temperature,
		MaxTokens:   &config.Responder.MaxTokens,
	}
	if config.Responder.ThinkingBudget > 0 {
		responderCfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(config.Responder.ThinkingBudget),
		}
	}
	responder, err := gemini.NewChatModel(ctx, responderCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating responder model")
		return nil, fmt.Errorf("error creating responder model: %w", err)
	}

	memory, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.Memory.Model,
		Temperature: &config.Memory.Temperature,
		MaxTokens:   &config.Memory.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating memory model")
		return nil, fmt.Errorf("error creating memory model: %w", err)
	}

	return &ChatModels{
		Classifier:          classifier,
		Responder:           responder,
		Memory:              memory,
		ClassifierModelName: config.Classifier.Model,
		ResponderModelName:  config.Responder.Model,
		MemoryModelName:     config.Memory.Model,
	}, nil
}
