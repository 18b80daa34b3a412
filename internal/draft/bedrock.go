package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/pkg/logger"
)

const anthropicVersion = "bedrock-2023-05-31"

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockResponse struct {
	Content    []bedrockContentBlock `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// BedrockGenerator generates drafts through Anthropic models on AWS
// Bedrock. Temperature comes from config and should stay at zero so a
// regeneration from unchanged inputs matches its predecessor.
type BedrockGenerator struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float64
	log         *logger.Logger
}

// NewBedrockGenerator loads AWS credentials for the configured region
// and profile and returns a ready generator.
func NewBedrockGenerator(ctx context.Context, cfg config.DraftingConfig) (*BedrockGenerator, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &BedrockGenerator{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		log:         logger.Component("draft.bedrock"),
	}, nil
}

// Name identifies the generator in logs and stage errors.
func (g *BedrockGenerator) Name() string { return "bedrock" }

// Generate invokes the model and returns the concatenated text blocks
// of its response.
func (g *BedrockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload := bedrockRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        g.maxTokens,
		System:           req.System,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: req.Prompt}}},
		},
		Temperature: g.temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", g.modelID, err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	g.log.Debug("model call complete",
		"model", g.modelID,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return text.String(), nil
}
