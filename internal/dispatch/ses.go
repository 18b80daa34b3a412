package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/pkg/logger"
)

// SESTransport delivers mail through AWS SESv2. Message tags carry the
// item and campaign ids so provider engagement events can be routed
// back to the right item.
type SESTransport struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
	replyTo   string
	log       *logger.Logger
}

// NewSESTransport builds the transport from dispatch config. Static
// credentials are used when configured; otherwise the default AWS chain
// applies.
func NewSESTransport(ctx context.Context, cfg config.DispatchConfig) (*SESTransport, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESTransport{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
		replyTo:   cfg.ReplyTo,
		log:       logger.Component("dispatch.ses"),
	}, nil
}

// Name identifies the transport in logs and stage errors.
func (t *SESTransport) Name() string { return "ses" }

// SupportsIdempotencyKeys reports false: SES has no native send dedupe,
// so the engine guards with its send history.
func (t *SESTransport) SupportsIdempotencyKeys() bool { return false }

// Send delivers one message and returns the provider message id.
func (t *SESTransport) Send(ctx context.Context, msg Message) (*SendReceipt, error) {
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", t.fromName, t.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("item_id"), Value: aws.String(msg.ItemID)},
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
		},
	}
	if t.replyTo != "" {
		input.ReplyToAddresses = []string{t.replyTo}
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	t.log.Debug("accepted by ses", "recipient", msg.To, "message_id", messageID)
	return &SendReceipt{MessageID: messageID, SentAt: time.Now().UTC()}, nil
}
