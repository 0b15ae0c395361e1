package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

func init() {
	Register("aws", buildAWS)
}

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// buildAWS wires SNS for publishing and SNS-over-SQS for subscribing. A custom
// endpoint switches everything to LocalStack semantics, including the default
// account id.
func buildAWS(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return Transport{}, fmt.Errorf("load AWS config: %w", err)
	}

	publisher, err := newSNSPublisher(cfg, awsCfg, logger)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := newSQSSubscriber(cfg, awsCfg, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: key, SecretAccessKey: secret}, nil
			}),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	if endpoint := cfg.GetAWSEndpoint(); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}

func newSNSPublisher(cfg Config, awsCfg aws.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	topicResolver, err := sns.NewGenerateArnTopicResolver(resolveAccountID(cfg, logger), awsCfg.Region)
	if err != nil {
		return nil, fmt.Errorf("create SNS topic resolver: %w", err)
	}

	publisherConfig := sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     awsCfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
	if endpoint := cfg.GetAWSEndpoint(); endpoint != "" {
		publisherConfig.OptFns = []func(*amazonsns.Options){
			func(o *amazonsns.Options) { o.BaseEndpoint = aws.String(endpoint) },
		}
	}

	return sns.NewPublisher(publisherConfig, logger)
}

func newSQSSubscriber(cfg Config, awsCfg aws.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	topicResolver, err := sns.NewGenerateArnTopicResolver(resolveAccountID(cfg, logger), awsCfg.Region)
	if err != nil {
		return nil, fmt.Errorf("create SNS topic resolver: %w", err)
	}

	snsOpts, sqsOpts, err := endpointOverrides(cfg)
	if err != nil {
		return nil, err
	}

	return sns.NewSubscriber(
		sns.SubscriberConfig{
			AWSConfig:     awsCfg,
			OptFns:        snsOpts,
			TopicResolver: topicResolver,
			GenerateSqsQueueName: func(_ context.Context, snsTopic sns.TopicArn) (string, error) {
				topic, err := sns.ExtractTopicNameFromTopicArn(snsTopic)
				if err != nil {
					return "", err
				}
				return string(topic), nil
			},
		},
		sqs.SubscriberConfig{
			AWSConfig: awsCfg,
			OptFns:    sqsOpts,
		},
		logger,
	)
}

func endpointOverrides(cfg Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	endpoint := cfg.GetAWSEndpoint()
	if endpoint == "" {
		return nil, nil, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("parse AWS endpoint: %w", err)
	}

	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsed},
		}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsed},
		}),
	}
	return snsOpts, sqsOpts, nil
}

func resolveAccountID(cfg Config, logger watermill.LoggerAdapter) string {
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	onLocalstack := cfg.GetAWSEndpoint() != ""

	if accountID == "" && onLocalstack {
		return localstackAccountID
	}
	if accountID != "" && len(accountID) != awsAccountIDLength && onLocalstack {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{
			"accountID": accountID,
		})
		return localstackAccountID
	}
	return accountID
}
