package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	pkglogger "github.com/calderray/aegis/pkg/logger"
)

// SMSService defines the interface for delivering verification codes
type SMSService interface {
	SendVerificationCode(ctx context.Context, phone, code string, expiryMinutes int) error
}

// AWSSNSService sends SMS messages using AWS SNS
type AWSSNSService struct {
	snsClient *sns.Client
	senderID  string
	logger    *slog.Logger
}

// NewAWSSNSService creates a new AWS SNS SMS service
func NewAWSSNSService(region, senderID string, logger *slog.Logger) (*AWSSNSService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSNSService{
		snsClient: sns.NewFromConfig(cfg),
		senderID:  senderID,
		logger:    logger,
	}, nil
}

// SendVerificationCode delivers a one-time code to the phone number.
// Transactional SMS type so carriers prioritize delivery over
// promotional traffic.
func (s *AWSSNSService) SendVerificationCode(ctx context.Context, phone, code string, expiryMinutes int) error {
	message := fmt.Sprintf("%s is your verification code. It expires in %d minutes. Never share this code with anyone.", code, expiryMinutes)

	attributes := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	input := &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attributes,
	}

	result, err := s.snsClient.Publish(ctx, input)
	if err != nil {
		s.logger.Error("failed to send verification SMS via SNS",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send sms: %w", err)
	}

	s.logger.Info("verification SMS sent",
		slog.String("phone", pkglogger.SanitizedPhone(phone)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
