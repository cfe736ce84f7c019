// Package notify pushes manual-review referrals to the underwriting
// desk over SES email and an SNS topic.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	commonaws "underwriting-workers/internal/common/aws"
	"underwriting-workers/internal/common/config"
	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
)

// Interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Referral is one case routed to manual review.
type Referral struct {
	EvaluationID  string   `json:"evaluationId"`
	CarrierName   string   `json:"carrierName"`
	ProductName   string   `json:"productName"`
	Eligibility   string   `json:"eligibility"`
	Reasons       []string `json:"reasons,omitempty"`
	Concerns      []string `json:"concerns,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
}

// Notifier sends referral notifications on the configured channels.
type Notifier struct {
	cfg config.NotificationConfig
	ses SESService
	sns SNSService
	log logger.Logger
}

func New(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	sesClient, err := commonaws.NewSESClient(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("create SES client: %w", err)
	}
	snsClient, err := commonaws.NewSNSClient(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("create SNS client: %w", err)
	}

	return &Notifier{
		cfg: cfg,
		ses: sesClient,
		sns: snsClient,
		log: log,
	}, nil
}

// NewWithClients wires explicit service clients, used by tests.
func NewWithClients(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{cfg: cfg, ses: sesClient, sns: snsClient, log: log}
}

// Send delivers the referral on every enabled channel and returns the
// channels that succeeded. It fails only when an enabled channel errors.
func (n *Notifier) Send(ctx context.Context, referral *Referral) ([]string, error) {
	var sent []string

	if n.cfg.Email.Enabled && n.cfg.Email.ToEmail != "" {
		if err := n.sendEmail(ctx, referral); err != nil {
			return sent, commonerrors.NewNotificationSendFailedError("email", err)
		}
		sent = append(sent, "email")
	}

	if n.cfg.SNS.Enabled && n.cfg.SNS.TopicARN != "" {
		if err := n.publish(ctx, referral); err != nil {
			return sent, commonerrors.NewNotificationSendFailedError("sns", err)
		}
		sent = append(sent, "sns")
	}

	if len(sent) == 0 {
		n.log.Debug("No notification channels enabled, skipping referral", map[string]interface{}{
			"evaluationId": referral.EvaluationID,
		})
	}

	return sent, nil
}

func (n *Notifier) sendEmail(ctx context.Context, referral *Referral) error {
	subject := fmt.Sprintf("Underwriting referral: %s %s", referral.CarrierName, referral.ProductName)
	body := referralBody(referral)

	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.cfg.Email.ToEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	return err
}

func (n *Notifier) publish(ctx context.Context, referral *Referral) error {
	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.SNS.TopicARN),
		Subject:  aws.String("underwriting-referral"),
		Message:  aws.String(referralBody(referral)),
	})
	return err
}

func referralBody(referral *Referral) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation %s referred for manual review at %s\n\n",
		referral.EvaluationID, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Product: %s (%s)\n", referral.ProductName, referral.CarrierName)
	fmt.Fprintf(&b, "Eligibility: %s\n", referral.Eligibility)

	if len(referral.Reasons) > 0 {
		fmt.Fprintf(&b, "Reasons:\n")
		for _, r := range referral.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	if len(referral.Concerns) > 0 {
		fmt.Fprintf(&b, "Concerns:\n")
		for _, c := range referral.Concerns {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	if len(referral.MissingFields) > 0 {
		fmt.Fprintf(&b, "Missing data:\n")
		for _, m := range referral.MissingFields {
			fmt.Fprintf(&b, "  - %s\n", m)
		}
	}
	return b.String()
}
