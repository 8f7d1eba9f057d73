package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"arthouse/internal/common/logger"
	"arthouse/internal/models"
)

// Publisher is satisfied by the SNS client.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Alerter tells the admin topic about new applications. A nil publisher disables it.
type Alerter struct {
	publisher Publisher
	topicARN  string
	logger    logger.Logger
}

func NewAlerter(publisher Publisher, topicARN string, log logger.Logger) *Alerter {
	return &Alerter{
		publisher: publisher,
		topicARN:  topicARN,
		logger:    log.WithFields(map[string]interface{}{"component": "alerter"}),
	}
}

type applicationAlert struct {
	Event         string `json:"event"`
	ApplicationID string `json:"applicationId"`
	Kind          string `json:"kind"`
	Name          string `json:"name"`
	SubmittedAt   string `json:"submittedAt"`
}

// ApplicationSubmitted publishes a new-application alert.
func (a *Alerter) ApplicationSubmitted(ctx context.Context, app *models.Application) error {
	if a.publisher == nil {
		return nil
	}

	msg, err := json.Marshal(applicationAlert{
		Event:         "application.submitted",
		ApplicationID: app.ID,
		Kind:          app.Kind,
		Name:          app.Name(),
		SubmittedAt:   app.SubmittedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, err = a.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String("New ArtHouse application"),
		Message:  aws.String(string(msg)),
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	a.logger.Debug("admin alert published", map[string]interface{}{"applicationId": app.ID})
	return nil
}
