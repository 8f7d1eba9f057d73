// Package notify sends applicant email through SES and admin alerts through SNS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"arthouse/internal/common/logger"
)

// Email template types.
const (
	TypeApplicationReceived  = "application_received"
	TypeApplicationApproved  = "application_approved"
	TypeApplicationRejected  = "application_rejected"
	TypeApplicationWaitlist  = "application_waitlist"
	TypeApplicationShortlist = "application_shortlist"
)

// Delivery statuses.
const (
	StatusSent     = "sent"
	StatusDisabled = "disabled"
)

var ErrUnknownTemplate = errors.New("unknown email template")

// EmailSender is satisfied by the SES client.
type EmailSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Template struct {
	Subject string
	Body    string
}

// DefaultTemplates are the applicant-facing messages. Placeholders use {{key}}.
var DefaultTemplates = map[string]Template{
	TypeApplicationReceived: {
		Subject: "We received your ArtHouse application",
		Body:    "Hi {{name}},\n\nThanks for applying to ArtHouse. Our curators review every application and will be in touch soon.\n\nThe ArtHouse team",
	},
	TypeApplicationApproved: {
		Subject: "Welcome to ArtHouse",
		Body:    "Hi {{name}},\n\nYour application has been approved. Sign in at {{loginUrl}} to access the member community.\n\n{{reviewNotes}}\n\nThe ArtHouse team",
	},
	TypeApplicationRejected: {
		Subject: "An update on your ArtHouse application",
		Body:    "Hi {{name}},\n\nThank you for your interest in ArtHouse. We are unable to offer membership at this time.\n\n{{reviewNotes}}\n\nThe ArtHouse team",
	},
	TypeApplicationWaitlist: {
		Subject: "You're on the ArtHouse waitlist",
		Body:    "Hi {{name}},\n\nYour application has been placed on our waitlist. We will reach out as soon as a place opens.\n\nThe ArtHouse team",
	},
	TypeApplicationShortlist: {
		Subject: "You've been shortlisted for ArtHouse",
		Body:    "Hi {{name}},\n\nGood news: your application has been shortlisted and is in final review.\n\nThe ArtHouse team",
	},
}

// TemplateForStatus maps a decision status to its email template type.
func TemplateForStatus(status string) (string, bool) {
	switch status {
	case "approved":
		return TypeApplicationApproved, true
	case "rejected":
		return TypeApplicationRejected, true
	case "waitlist":
		return TypeApplicationWaitlist, true
	case "shortlist":
		return TypeApplicationShortlist, true
	default:
		return "", false
	}
}

// Mailer renders a template and sends it. A nil sender disables delivery.
type Mailer struct {
	sender    EmailSender
	from      string
	templates map[string]Template
	logger    logger.Logger
}

func NewMailer(sender EmailSender, from string, log logger.Logger) *Mailer {
	return &Mailer{
		sender:    sender,
		from:      from,
		templates: DefaultTemplates,
		logger:    log.WithFields(map[string]interface{}{"component": "mailer"}),
	}
}

// Send delivers templateType to the recipient and returns the delivery status.
func (m *Mailer) Send(ctx context.Context, templateType, to string, data map[string]interface{}) (string, error) {
	tmpl, ok := m.templates[templateType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, templateType)
	}

	if m.sender == nil {
		m.logger.Debug("email delivery disabled", map[string]interface{}{"template": templateType})
		return StatusDisabled, nil
	}

	subject := renderTemplate(tmpl.Subject, data)
	body := renderTemplate(tmpl.Body, data)

	_, err := m.sender.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(m.from),
	})
	if err != nil {
		return "", fmt.Errorf("send %s email: %w", templateType, err)
	}

	m.logger.Info("email sent", map[string]interface{}{"template": templateType})
	return StatusSent, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// renderTemplate substitutes {{key}} placeholders in one pass and drops any
// left unresolved. Substituted values are never expanded again.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	var pairs []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		value := ""
		switch v := data[m[1]].(type) {
		case nil:
		case string:
			value = v
		default:
			value = fmt.Sprintf("%v", v)
		}
		pairs = append(pairs, m[0], value)
	}
	if len(pairs) == 0 {
		return tmpl
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
