package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"arthouse/internal/common/auth"
	awsclient "arthouse/internal/common/aws"
	"arthouse/internal/common/config"
	commonhttp "arthouse/internal/common/http"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/zoho"
	"arthouse/internal/models"
	"arthouse/internal/notify"
	"arthouse/internal/services/community"
	"arthouse/internal/services/entitlement"
	"arthouse/internal/services/intake"
	"arthouse/internal/services/newsletter"
	"arthouse/internal/services/referral"
	"arthouse/internal/services/review"
	"arthouse/internal/store"
)

// Stores are the typed collections plus the Redis and search mirrors.
// EventIndex and CollectiveIndex are nil when search is unavailable.
type Stores struct {
	Applications    *store.Collection[models.Application]
	Events          *store.Collection[models.Event]
	Collectives     *store.Collection[models.Collective]
	Referrals       *store.Collection[models.Referral]
	ReferralCounts  *store.Collection[models.ReferralCount]
	Waitlist        *store.Collection[models.WaitlistSignup]
	SubscriptionLog *store.Collection[models.SubscriptionLog]

	Leaderboard     *store.Leaderboard
	EventIndex      *store.SearchIndex
	CollectiveIndex *store.SearchIndex
}

// NewStores builds the collections. A search index that cannot be created
// leaves search off rather than failing startup.
func NewStores(ctx context.Context, infra *Infra, cfg *config.Config, log logger.Logger) *Stores {
	db := infra.Postgres.DB
	s := &Stores{
		Applications:    store.NewCollection[models.Application](db, store.TableApplications, "submittedAt"),
		Events:          store.NewCollection[models.Event](db, store.TableEvents, "createdAt"),
		Collectives:     store.NewCollection[models.Collective](db, store.TableCollectives, "createdAt"),
		Referrals:       store.NewCollection[models.Referral](db, store.TableReferrals, "createdAt"),
		ReferralCounts:  store.NewCollection[models.ReferralCount](db, store.TableReferralCounts, "updatedAt"),
		Waitlist:        store.NewCollection[models.WaitlistSignup](db, store.TableWaitlistSignups, "createdAt"),
		SubscriptionLog: store.NewCollection[models.SubscriptionLog](db, store.TableSubscriptionLog, "createdAt"),
		Leaderboard:     store.NewLeaderboard(infra.Redis.Client),
	}

	if infra.Search == nil {
		return s
	}

	prefix := cfg.Database.Elasticsearch.IndexPrefix
	events := store.NewSearchIndex(infra.Search.Client, prefix, store.TableEvents, "title", "description", "location")
	collectives := store.NewSearchIndex(infra.Search.Client, prefix, store.TableCollectives, "name", "description")
	for _, idx := range []*store.SearchIndex{events, collectives} {
		if err := idx.EnsureIndex(ctx); err != nil {
			log.Warn("search index unavailable, search disabled", map[string]interface{}{
				"index": idx.Name(),
				"error": err,
			})
			return s
		}
	}
	s.EventIndex = events
	s.CollectiveIndex = collectives
	return s
}

// Options select per-process behaviour.
type Options struct {
	// DecisionEmails makes the review service email applicants directly. The
	// worker manager leaves it off and sends them from the notification job.
	DecisionEmails bool
	// Workflow, when set, starts the review process for each new application.
	Workflow intake.Workflow
}

type Services struct {
	Keycloak *auth.KeycloakClient
	Mailer   *notify.Mailer

	Entitlement *entitlement.Service
	Review      *review.Service
	Intake      *intake.Service
	Newsletter  *newsletter.Service
	Referral    *referral.Service
	Community   *community.Service
}

// NewServices wires the external clients into the application services.
// SES and SNS clients exist only when enabled; otherwise email and alerts are no-ops.
func NewServices(ctx context.Context, cfg *config.Config, stores *Stores, log logger.Logger, opts Options) (*Services, error) {
	aws := cfg.Integrations.AWS

	var (
		sender    notify.EmailSender
		publisher notify.Publisher
	)
	if aws.SES.Enabled || aws.SNS.Enabled {
		awsCfg, err := awsclient.LoadConfig(ctx, aws.Region)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		if aws.SES.Enabled {
			sender = awsclient.NewSESClient(awsCfg)
		}
		if aws.SNS.Enabled {
			publisher = awsclient.NewSNSClient(awsCfg)
		}
	}

	kc := cfg.Auth.Keycloak
	keycloak := auth.NewKeycloakClient(kc.URL, kc.Realm, kc.ClientID, kc.ClientSecret,
		auth.WithHTTPClient(commonhttp.NewClient(config.GetDuration(kc.Timeout))),
	)

	zc := cfg.Integrations.Zoho
	zohoOpts := []zoho.Option{zoho.WithHTTPClient(commonhttp.NewClient(config.GetDuration(zc.Timeout)))}
	if zc.CampaignsURL != "" {
		zohoOpts = append(zohoOpts, zoho.WithBaseURL(zc.CampaignsURL))
	}
	campaigns := zoho.NewCampaignsClient(zc.AuthToken, zc.ListKey, zohoOpts...)

	mailer := notify.NewMailer(sender, aws.SES.FromEmail, log)
	alerter := notify.NewAlerter(publisher, aws.SNS.AdminTopicARN, log)

	ent := entitlement.NewService(keycloak, stores.Applications, log,
		entitlement.WithFallback(cfg.Approval.AllowFallback),
	)

	var reviewOpts []review.Option
	if opts.DecisionEmails {
		reviewOpts = append(reviewOpts, review.WithDecisionEmails(mailer, LoginURL(cfg)))
	}

	subscriptions := newsletter.NewService(campaigns, stores.SubscriptionLog, log)
	referrals := referral.NewService(stores.Referrals, stores.ReferralCounts, stores.Leaderboard, log)

	intakeOpts := []intake.Option{
		intake.WithNewsletter(subscriptions),
		intake.WithMailer(mailer),
		intake.WithAlerter(alerter),
		intake.WithReferrals(referrals),
	}
	if opts.Workflow != nil {
		intakeOpts = append(intakeOpts, intake.WithWorkflow(opts.Workflow))
	}

	var communityOpts []community.Option
	if stores.EventIndex != nil && stores.CollectiveIndex != nil {
		communityOpts = append(communityOpts, community.WithSearch(stores.EventIndex, stores.CollectiveIndex))
	}

	return &Services{
		Keycloak:    keycloak,
		Mailer:      mailer,
		Entitlement: ent,
		Review:      review.NewService(stores.Applications, ent, log, reviewOpts...),
		Intake:      intake.NewService(stores.Applications, log, intakeOpts...),
		Newsletter: subscriptions,
		Referral:   referrals,
		Community:  community.NewService(stores.Events, stores.Collectives, stores.Waitlist, log, communityOpts...),
	}, nil
}

// LoginURL is the sign-in link placed in applicant emails.
func LoginURL(cfg *config.Config) string {
	if cfg.App.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.App.PublicURL, "/") + "/login"
}
