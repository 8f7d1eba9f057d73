// Package community manages events, collectives and the waitlist.
package community

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/validation"
	"arthouse/internal/models"
	"arthouse/internal/store"
)

// Searcher is the search index kept in step with a collection.
type Searcher interface {
	Index(ctx context.Context, id string, doc interface{}) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, filter models.SearchFilter) ([]json.RawMessage, error)
}

// serverFields are assigned by the service and never taken from a payload.
var serverFields = []string{"id", "createdAt", "updatedAt"}

type Service struct {
	events          store.Documents[models.Event]
	collectives     store.Documents[models.Collective]
	waitlist        store.Documents[models.WaitlistSignup]
	eventIndex      Searcher
	collectiveIndex Searcher
	logger          logger.Logger
	now             func() time.Time
}

type Option func(*Service)

// WithSearch answers filtered listings from the given indexes.
func WithSearch(events, collectives Searcher) Option {
	return func(s *Service) {
		s.eventIndex = events
		s.collectiveIndex = collectives
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	events store.Documents[models.Event],
	collectives store.Documents[models.Collective],
	waitlist store.Documents[models.WaitlistSignup],
	log logger.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		events:      events,
		collectives: collectives,
		waitlist:    waitlist,
		logger:      log.WithFields(map[string]interface{}{"component": "community"}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==========================
// Events
// ==========================

func (s *Service) CreateEvent(ctx context.Context, payload map[string]interface{}, createdBy string) (*models.Event, error) {
	if err := checkFields(validation.ValidateEvent(payload, false)); err != nil {
		return nil, err
	}

	var event models.Event
	if err := decodeInto(strip(payload), &event); err != nil {
		return nil, errors.NewBadRequestError("malformed event payload")
	}

	now := s.now().UTC()
	event.ID = uuid.NewString()
	if event.Status == "" {
		event.Status = models.EventUpcoming
	}
	if createdBy != "" {
		event.CreatedBy = createdBy
	}
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := s.events.Create(ctx, event.ID, &event); err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	s.reindex(ctx, s.eventIndex, event.ID, &event)
	return &event, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "event", id)
	}
	return event, nil
}

func (s *Service) UpdateEvent(ctx context.Context, id string, payload map[string]interface{}) (*models.Event, error) {
	if err := checkFields(validation.ValidateEvent(payload, true)); err != nil {
		return nil, err
	}

	event, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := decodeInto(strip(payload, "createdBy"), event); err != nil {
		return nil, errors.NewBadRequestError("malformed event payload")
	}
	event.UpdatedAt = s.now().UTC()

	if err := s.events.Put(ctx, id, event); err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	s.reindex(ctx, s.eventIndex, id, event)
	return event, nil
}

func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	if err := s.events.Delete(ctx, id); err != nil {
		return notFoundOr(err, "event", id)
	}
	s.unindex(ctx, s.eventIndex, id)
	return nil
}

// ListEvents returns events newest first. A filter is answered by the search
// index when one is configured, and by scanning the collection otherwise.
func (s *Service) ListEvents(ctx context.Context, filter models.SearchFilter) ([]*models.Event, error) {
	if !filter.IsEmpty() {
		if docs, ok := searchDocs[models.Event](ctx, s, s.eventIndex, "events", filter); ok {
			return docs, nil
		}
	}

	events, err := s.events.List(ctx)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list events", err)
	}
	if filter.IsEmpty() {
		return events, nil
	}
	return capped(slices.DeleteFunc(events, func(e *models.Event) bool {
		return !matches(filter, []string{e.Title, e.Description}, e.Category, e.Tags, e.Status)
	}), filter), nil
}

// ==========================
// Collectives
// ==========================

func (s *Service) CreateCollective(ctx context.Context, payload map[string]interface{}, createdBy string) (*models.Collective, error) {
	if err := checkFields(validation.ValidateCollective(payload, false)); err != nil {
		return nil, err
	}

	var c models.Collective
	if err := decodeInto(strip(payload), &c); err != nil {
		return nil, errors.NewBadRequestError("malformed collective payload")
	}

	now := s.now().UTC()
	c.ID = uuid.NewString()
	if createdBy != "" {
		c.CreatedBy = createdBy
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.collectives.Create(ctx, c.ID, &c); err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	s.reindex(ctx, s.collectiveIndex, c.ID, &c)
	return &c, nil
}

func (s *Service) GetCollective(ctx context.Context, id string) (*models.Collective, error) {
	c, err := s.collectives.Get(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "collective", id)
	}
	return c, nil
}

func (s *Service) UpdateCollective(ctx context.Context, id string, payload map[string]interface{}) (*models.Collective, error) {
	if err := checkFields(validation.ValidateCollective(payload, true)); err != nil {
		return nil, err
	}

	c, err := s.GetCollective(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := decodeInto(strip(payload, "createdBy"), c); err != nil {
		return nil, errors.NewBadRequestError("malformed collective payload")
	}
	c.UpdatedAt = s.now().UTC()

	if err := s.collectives.Put(ctx, id, c); err != nil {
		return nil, errors.NewDatabaseInsertFailedError(err)
	}
	s.reindex(ctx, s.collectiveIndex, id, c)
	return c, nil
}

func (s *Service) DeleteCollective(ctx context.Context, id string) error {
	if err := s.collectives.Delete(ctx, id); err != nil {
		return notFoundOr(err, "collective", id)
	}
	s.unindex(ctx, s.collectiveIndex, id)
	return nil
}

func (s *Service) ListCollectives(ctx context.Context, filter models.SearchFilter) ([]*models.Collective, error) {
	if !filter.IsEmpty() {
		if docs, ok := searchDocs[models.Collective](ctx, s, s.collectiveIndex, "collectives", filter); ok {
			return docs, nil
		}
	}

	list, err := s.collectives.List(ctx)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list collectives", err)
	}
	if filter.IsEmpty() {
		return list, nil
	}
	return capped(slices.DeleteFunc(list, func(c *models.Collective) bool {
		return !matches(filter, []string{c.Name, c.Description}, c.Category, c.Tags, "")
	}), filter), nil
}

// ==========================
// Waitlist
// ==========================

// JoinWaitlist records a signup once per email. A repeat signup returns the
// original record with created=false.
func (s *Service) JoinWaitlist(ctx context.Context, payload map[string]interface{}) (*models.WaitlistSignup, bool, error) {
	if email, ok := payload["email"].(string); ok {
		payload["email"] = strings.TrimSpace(email)
	}
	if err := checkFields(validation.ValidateWaitlist(payload)); err != nil {
		return nil, false, err
	}

	name, _ := payload["name"].(string)
	interest, _ := payload["interest"].(string)
	signup := &models.WaitlistSignup{
		Email:     validation.NormalizeEmail(payload["email"].(string)),
		Name:      strings.TrimSpace(name),
		Interest:  strings.TrimSpace(interest),
		CreatedAt: s.now().UTC(),
	}

	err := s.waitlist.Create(ctx, signup.Email, signup)
	switch {
	case err == nil:
		s.logger.Info("waitlist signup recorded", nil)
		return signup, true, nil
	case stderrors.Is(err, store.ErrAlreadyExists):
		existing, getErr := s.waitlist.Get(ctx, signup.Email)
		if getErr != nil {
			return nil, false, errors.NewDatabaseQueryFailedError("get waitlist signup", getErr)
		}
		return existing, false, nil
	default:
		return nil, false, errors.NewDatabaseInsertFailedError(err)
	}
}

// ==========================
// Helpers
// ==========================

func (s *Service) reindex(ctx context.Context, idx Searcher, id string, doc interface{}) {
	if idx == nil {
		return
	}
	if err := idx.Index(ctx, id, doc); err != nil {
		s.logger.Warn("failed to index document", map[string]interface{}{"id": id, "error": err})
	}
}

func (s *Service) unindex(ctx context.Context, idx Searcher, id string) {
	if idx == nil {
		return
	}
	if err := idx.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to remove document from index", map[string]interface{}{"id": id, "error": err})
	}
}

// searchDocs queries idx. It reports false when there is no index or the
// query failed, so the caller can fall back to the collection.
func searchDocs[T any](ctx context.Context, s *Service, idx Searcher, index string, filter models.SearchFilter) ([]*T, bool) {
	if idx == nil {
		return nil, false
	}

	raw, err := idx.Search(ctx, filter)
	if err != nil {
		stdErr := errors.NewSearchQueryFailedError(index, err)
		s.logger.Warn("search failed, scanning collection instead", map[string]interface{}{
			"code":  stdErr.Code,
			"error": stdErr,
		})
		return nil, false
	}

	docs := make([]*T, 0, len(raw))
	for _, r := range raw {
		var doc T
		if err := json.Unmarshal(r, &doc); err != nil {
			s.logger.Warn("skipping undecodable search hit", map[string]interface{}{"error": err})
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, true
}

// capped trims a filtered scan to the same size the search index returns.
func capped[T any](docs []*T, f models.SearchFilter) []*T {
	if n := f.Size(); len(docs) > n {
		return docs[:n]
	}
	return docs
}

func matches(f models.SearchFilter, text []string, category string, tags []string, status string) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, category) {
		return false
	}
	if f.Tag != "" && !slices.ContainsFunc(tags, func(t string) bool { return strings.EqualFold(t, f.Tag) }) {
		return false
	}
	if f.Status != "" && f.Status != status {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		return slices.ContainsFunc(text, func(t string) bool { return strings.Contains(strings.ToLower(t), q) })
	}
	return true
}

func checkFields(fieldErrors map[string]string, err error) error {
	if err != nil {
		return errors.NewInternalError(err)
	}
	if len(fieldErrors) > 0 {
		return errors.NewValidationError(fieldErrors)
	}
	return nil
}

func notFoundOr(err error, resource, id string) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return errors.NewResourceNotFoundError(resource, id)
	}
	return errors.NewDatabaseQueryFailedError("get "+resource, err)
}

func strip(payload map[string]interface{}, extra ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, k := range append(extra, serverFields...) {
		delete(out, k)
	}
	return out
}

// decodeInto overlays payload onto dst. Fields absent from payload keep their values.
func decodeInto(payload map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
