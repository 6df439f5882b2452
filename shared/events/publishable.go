package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"clever-events/shared/logx"
)

type Transition string

const (
	TransitionCreated   Transition = "created"
	TransitionUpdated   Transition = "updated"
	TransitionDestroyed Transition = "destroyed"
)

func AllTransitions() []Transition {
	return []Transition{TransitionCreated, TransitionUpdated, TransitionDestroyed}
}

func ParseTransition(raw string) (Transition, bool) {
	switch Transition(strings.ToLower(strings.TrimSpace(raw))) {
	case TransitionCreated:
		return TransitionCreated, true
	case TransitionUpdated:
		return TransitionUpdated, true
	case TransitionDestroyed:
		return TransitionDestroyed, true
	default:
		return "", false
	}
}

// ChangeSet describes one mutation from its own before/after state.
type ChangeSet struct {
	Changed         []string
	PersistedBefore bool
	PersistedAfter  bool
}

func (c ChangeSet) Transition() Transition {
	switch {
	case !c.PersistedAfter:
		return TransitionDestroyed
	case !c.PersistedBefore:
		return TransitionCreated
	default:
		return TransitionUpdated
	}
}

// PublishSkipper lets an entity instance opt out of publishing at runtime.
type PublishSkipper interface {
	SkipPublish() bool
}

// TopicOverrider lets an entity instance pick its own topic.
type TopicOverrider interface {
	PublishTopic() string
}

type PublishDecision struct {
	ShouldPublish bool
	Transition    Transition
	EventName     string
	TopicOverride string
}

type Publishable struct {
	registry  *Registry
	publisher EventPublisher
	logger    logx.Logger
	newToken  func() string
}

func NewPublishable(registry *Registry, publisher EventPublisher, logger logx.Logger) *Publishable {
	if registry == nil {
		registry = &Registry{}
	}
	return &Publishable{
		registry:  registry,
		publisher: publisher,
		logger:    logger,
		newToken:  uuid.NewString,
	}
}

func (p *Publishable) Decide(entity Entity, changes ChangeSet) PublishDecision {
	transition := changes.Transition()
	decision := PublishDecision{Transition: transition}
	if entity == nil {
		return decision
	}
	decision.EventName = EventName(entity, transition)
	policy, _ := p.registry.lookup(entity.EntityType())
	decision.TopicOverride = topicOverride(entity, policy)
	decision.ShouldPublish = shouldPublish(policy, entity, transition, changes.Changed)
	return decision
}

func (p *Publishable) ShouldPublish(entity Entity, changes ChangeSet) bool {
	return p.Decide(entity, changes).ShouldPublish
}

// Publish decides and, when the decision is positive, publishes with a fresh
// deduplication token. Any failure comes back as ErrEntityPublish.
func (p *Publishable) Publish(ctx context.Context, entity Entity, changes ChangeSet) (PublishDecision, string, error) {
	decision := p.Decide(entity, changes)
	if !decision.ShouldPublish {
		return decision, "", nil
	}
	messageID, err := p.publish(ctx, entity, decision)
	return decision, messageID, err
}

// PublishTransition publishes the given transition without consulting the
// attribute policy. Instance and class topic overrides still apply.
func (p *Publishable) PublishTransition(ctx context.Context, entity Entity, transition Transition) (string, error) {
	if entity == nil {
		return "", fmt.Errorf("%w: entity is nil", ErrEntityPublish)
	}
	policy, _ := p.registry.lookup(entity.EntityType())
	return p.publish(ctx, entity, PublishDecision{
		ShouldPublish: true,
		Transition:    transition,
		EventName:     EventName(entity, transition),
		TopicOverride: topicOverride(entity, policy),
	})
}

func (p *Publishable) publish(ctx context.Context, entity Entity, decision PublishDecision) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("%w: %w: event publisher not configured", ErrEntityPublish, ErrConfiguration)
	}
	messageID, err := p.publisher.PublishEvent(ctx, decision.EventName, entity, p.newToken(), decision.TopicOverride)
	if err != nil {
		p.logger.Error(ctx, "entity_publish_failed", err.Error(),
			slog.String("event_name", decision.EventName),
		)
		if errors.Is(err, ErrEntityPublish) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrEntityPublish, err)
	}
	return messageID, nil
}

func shouldPublish(policy compiledPolicy, entity Entity, transition Transition, changed []string) bool {
	if len(policy.attributes) == 0 {
		return false
	}
	if _, ok := policy.actions[transition]; !ok {
		return false
	}
	if s, ok := entity.(PublishSkipper); ok && s.SkipPublish() {
		return false
	}
	if transition == TransitionDestroyed {
		return true
	}
	for _, attr := range changed {
		if _, ok := policy.attributes[normalizeAttr(attr)]; ok {
			return true
		}
	}
	return false
}

func topicOverride(entity Entity, policy compiledPolicy) string {
	if o, ok := entity.(TopicOverrider); ok {
		if topic := strings.TrimSpace(o.PublishTopic()); topic != "" {
			return topic
		}
	}
	return policy.topic
}
