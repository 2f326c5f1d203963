package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/lessonroute/internal/agent"
	"github.com/ashureev/lessonroute/internal/chain"
	"github.com/ashureev/lessonroute/internal/domain"
	"github.com/ashureev/lessonroute/internal/routing"
)

// SuggestionRequest asks for a routing decision on one learner utterance.
type SuggestionRequest struct {
	Key       domain.Key
	Persona   domain.Persona
	Utterance string
	// Response is the reply recorded with the exchange on commit.
	Response string
	// Responder is the persona that gave Response. Empty means Persona.
	Responder domain.Persona
	// Preview computes the decision without recording anything.
	Preview bool
}

// Drafter writes the reply to a routing decision that has not been recorded yet.
// It runs while the key is locked, so the decision it sees is the one committed.
type Drafter func(ctx context.Context, decision *SuggestionResult) (string, error)

// LessonSnapshot is the lesson state handed out alongside a suggestion.
type LessonSnapshot struct {
	State             domain.LessonState `json:"state"`
	InteractionCount  int                `json:"interaction_count"`
	QualityAverage    float64            `json:"quality_average"`
	MasteryIndicators map[string]float64 `json:"mastery_indicators"`
	Attempts          int                `json:"attempts"`
}

// SuggestionResult merges the routing decision with lesson and context state.
// Exactly one of Transition and Stay is set.
type SuggestionResult struct {
	Recommendation routing.Record     `json:"recommendation"`
	Transition     *routing.Transition `json:"transition,omitempty"`
	Stay           *routing.Stay       `json:"stay,omitempty"`
	Handoff        *chain.Handoff      `json:"handoff,omitempty"`
	Lesson         LessonSnapshot      `json:"lesson"`
	// Context is the view for the persona expected to answer next.
	Context chain.PersonaView `json:"context"`
	// Response is the drafted reply, set only by Converse.
	Response  string `json:"response,omitempty"`
	Committed bool   `json:"committed"`
}

// Responder returns the persona that should answer next.
func (r *SuggestionResult) Responder() domain.Persona {
	if r.Transition != nil {
		return r.Transition.To
	}
	return r.Stay.Current
}

// GetSuggestion recommends on the context as it was before this utterance. Unless
// req.Preview is set, the exchange is then appended and persisted before returning.
func (c *Coordinator) GetSuggestion(ctx context.Context, req SuggestionRequest) (*SuggestionResult, error) {
	return c.suggest(ctx, req, nil)
}

// Converse runs one dialogue turn under a single hold of the key: recommend, let
// draft answer as the recommended persona, then record the utterance and the reply
// under that persona. Nothing is recorded if draft fails. Previews and blank
// utterances are answered like GetSuggestion, without drafting.
func (c *Coordinator) Converse(ctx context.Context, req SuggestionRequest, draft Drafter) (*SuggestionResult, error) {
	if draft == nil {
		return nil, fmt.Errorf("engine: converse requires a drafter")
	}
	return c.suggest(ctx, req, draft)
}

func (c *Coordinator) suggest(ctx context.Context, req SuggestionRequest, draft Drafter) (*SuggestionResult, error) {
	if err := c.requirePersona(req.Persona); err != nil {
		return nil, err
	}
	if req.Responder != "" {
		if err := c.requirePersona(req.Responder); err != nil {
			return nil, err
		}
	}
	e, err := c.acquire(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	res, memo, err := c.suggestLocked(ctx, e, req, draft)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.observer.Suggestion(req.Persona, recommendationOf(res), req.Preview)
	if memo != nil {
		c.remember(ctx, *memo)
	}
	return res, nil
}

func (c *Coordinator) suggestLocked(ctx context.Context, e *entry, req SuggestionRequest, draft Drafter) (*SuggestionResult, *agent.MemoryRecord, error) {
	current := c.chainOrEmpty(e, req.Key)

	rec, err := c.recommender.Recommend(req.Persona, req.Utterance, current)
	if err != nil {
		return nil, nil, err
	}

	res := &SuggestionResult{Recommendation: rec.Record(), Lesson: snapshot(progressOf(e, req.Key))}
	switch r := rec.(type) {
	case routing.Transition:
		res.Transition = &r
	case routing.Stay:
		res.Stay = &r
	}
	c.describe(res, current)

	if req.Preview || strings.TrimSpace(req.Utterance) == "" {
		return res, nil, nil
	}

	responder := req.Persona
	if req.Responder != "" {
		responder = req.Responder
	}
	response := req.Response
	if draft != nil {
		reply, err := draft(ctx, res)
		if err != nil {
			return nil, nil, err
		}
		responder, response = res.Responder(), reply
		res.Response = reply
	}

	staged := c.chains.GetOrCreate(e.chain, req.Key)
	if e.chain != nil {
		staged = staged.Clone()
	}
	appended := c.chains.AppendInteraction(staged, responder, req.Utterance, response)
	if err := c.saveContext(ctx, e, staged); err != nil {
		return nil, nil, err
	}
	res.Committed = true
	c.describe(res, staged)

	memo := &agent.MemoryRecord{
		LearnerID: req.Key.LearnerID,
		LessonID:  req.Key.LessonID,
		Persona:   responder,
		Text:      appended.UtteranceSummary,
		CreatedAt: appended.Timestamp,
	}
	return res, memo, nil
}

// describe fills the handoff and the responder's view of cc.
func (c *Coordinator) describe(res *SuggestionResult, cc *domain.ChainContext) {
	res.Handoff = nil
	if res.Transition != nil {
		h := c.chains.PrepareHandoff(cc, res.Transition.From, res.Transition.To, res.Transition.Approach)
		res.Handoff = &h
	}
	res.Context = c.chains.ContextForPersona(cc, res.Responder())
}

// chainOrEmpty returns the cached chain, or an empty one without a chain id when
// none has been persisted yet. The result must not be modified.
func (c *Coordinator) chainOrEmpty(e *entry, key domain.Key) *domain.ChainContext {
	if e.chain != nil {
		return e.chain
	}
	return domain.NewChainContext(key, "", c.now().UTC())
}

// remember writes through to the memory index. Failures are logged, never returned.
func (c *Coordinator) remember(ctx context.Context, rec agent.MemoryRecord) {
	if c.memory == nil {
		return
	}
	if err := c.memory.Remember(ctx, rec); err != nil {
		c.logger.Warn("memory write-through failed",
			"learner_id", rec.LearnerID,
			"lesson_id", rec.LessonID,
			"error", err)
	}
}

func recommendationOf(res *SuggestionResult) routing.Recommendation {
	if res.Transition != nil {
		return *res.Transition
	}
	return *res.Stay
}

func snapshot(p *domain.LessonProgress) LessonSnapshot {
	cp := p.Clone()
	return LessonSnapshot{
		State:             cp.State,
		InteractionCount:  cp.InteractionCount,
		QualityAverage:    cp.QualityAverage,
		MasteryIndicators: cp.MasteryIndicators,
		Attempts:          cp.Attempts,
	}
}
