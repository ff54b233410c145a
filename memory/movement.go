package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashwick/townmind/core"
)

const (
	// movementSessionIdle closes an aggregation session after this much
	// observer-side inactivity.
	movementSessionIdle = 30 * time.Second

	// movementSessionMinMoves is the minimum number of accumulated moves
	// before a session emits anything at all.
	movementSessionMinMoves = 3
)

// movementSession accumulates repeated positional observations about one
// moving entity so they collapse into a single summary record instead of one
// record per move.
type movementSession struct {
	agentID   string
	subject   string
	locations []core.Point
	firstSeen time.Time
	lastSeen  time.Time
	maxImp    int
	maxEmo    int
	location  string
}

type movementAggregator struct {
	mgr *Manager

	mu       sync.Mutex
	sessions map[string]*movementSession // agentID|subject
}

func newMovementAggregator(mgr *Manager) *movementAggregator {
	return &movementAggregator{mgr: mgr, sessions: make(map[string]*movementSession)}
}

func (a *movementAggregator) observe(ctx context.Context, in ObservationInput, now time.Time) error {
	key := in.AgentID + "|" + in.Subject
	a.mu.Lock()
	sess, ok := a.sessions[key]
	if !ok {
		sess = &movementSession{agentID: in.AgentID, subject: in.Subject, firstSeen: now}
		a.sessions[key] = sess
	}
	sess.lastSeen = now
	sess.locations = append(sess.locations, in.Position)
	if in.Importance > sess.maxImp {
		sess.maxImp = in.Importance
	}
	if in.Emotional > sess.maxEmo {
		sess.maxEmo = in.Emotional
	}
	if in.Location != "" {
		sess.location = in.Location
	}
	var closing *movementSession
	if in.Departure {
		closing = sess
		delete(a.sessions, key)
	}
	a.mu.Unlock()

	if closing != nil {
		return a.emit(ctx, closing, now)
	}
	return nil
}

// flushIdle closes every session whose last observation is older than the
// idle deadline.
func (a *movementAggregator) flushIdle(ctx context.Context, now time.Time) {
	a.mu.Lock()
	var closing []*movementSession
	for key, sess := range a.sessions {
		if now.Sub(sess.lastSeen) >= movementSessionIdle {
			closing = append(closing, sess)
			delete(a.sessions, key)
		}
	}
	a.mu.Unlock()

	for _, sess := range closing {
		if err := a.emit(ctx, sess, now); err != nil {
			a.mgr.LogWarn("movement summary dropped", "agent_id", sess.agentID, "subject", sess.subject, "error", err.Error())
		}
	}
}

// emit stores the session summary record, provided the session saw enough
// movement to be worth remembering.
func (a *movementAggregator) emit(ctx context.Context, sess *movementSession, now time.Time) error {
	if len(sess.locations) < movementSessionMinMoves {
		return nil
	}
	elapsed := sess.lastSeen.Sub(sess.firstSeen).Round(time.Second)
	content := fmt.Sprintf("%s moved through %d locations over %s", sess.subject, len(sess.locations), elapsed)

	var embedding []float32
	if a.mgr.embedder != nil {
		emb, err := a.mgr.embedder.Embed(ctx, content)
		if err != nil {
			a.mgr.LogWarn("embedding unavailable, storing without vector", "agent_id", sess.agentID, "subject", sess.subject, "error", err.Error())
		} else {
			embedding = emb
		}
	}
	rec := core.MemoryRecord{
		ID:                 core.NewID(),
		AgentID:            sess.agentID,
		Kind:               core.MemoryObservation,
		Content:            content,
		Importance:         clampScale(sess.maxImp),
		EmotionalRelevance: clampScale(sess.maxEmo),
		Tags:               []string{"movement"},
		RelatedAgents:      []string{sess.subject},
		Location:           sess.location,
		CreatedAt:          now,
		Embedding:          embedding,
	}
	return a.mgr.persist(ctx, rec)
}
