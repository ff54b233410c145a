package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashwick/townmind/core"
)

// Compile-time interface assertions.
var (
	_ core.MemoryStore = (*SQLiteStore)(nil)
	_ core.PlanStore   = (*SQLiteStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	content         TEXT NOT NULL,
	importance      INTEGER NOT NULL,
	emotional       INTEGER NOT NULL,
	tags            TEXT,
	related_agents  TEXT,
	related_players TEXT,
	location        TEXT,
	created_at      INTEGER NOT NULL,
	embedding       BLOB,
	consolidated    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_agent_created ON memories(agent_id, created_at);

CREATE TABLE IF NOT EXISTS plans (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	goal       TEXT,
	status     TEXT NOT NULL,
	priority   INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	steps      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plans_agent_created ON plans(agent_id, created_at);
`

// SQLiteStore is the durable persistence backend: core.MemoryStore and
// core.PlanStore over one SQLite database. Embeddings are stored as
// little-endian float32 blobs; similarity search decodes candidate rows and
// ranks by cosine in process, which is adequate for a per-agent memory of a
// town-scale world.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed store at path.
// ":memory:" gives an ephemeral database for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids table locks.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Insert implements core.MemoryStore.
func (s *SQLiteStore) Insert(ctx context.Context, rec core.MemoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("memory record without id")
	}
	tags, _ := json.Marshal(rec.Tags)
	agents, _ := json.Marshal(rec.RelatedAgents)
	players, _ := json.Marshal(rec.RelatedPlayers)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, agent_id, kind, content, importance, emotional,
			tags, related_agents, related_players, location, created_at, embedding, consolidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentID, string(rec.Kind), rec.Content, rec.Importance, rec.EmotionalRelevance,
		string(tags), string(agents), string(players), rec.Location, rec.CreatedAt.UnixNano(),
		encodeEmbedding(rec.Embedding), boolToInt(rec.Consolidated))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Get implements core.MemoryStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (core.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, kind, content, importance, emotional,
			tags, related_agents, related_players, location, created_at, embedding, consolidated
		FROM memories WHERE id = ?`, id)
	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return core.MemoryRecord{}, fmt.Errorf("memory %q not found", id)
	}
	return rec, err
}

// Query implements core.MemoryStore. Kind and time filters run in SQL; the
// related-to filter runs over the decoded rows since related sets are stored
// as JSON.
func (s *SQLiteStore) Query(ctx context.Context, q core.MemoryQuery) ([]core.MemoryRecord, error) {
	sqlq := `SELECT id, agent_id, kind, content, importance, emotional,
		tags, related_agents, related_players, location, created_at, embedding, consolidated
		FROM memories WHERE agent_id = ?`
	args := []any{q.AgentID}
	if len(q.Kinds) > 0 {
		sqlq += " AND kind IN (" + placeholders(len(q.Kinds)) + ")"
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if !q.Since.IsZero() {
		sqlq += " AND created_at >= ?"
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		sqlq += " AND created_at <= ?"
		args = append(args, q.Until.UnixNano())
	}
	if q.OrderBy == core.OrderByImportance {
		sqlq += " ORDER BY importance DESC, created_at DESC"
	} else {
		sqlq += " ORDER BY created_at DESC"
	}

	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []core.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if q.RelatedTo != "" && !rec.RelatedTo(q.RelatedTo) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, rows.Err()
}

// Similar implements core.MemoryStore: scan the agent's window, rank by
// cosine in process.
func (s *SQLiteStore) Similar(ctx context.Context, agentID string, embedding []float32, since time.Time, limit int) ([]core.SimilarityMatch, error) {
	recs, err := s.Query(ctx, core.MemoryQuery{AgentID: agentID, Since: since, OrderBy: core.OrderByRecency})
	if err != nil {
		return nil, err
	}
	var out []core.SimilarityMatch
	for _, rec := range recs {
		if len(rec.Embedding) == 0 {
			continue
		}
		out = append(out, core.SimilarityMatch{Record: rec, Similarity: Cosine(embedding, rec.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetConsolidated implements core.MemoryStore.
func (s *SQLiteStore) SetConsolidated(ctx context.Context, id string, consolidated bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET consolidated = ? WHERE id = ?`, boolToInt(consolidated), id)
	if err != nil {
		return fmt.Errorf("set consolidated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %q not found", id)
	}
	return nil
}

// Count implements core.MemoryStore.
func (s *SQLiteStore) Count(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// Activate implements core.PlanStore: abandon-old plus insert-new in one
// transaction.
func (s *SQLiteStore) Activate(ctx context.Context, p core.Plan) error {
	if p.ID == "" || p.AgentID == "" {
		return fmt.Errorf("plan requires id and agent id")
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET status = ? WHERE agent_id = ? AND status = ?`,
		string(core.PlanAbandoned), p.AgentID, string(core.PlanActive)); err != nil {
		return fmt.Errorf("abandon previous plan: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plans (id, agent_id, goal, status, priority, created_at, steps) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, p.Goal, string(core.PlanActive), p.Priority, p.CreatedAt.UnixNano(), string(steps)); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return tx.Commit()
}

// Active implements core.PlanStore.
func (s *SQLiteStore) Active(ctx context.Context, agentID string) (core.Plan, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, goal, status, priority, created_at, steps
		FROM plans WHERE agent_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		agentID, string(core.PlanActive))
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return core.Plan{}, false, nil
	}
	if err != nil {
		return core.Plan{}, false, err
	}
	return p, true, nil
}

// Recent implements core.PlanStore.
func (s *SQLiteStore) Recent(ctx context.Context, agentID string, limit int) ([]core.Plan, error) {
	sqlq := `SELECT id, agent_id, goal, status, priority, created_at, steps
		FROM plans WHERE agent_id = ? ORDER BY created_at DESC`
	args := []any{agentID}
	if limit > 0 {
		sqlq += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()
	var out []core.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStatus implements core.PlanStore.
func (s *SQLiteStore) SetStatus(ctx context.Context, planID string, status core.PlanStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET status = ? WHERE id = ?`, string(status), planID)
	if err != nil {
		return fmt.Errorf("set plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %q not found", planID)
	}
	return nil
}

// InsertStep implements core.PlanStore: read-modify-write of the steps JSON
// inside a transaction.
func (s *SQLiteStore) InsertStep(ctx context.Context, planID string, step core.PlanStep) error {
	return s.updateSteps(ctx, planID, func(p *core.Plan) error {
		p.Steps = append(p.Steps, step)
		p.SortSteps()
		return nil
	})
}

// MarkStepDone implements core.PlanStore.
func (s *SQLiteStore) MarkStepDone(ctx context.Context, planID, stepID string) error {
	return s.updateSteps(ctx, planID, func(p *core.Plan) error {
		for i := range p.Steps {
			if p.Steps[i].ID == stepID {
				p.Steps[i].Done = true
				return nil
			}
		}
		return fmt.Errorf("step %q not found in plan %q", stepID, planID)
	})
}

func (s *SQLiteStore) updateSteps(ctx context.Context, planID string, mutate func(*core.Plan) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin step update: %w", err)
	}
	defer tx.Rollback()
	row := tx.QueryRowContext(ctx, `SELECT id, agent_id, goal, status, priority, created_at, steps FROM plans WHERE id = ?`, planID)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("plan %q not found", planID)
	}
	if err != nil {
		return err
	}
	if err := mutate(&p); err != nil {
		return err
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE plans SET steps = ? WHERE id = ?`, string(steps), planID); err != nil {
		return fmt.Errorf("update steps: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (core.MemoryRecord, error) {
	var rec core.MemoryRecord
	var kind, tags, agents, players string
	var createdAt int64
	var embedding []byte
	var consolidated int
	err := row.Scan(&rec.ID, &rec.AgentID, &kind, &rec.Content, &rec.Importance, &rec.EmotionalRelevance,
		&tags, &agents, &players, &rec.Location, &createdAt, &embedding, &consolidated)
	if err != nil {
		return core.MemoryRecord{}, err
	}
	rec.Kind = core.MemoryKind(kind)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.Embedding = decodeEmbedding(embedding)
	rec.Consolidated = consolidated != 0
	json.Unmarshal([]byte(tags), &rec.Tags)
	json.Unmarshal([]byte(agents), &rec.RelatedAgents)
	json.Unmarshal([]byte(players), &rec.RelatedPlayers)
	return rec, nil
}

func scanPlan(row rowScanner) (core.Plan, error) {
	var p core.Plan
	var status, steps string
	var createdAt int64
	err := row.Scan(&p.ID, &p.AgentID, &p.Goal, &status, &p.Priority, &createdAt, &steps)
	if err != nil {
		return core.Plan{}, err
	}
	p.Status = core.PlanStatus(status)
	p.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return core.Plan{}, fmt.Errorf("decode steps for plan %q: %w", p.ID, err)
	}
	return p, nil
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func placeholders(n int) string {
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
