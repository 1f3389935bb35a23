package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultAgentID identifies the agent seeded on first run.
const DefaultAgentID = "assistant"

// GetAgent loads an agent template by id, or (nil, nil).
func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT id, name, description, goal, system_prompt, behavior, goal_behavior, created_at, updated_at
		FROM autopilot_agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// SaveAgent upserts an agent template.
func (s *Store) SaveAgent(a *Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.GoalBehavior == "" {
		a.GoalBehavior = GoalContinue
	}
	behavior, _ := json.Marshal(a.Behavior)

	_, err := s.db.Exec(`INSERT INTO autopilot_agents
		(id, name, description, goal, system_prompt, behavior, goal_behavior, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 description = excluded.description,
		 goal = excluded.goal,
		 system_prompt = excluded.system_prompt,
		 behavior = excluded.behavior,
		 goal_behavior = excluded.goal_behavior,
		 updated_at = excluded.updated_at`,
		a.ID, a.Name, a.Description, a.Goal, a.SystemPrompt, string(behavior), string(a.GoalBehavior),
		a.CreatedAt, a.UpdatedAt)
	return err
}

// ListAgents returns every agent template.
func (s *Store) ListAgents() ([]*Agent, error) {
	rows, err := s.db.Query(`SELECT id, name, description, goal, system_prompt, behavior, goal_behavior, created_at, updated_at
		FROM autopilot_agents ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SeedDefaultAgent creates the built-in assistant template if no agents exist.
func (s *Store) SeedDefaultAgent() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM autopilot_agents`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.SaveAgent(&Agent{
		ID:          DefaultAgentID,
		Name:        "Personal Assistant",
		Description: "Keeps conversations moving in the user's voice.",
		SystemPrompt: "You draft replies on behalf of the user. Match their tone and " +
			"brevity, never reveal you are an assistant, and keep replies natural.",
		Behavior: AgentBehavior{
			SimulateBusy:       true,
			FatigueReduction:   true,
			EmojiAcks:          true,
			ClosingSuggestions: true,
		},
		GoalBehavior: GoalContinue,
	})
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var behavior, goalBehavior string
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Goal, &a.SystemPrompt,
		&behavior, &goalBehavior, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(behavior), &a.Behavior)
	a.GoalBehavior = GoalBehavior(goalBehavior)
	return &a, nil
}
