package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/devos-ai/orchestrator/internal/domain"
)

// StoryRepository persists the Story read model backing the story
// dependency rule and the Planner's sprint-status manifest
// (SPEC_FULL.md §4 supplement).
type StoryRepository struct {
	db *DB
}

func NewStoryRepository(db *DB) *StoryRepository {
	return &StoryRepository{db: db}
}

// Upsert creates or replaces a story row, used by the Planner executor when
// it writes the sprint manifest back to the store.
func (r *StoryRepository) Upsert(s *domain.Story) error {
	criteria, err := marshalJSON(s.AcceptanceCriteria)
	if err != nil {
		return err
	}
	dependsOn, err := marshalJSON(s.DependsOn)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO stories (id, epic_id, title, acceptance_criteria, depends_on, state)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			epic_id = excluded.epic_id, title = excluded.title, acceptance_criteria = excluded.acceptance_criteria,
			depends_on = excluded.depends_on, state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		s.ID, s.EpicID, s.Title, criteria, dependsOn, s.State,
	)
	if err != nil {
		return fmt.Errorf("upserting story: %w", err)
	}
	return nil
}

const storyColumns = `id, epic_id, title, acceptance_criteria, depends_on, state`

func scanStory(scanner interface{ Scan(...any) error }) (*domain.Story, error) {
	var (
		s                   domain.Story
		criteria, dependsOn string
	)
	if err := scanner.Scan(&s.ID, &s.EpicID, &s.Title, &criteria, &dependsOn, &s.State); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(criteria, &s.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("unmarshaling acceptance criteria: %w", err)
	}
	if err := unmarshalJSON(dependsOn, &s.DependsOn); err != nil {
		return nil, fmt.Errorf("unmarshaling story dependencies: %w", err)
	}
	return &s, nil
}

// GetByID returns a single story.
func (r *StoryRepository) GetByID(id string) (*domain.Story, error) {
	row := r.db.QueryRow(`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching story: %w", err)
	}
	return s, nil
}

// ListByEpic returns every story belonging to an epic, backing the
// Planner's sprint-status manifest.
func (r *StoryRepository) ListByEpic(epicID string) ([]*domain.Story, error) {
	rows, err := r.db.Query(`SELECT `+storyColumns+` FROM stories WHERE epic_id = ? ORDER BY id ASC`, epicID)
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	defer rows.Close()

	var out []*domain.Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning story row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DependenciesSatisfied reports whether every story s.DependsOn is in a
// completed state, enforcing the story-dependency rule (SPEC_FULL.md §10).
func (r *StoryRepository) DependenciesSatisfied(s *domain.Story) (bool, error) {
	for _, depID := range s.DependsOn {
		dep, err := r.GetByID(depID)
		if errors.Is(err, ErrNotFound) {
			return false, fmt.Errorf("story %s depends on unknown story %s", s.ID, depID)
		}
		if err != nil {
			return false, err
		}
		if dep.State != string(domain.StateCompleted) {
			return false, nil
		}
	}
	return true, nil
}
