package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"devmatch/internal/domain"
	"devmatch/internal/repo"
)

// Seed is the YAML document loaded by `dm directory import`.
type Seed struct {
	Skills     []domain.Skill     `yaml:"skills"`
	Developers []domain.Developer `yaml:"developers"`
	Projects   []SeedProject      `yaml:"projects"`
}

type SeedProject struct {
	ID       string   `yaml:"id"`
	ClientID string   `yaml:"client_id"`
	Title    string   `yaml:"title"`
	Status   string   `yaml:"status"`
	SkillIDs []string `yaml:"skills"`
}

type SeedSummary struct {
	Skills     int `json:"skills"`
	Developers int `json:"developers"`
	Projects   int `json:"projects"`
}

func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("invalid seed yaml: %w", err)
	}
	return s, nil
}

// ImportSeed upserts skills and developers. Projects that already exist are
// left alone so a re-import never resets assignment state.
func (a *App) ImportSeed(ctx context.Context, s Seed) (SeedSummary, error) {
	var sum SeedSummary
	r := a.Engine.Repo
	for _, sk := range s.Skills {
		if sk.ID == "" {
			return sum, fmt.Errorf("skill id is required")
		}
		if sk.Name == "" {
			sk.Name = sk.ID
		}
		if err := r.UpsertSkill(ctx, sk); err != nil {
			return sum, fmt.Errorf("skill %s: %w", sk.ID, err)
		}
		sum.Skills++
	}
	for _, d := range s.Developers {
		if err := validateDeveloper(d); err != nil {
			return sum, err
		}
		if err := r.UpsertDeveloper(ctx, d); err != nil {
			return sum, fmt.Errorf("developer %s: %w", d.ID, err)
		}
		sum.Developers++
	}
	for _, p := range s.Projects {
		created, err := a.CreateProject(ctx, p)
		if err != nil {
			return sum, err
		}
		if created {
			sum.Projects++
		}
	}
	return sum, nil
}

// CreateProject inserts p unless a project with the same id exists.
func (a *App) CreateProject(ctx context.Context, p SeedProject) (bool, error) {
	if p.ID == "" || p.ClientID == "" {
		return false, fmt.Errorf("project id and client_id are required")
	}
	if len(p.SkillIDs) == 0 {
		return false, fmt.Errorf("project %s: at least one skill is required", p.ID)
	}
	r := a.Engine.Repo
	if _, err := r.GetProject(ctx, p.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	status := p.Status
	if status == "" {
		status = domain.ProjectStatusSubmitted
	}
	now := a.Engine.Now().UTC()
	if err := r.InsertProject(ctx, domain.Project{
		ID:        p.ID,
		ClientID:  p.ClientID,
		Title:     p.Title,
		Status:    status,
		SkillIDs:  p.SkillIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return false, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return true, nil
}

func validateDeveloper(d domain.Developer) error {
	if d.ID == "" || d.UserID == "" {
		return fmt.Errorf("developer id and user_id are required")
	}
	if !d.Level.IsValid() {
		return fmt.Errorf("developer %s: unknown level %q", d.ID, d.Level)
	}
	if d.ApprovalStatus == "" || d.Availability == "" {
		return fmt.Errorf("developer %s: approval_status and availability are required", d.ID)
	}
	return nil
}
