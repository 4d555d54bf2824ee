package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/halo/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("pipeline run not found")

type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Status       string            `gorm:"column:status"`
	CohortSize   int               `gorm:"column:cohort_size"`
	Config       datatypes.JSONMap `gorm:"column:config"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ArtifactPath string            `gorm:"column:artifact_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "pipeline_runs"
}

// Registry records runs. The runner treats it as optional.
type Registry interface {
	Start(ctx context.Context, run *RunModel) error
	Finish(ctx context.Context, id uuid.UUID, status string, metrics map[string]interface{}, artifactPath, errorMessage string) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{})
}

func (r *Repository) Start(ctx context.Context, run *RunModel) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) Finish(ctx context.Context, id uuid.UUID, status string, metrics map[string]interface{}, artifactPath, errorMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"artifact_path": artifactPath,
		"error_message": errorMessage,
		"updated_at":    now,
		"completed_at":  now,
	}
	if metrics != nil {
		updates["metrics"] = datatypes.JSONMap(metrics)
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunModel
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&runs)
	return runs, result.Error
}

func (r RunModel) ToPipelineRun() models.PipelineRun {
	return models.PipelineRun{
		ID:           r.ID,
		Status:       r.Status,
		CohortSize:   r.CohortSize,
		Config:       r.Config,
		Metrics:      r.Metrics,
		ArtifactPath: r.ArtifactPath,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}
