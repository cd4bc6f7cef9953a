package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	chartsynth "github.com/lumaviz/chartsynth"
	"github.com/lumaviz/chartsynth/internal/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WidgetRow is the widgets table. The spec itself is stored as a JSON
// document; only the fields the service queries on are columns.
type WidgetRow struct {
	ID          string `gorm:"primaryKey"`
	DashboardID string `gorm:"index"`
	ChartID     string
	Title       string
	SourceQuery string
	UserPrompt  string
	Revision    int
	Spec        datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (WidgetRow) TableName() string { return "widgets" }

// JobRow is the background job records table.
type JobRow struct {
	ID        string `gorm:"primaryKey"`
	Kind      string
	Status    string `gorm:"index"`
	Stage     string
	Progress  int
	Report    datatypes.JSON
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (JobRow) TableName() string { return "job_records" }

// AutoMigrate creates or updates the tables the gateway needs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&WidgetRow{}, &JobRow{})
}

// GormGateway implements chartsynth.Gateway on a gorm database.
type GormGateway struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewGormGateway creates a gateway over the given database handle.
func NewGormGateway(db *gorm.DB, baseLog *logger.Logger) *GormGateway {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &GormGateway{
		db:  db,
		log: baseLog.With("repo", "GormGateway"),
	}
}

// SaveWidget upserts by primary key, so saving the same widget id twice
// replaces the row instead of duplicating it.
func (g *GormGateway) SaveWidget(ctx context.Context, w *chartsynth.Widget) (*chartsynth.Widget, error) {
	if w == nil || w.Spec == nil {
		return nil, errors.New("cannot save a widget without a spec")
	}

	row, err := widgetToRow(w)
	if err != nil {
		return nil, err
	}

	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}

	return rowToWidget(row)
}

func (g *GormGateway) FetchWidget(ctx context.Context, dashboardID, widgetID string) (*chartsynth.Widget, error) {
	var row WidgetRow
	err := g.db.WithContext(ctx).
		Where("dashboard_id = ? AND id = ?", dashboardID, widgetID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		siblings, listErr := g.ListWidgetIDs(ctx, dashboardID)
		if listErr != nil {
			g.log.Warn("failed to list sibling widgets", "dashboard_id", dashboardID, "error", listErr.Error())
		}
		return nil, chartsynth.NewNotFoundError("diffing", widgetID, siblings)
	}
	if err != nil {
		return nil, err
	}
	return rowToWidget(&row)
}

func (g *GormGateway) ListWidgetIDs(ctx context.Context, dashboardID string) ([]string, error) {
	var ids []string
	err := g.db.WithContext(ctx).
		Model(&WidgetRow{}).
		Where("dashboard_id = ?", dashboardID).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (g *GormGateway) DeleteWidget(ctx context.Context, dashboardID, widgetID string) error {
	res := g.db.WithContext(ctx).
		Where("dashboard_id = ? AND id = ?", dashboardID, widgetID).
		Delete(&WidgetRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		siblings, listErr := g.ListWidgetIDs(ctx, dashboardID)
		if listErr != nil {
			g.log.Warn("failed to list sibling widgets", "dashboard_id", dashboardID, "error", listErr.Error())
		}
		return chartsynth.NewNotFoundError("delete", widgetID, siblings)
	}
	return nil
}

func widgetToRow(w *chartsynth.Widget) (*WidgetRow, error) {
	specJSON, err := json.Marshal(w.Spec)
	if err != nil {
		return nil, err
	}
	updated := w.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}
	return &WidgetRow{
		ID:          w.ID,
		DashboardID: w.DashboardID,
		ChartID:     w.ChartID,
		Title:       w.Title,
		SourceQuery: w.SourceQuery,
		UserPrompt:  w.UserPrompt,
		Revision:    w.Revision,
		Spec:        datatypes.JSON(specJSON),
		UpdatedAt:   updated,
	}, nil
}

func rowToWidget(row *WidgetRow) (*chartsynth.Widget, error) {
	var spec chartsynth.ChartSpec
	if len(row.Spec) > 0 {
		if err := json.Unmarshal(row.Spec, &spec); err != nil {
			return nil, err
		}
	}
	return &chartsynth.Widget{
		ID:          row.ID,
		DashboardID: row.DashboardID,
		ChartID:     row.ChartID,
		Spec:        &spec,
		Title:       row.Title,
		SourceQuery: row.SourceQuery,
		UserPrompt:  row.UserPrompt,
		Revision:    row.Revision,
		LastUpdated: row.UpdatedAt,
	}, nil
}

// GormJobStore implements chartsynth.JobStore on a gorm database.
type GormJobStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewGormJobStore creates a job store over the given database handle.
func NewGormJobStore(db *gorm.DB, baseLog *logger.Logger) *GormJobStore {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &GormJobStore{
		db:  db,
		log: baseLog.With("repo", "GormJobStore"),
	}
}

func (s *GormJobStore) Enqueue(ctx context.Context, rec *chartsynth.JobRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("job record requires an id")
	}
	row := &JobRow{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Status:    string(rec.Status),
		Stage:     rec.Stage,
		Progress:  rec.Progress,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *GormJobStore) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error {
	if id == "" {
		return nil
	}
	columns := make(map[string]interface{}, len(updates)+1)
	for key, value := range updates {
		switch key {
		case "status":
			if v, ok := value.(chartsynth.JobStatus); ok {
				columns["status"] = string(v)
			} else {
				columns["status"] = value
			}
		case "report":
			raw, err := json.Marshal(value)
			if err != nil {
				return err
			}
			columns["report"] = datatypes.JSON(raw)
		case "stage", "progress", "error":
			columns[key] = value
		}
	}
	if _, ok := columns["updated_at"]; !ok {
		columns["updated_at"] = time.Now()
	}
	return s.db.WithContext(ctx).
		Model(&JobRow{}).
		Where("id = ?", id).
		Updates(columns).Error
}

func (s *GormJobStore) Get(ctx context.Context, id string) (*chartsynth.JobRecord, error) {
	var row JobRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chartsynth.NewNotFoundError("jobs", id, nil)
	}
	if err != nil {
		return nil, err
	}

	rec := &chartsynth.JobRecord{
		ID:        row.ID,
		Kind:      row.Kind,
		Status:    chartsynth.JobStatus(row.Status),
		Stage:     row.Stage,
		Progress:  row.Progress,
		Error:     row.Error,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Report) > 0 {
		var report chartsynth.PipelineReport
		if err := json.Unmarshal(row.Report, &report); err == nil {
			rec.Report = &report
		}
	}
	return rec, nil
}
