package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/huangang/taskreport/internal/models"
	"gorm.io/gorm"
)

var (
	ErrConfigNotFound = errors.New("report configuration not found")
	// ErrFireConflict means the configuration was fired, edited away or deleted
	// between the tick snapshot and the commit.
	ErrFireConflict = errors.New("report configuration changed since it was read")
)

// ConfigStore is what the scheduler needs from configuration storage.
type ConfigStore interface {
	ListActive(ctx context.Context) ([]models.ReportMailConfiguration, error)
	Get(ctx context.Context, id uint) (*models.ReportMailConfiguration, error)
	// MarkFired sets LastFiredAt to firedAt only if it still equals previous.
	MarkFired(ctx context.Context, id uint, previous *time.Time, firedAt time.Time) error
}

type ReportConfigService struct {
	db *gorm.DB
}

func NewReportConfigService(db *gorm.DB) *ReportConfigService {
	return &ReportConfigService{db: db}
}

type ReportConfigListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Filter   string `form:"filter"`
	Active   *bool  `form:"active"`
}

type ReportConfigListResponse struct {
	Total    int64                        `json:"total"`
	Page     int                          `json:"page"`
	PageSize int                          `json:"page_size"`
	Items    []ReportMailConfigurationDTO `json:"items"`
}

// List returns a page of configurations, optionally filtered by a name substring.
func (s *ReportConfigService) List(ctx context.Context, req *ReportConfigListRequest) (*ReportConfigListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.nameFilter(s.db.WithContext(ctx).Model(&models.ReportMailConfiguration{}), req.Filter)
	if req.Active != nil {
		query = query.Where("active = ?", *req.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var configs []models.ReportMailConfiguration
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("name ASC").Find(&configs).Error; err != nil {
		return nil, err
	}

	items := make([]ReportMailConfigurationDTO, 0, len(configs))
	for i := range configs {
		items = append(items, NewReportMailConfigurationDTO(&configs[i]))
	}
	return &ReportConfigListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

// ListAll returns every configuration ordered by name.
func (s *ReportConfigService) ListAll(ctx context.Context) ([]models.ReportMailConfiguration, error) {
	return s.Search(ctx, "")
}

// Search returns configurations whose name contains filter, case-insensitively.
func (s *ReportConfigService) Search(ctx context.Context, filter string) ([]models.ReportMailConfiguration, error) {
	var configs []models.ReportMailConfiguration
	err := s.nameFilter(s.db.WithContext(ctx), filter).Order("name ASC").Find(&configs).Error
	return configs, err
}

func (s *ReportConfigService) nameFilter(query *gorm.DB, filter string) *gorm.DB {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return query
	}
	return query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(filter)+"%")
}

// ListActive is the scheduler snapshot: active, not deleted, ordered by id.
func (s *ReportConfigService) ListActive(ctx context.Context) ([]models.ReportMailConfiguration, error) {
	var configs []models.ReportMailConfiguration
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&configs).Error
	return configs, err
}

// CountActive backs the active configuration gauge.
func (s *ReportConfigService) CountActive() int64 {
	var n int64
	s.db.Model(&models.ReportMailConfiguration{}).Where("active = ?", true).Count(&n)
	return n
}

func (s *ReportConfigService) Get(ctx context.Context, id uint) (*models.ReportMailConfiguration, error) {
	var c models.ReportMailConfiguration
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create validates and stores a new configuration. Configurations are active
// unless the request says otherwise.
func (s *ReportConfigService) Create(ctx context.Context, dto *ReportMailConfigurationDTO) (*models.ReportMailConfiguration, error) {
	dto.Normalize()
	if err := ValidateReportConfig(dto); err != nil {
		return nil, err
	}

	c := models.ReportMailConfiguration{Active: true}
	dto.ApplyTo(&c)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkReferences(tx, 0, dto); err != nil {
			return err
		}
		return tx.Create(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Update replaces the editable fields of an existing configuration.
func (s *ReportConfigService) Update(ctx context.Context, id uint, dto *ReportMailConfigurationDTO) (*models.ReportMailConfiguration, error) {
	dto.Normalize()
	if err := ValidateReportConfig(dto); err != nil {
		return nil, err
	}

	var c models.ReportMailConfiguration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConfigNotFound
			}
			return err
		}
		if err := s.checkReferences(tx, id, dto); err != nil {
			return err
		}
		dto.ApplyTo(&c)
		return tx.Save(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete soft-deletes a configuration. It drops out of the next tick snapshot and a
// run already in flight for it fails to commit.
func (s *ReportConfigService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.ReportMailConfiguration{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// MarkFired commits a successful delivery with a compare-and-set on LastFiredAt.
func (s *ReportConfigService) MarkFired(ctx context.Context, id uint, previous *time.Time, firedAt time.Time) error {
	query := s.db.WithContext(ctx).Model(&models.ReportMailConfiguration{}).Where("id = ?", id)
	if previous == nil {
		query = query.Where("last_fired_at IS NULL")
	} else {
		query = query.Where("last_fired_at = ?", *previous)
	}
	res := query.Update("last_fired_at", normalizeFiredAt(firedAt))
	if res.Error != nil {
		return fmt.Errorf("failed to mark configuration %d fired: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFireConflict
	}
	return nil
}

// normalizeFiredAt stores instants in UTC at millisecond precision so the value read
// back compares equal on every supported database.
func normalizeFiredAt(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// checkReferences enforces name uniqueness and that referenced teams and users exist.
func (s *ReportConfigService) checkReferences(tx *gorm.DB, selfID uint, dto *ReportMailConfigurationDTO) error {
	verr := &ValidationError{}

	var dup int64
	q := tx.Model(&models.ReportMailConfiguration{}).Where("name = ?", dto.Name)
	if selfID != 0 {
		q = q.Where("id <> ?", selfID)
	}
	if err := q.Count(&dup).Error; err != nil {
		return err
	}
	if dup > 0 {
		verr.add("name", fmt.Sprintf("a report configuration named %q already exists", dto.Name))
	}

	missingTeams, err := missingIDs(tx, &models.Team{}, dto.ReportingTeams)
	if err != nil {
		return err
	}
	if len(missingTeams) > 0 {
		verr.add("reportingTeams", fmt.Sprintf("unknown team ids %v", missingTeams))
	}

	missingUsers, err := missingIDs(tx, &models.User{}, dto.MasterRecipients)
	if err != nil {
		return err
	}
	if len(missingUsers) > 0 {
		verr.add("masterRecipients", fmt.Sprintf("unknown user ids %v", missingUsers))
	}

	return verr.orNil()
}

func missingIDs(tx *gorm.DB, model interface{}, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	if err := tx.Model(model).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	present := make(map[uint]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	var missing []uint
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}
