package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/choiwjun/chamgab-sub000/config"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Database wraps the relational store. It is constructed explicitly and
// must be closed by its owner.
type Database struct {
	db      *gorm.DB
	regions *config.Regions
	logger  *logrus.Logger
}

// TransactionFilter narrows a transaction query. Zero values are ignored.
type TransactionFilter struct {
	Province     string
	District     string
	Districts    []string // any of; used for alternate spellings of one district
	BuildingName string   // substring match
	AreaMin      float64
	AreaMax      float64 // exclusive
	DateFrom     time.Time
	DateTo       time.Time // exclusive
	Limit        int
}

// Dialect picks the gorm dialector for the configured driver
func Dialect(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=Asia/Seoul",
			cfg.Database.Host,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.Port,
			cfg.Database.SSLMode,
		)), nil
	case "sqlite":
		return sqlite.Open(cfg.Database.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func NewDatabase(cfg *config.Config, regions *config.Regions, logger *logrus.Logger) (*Database, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}
	return Open(dialector, regions, logger)
}

// Open connects with an explicit dialector; tests use it with in-memory sqlite
func Open(dialector gorm.Dialector, regions *config.Regions, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if regions == nil {
		regions = config.DefaultRegions()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db, regions: regions, logger: logger}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// QueryTransactions returns matching transactions ordered by date ascending
func (d *Database) QueryTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	query := d.db.WithContext(ctx).Model(&models.Transaction{})

	if filter.Province != "" {
		query = query.Where("province = ?", filter.Province)
	}
	if filter.District != "" {
		query = query.Where("district = ?", filter.District)
	}
	if len(filter.Districts) > 0 {
		query = query.Where("district IN ?", filter.Districts)
	}
	if filter.BuildingName != "" {
		query = query.Where("building_name LIKE ?", "%"+filter.BuildingName+"%")
	}
	if filter.AreaMin > 0 {
		query = query.Where("area_exclusive >= ?", filter.AreaMin)
	}
	if filter.AreaMax > 0 {
		query = query.Where("area_exclusive < ?", filter.AreaMax)
	}
	if !filter.DateFrom.IsZero() {
		query = query.Where("transaction_date >= ?", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		query = query.Where("transaction_date < ?", filter.DateTo)
	}

	query = query.Order("transaction_date ASC").Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var transactions []models.Transaction
	if err := query.Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return transactions, nil
}

// ListTransactions loads the full history for training in batches
func (d *Database) ListTransactions(ctx context.Context, batchSize int) ([]models.Transaction, error) {
	if batchSize <= 0 {
		batchSize = 5000
	}

	var all []models.Transaction
	var batch []models.Transaction
	result := d.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, batchSize, func(tx *gorm.DB, n int) error {
		all = append(all, batch...)
		return nil
	})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", result.Error)
	}

	d.logger.WithField("count", len(all)).Info("Loaded transaction history")
	return all, nil
}

// GetProperty returns a property with its complex, or ErrNotFound
func (d *Database) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	var p models.Property
	err := d.db.WithContext(ctx).Preload("Complex").First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("property %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property %d: %w", id, err)
	}
	return &p, nil
}

// ListBuildings returns every property with its complex and every complex,
// for joining historical sales to building facts
func (d *Database) ListBuildings(ctx context.Context) ([]models.Property, []models.Complex, error) {
	var properties []models.Property
	if err := d.db.WithContext(ctx).Preload("Complex").Order("id").Find(&properties).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list properties: %w", err)
	}
	var complexes []models.Complex
	if err := d.db.WithContext(ctx).Order("id").Find(&complexes).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list complexes: %w", err)
	}
	return properties, complexes, nil
}

// SimilarTransactions returns the most recent transactions in the same
// district within the given area bounds, newest first. districts lists
// every stored spelling of the property's district; when empty the
// property's own spelling is used. An areaMax of 0 leaves the range open.
func (d *Database) SimilarTransactions(ctx context.Context, p *models.Property, districts []string, areaMin, areaMax float64, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(districts) == 0 {
		districts = []string{p.District}
	}

	query := d.db.WithContext(ctx).
		Where("province = ? AND district IN ?", p.Province, districts).
		Where("area_exclusive >= ?", areaMin)
	if areaMax > 0 {
		query = query.Where("area_exclusive < ?", areaMax)
	}

	var transactions []models.Transaction
	err := query.Order("transaction_date DESC").Order("id DESC").Limit(limit).Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query similar transactions: %w", err)
	}
	return transactions, nil
}

// UpsertTransactions inserts a batch of transactions inside the given
// transaction. Rows that already have an ID are left untouched.
func UpsertTransactions(tx *gorm.DB, batch []*models.Transaction) error {
	if len(batch) == 0 {
		return nil
	}
	for _, t := range batch {
		if t.Price <= 0 || t.AreaExclusive <= 0 {
			return fmt.Errorf("invalid transaction for %s %s: price and area must be positive", t.District, t.BuildingName)
		}
	}
	if err := tx.Create(batch).Error; err != nil {
		return fmt.Errorf("failed to insert transactions: %w", err)
	}
	return nil
}

// UpsertProperties saves properties, creating or updating by primary key
func UpsertProperties(tx *gorm.DB, batch []*models.Property) error {
	for _, p := range batch {
		if err := tx.Save(p).Error; err != nil {
			return fmt.Errorf("failed to upsert property: %w", err)
		}
	}
	return nil
}

// PropertiesMissingLocation lists properties stored without coordinates
func (d *Database) PropertiesMissingLocation(ctx context.Context) ([]models.Property, error) {
	var properties []models.Property
	err := d.db.WithContext(ctx).
		Where("latitude IS NULL OR longitude IS NULL").
		Order("id").
		Find(&properties).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query properties without location: %w", err)
	}
	return properties, nil
}

// SetPropertyLocation stores geocoded coordinates for one property
func (d *Database) SetPropertyLocation(ctx context.Context, id int64, lat, lon float64) error {
	result := d.db.WithContext(ctx).Model(&models.Property{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"latitude": lat, "longitude": lon})
	if result.Error != nil {
		return fmt.Errorf("failed to update property location: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
