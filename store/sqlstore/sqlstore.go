package sqlstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
	"golang.org/x/xerrors"
	sqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/nvd"
	"github.com/aquasecurity/vuln-match/store"
)

// cveModel keeps the summary columns next to the zstd-compressed record.
type cveModel struct {
	ID       string `gorm:"primaryKey"`
	Summary  string
	Score    float64
	Severity string
	Vector   string
	Raw      []byte
}

func (cveModel) TableName() string { return "cves" }

type productModel struct {
	ID       uint   `gorm:"primaryKey"`
	CVEID    string `gorm:"column:cve_id;index"`
	Vendor   string `gorm:"index:idx_products_vendor_product"`
	Product  string `gorm:"index:idx_products_vendor_product"`
	Position int
}

func (productModel) TableName() string { return "products" }

// Store serves CVE records from SQLite. Results follow insertion order.
type Store struct {
	db  *gorm.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ store.Storage = (*Store)(nil)

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s (%s): %w", path, err, store.ErrUnavailable)
	}
	if err = db.AutoMigrate(&cveModel{}, &productModel{}); err != nil {
		return nil, xerrors.Errorf("failed to migrate %s: %w", path, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, xerrors.Errorf("zstd encoder error: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.Errorf("zstd decoder error: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Put inserts or replaces items in one transaction.
func (s *Store) Put(ctx context.Context, items ...nvd.Item) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			b, err := json.Marshal(item)
			if err != nil {
				return xerrors.Errorf("failed to marshal %s: %w", item.ID(), err)
			}
			m := cveModel{
				ID:       item.ID(),
				Summary:  item.Summary(),
				Score:    item.Score(),
				Severity: item.Severity(),
				Vector:   item.Vector(),
				Raw:      s.enc.EncodeAll(b, nil),
			}
			if err = tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error; err != nil {
				return xerrors.Errorf("failed to save %s: %w", item.ID(), err)
			}

			if err = tx.Where("cve_id = ?", item.ID()).Delete(&productModel{}).Error; err != nil {
				return xerrors.Errorf("failed to delete products of %s: %w", item.ID(), err)
			}
			products := lo.Map(item.CollectUniqueProducts(), func(p cpe.Product, i int) productModel {
				return productModel{CVEID: item.ID(), Vendor: p.Vendor, Product: p.Product, Position: i}
			})
			if len(products) == 0 {
				continue
			}
			if err = tx.Create(&products).Error; err != nil {
				return xerrors.Errorf("failed to save products of %s: %w", item.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("transaction error: %w", err)
	}
	return nil
}

func (s *Store) GetCVE(ctx context.Context, id string) (nvd.Item, error) {
	var m cveModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if xerrors.Is(err, gorm.ErrRecordNotFound) {
		return nvd.Item{}, xerrors.Errorf("%s: %w", id, store.ErrNotFound)
	} else if err != nil {
		return nvd.Item{}, xerrors.Errorf("failed to get %s: %w", id, err)
	}
	return s.decode(m)
}

func (s *Store) GetProducts(ctx context.Context) ([]cpe.Product, error) {
	return s.products(s.db.WithContext(ctx))
}

func (s *Store) SearchProducts(ctx context.Context, query string) ([]cpe.Product, error) {
	if err := store.ValidateSearch(query); err != nil {
		return nil, err
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return s.products(s.db.WithContext(ctx).Where(`vendor || ':' || product LIKE ? ESCAPE '\'`, pattern))
}

// '*' is the only wildcard a search may carry.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)

// products lists distinct vendor/product pairs by first insertion.
func (s *Store) products(db *gorm.DB) ([]cpe.Product, error) {
	products := []cpe.Product{}
	err := db.Model(&productModel{}).
		Select("vendor, product").
		Group("vendor, product").
		Order("MIN(id)").
		Scan(&products).Error
	if err != nil {
		return nil, xerrors.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *Store) SearchCVEs(ctx context.Context, q nvd.Query) ([]nvd.Item, error) {
	db := s.db.WithContext(ctx)
	var models []cveModel
	err := db.Where("id IN (?)", db.Model(&productModel{}).Select("cve_id").Where("product = ?", q.Product)).
		Order("rowid").
		Find(&models).Error
	if err != nil {
		return nil, xerrors.Errorf("failed to search CVEs of %s: %w", q.Product, err)
	}

	items := make([]nvd.Item, 0, len(models))
	for _, m := range models {
		item, err := s.decode(m)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) decode(m cveModel) (nvd.Item, error) {
	b, err := s.dec.DecodeAll(m.Raw, nil)
	if err != nil {
		return nvd.Item{}, xerrors.Errorf("failed to decompress %s: %w", m.ID, err)
	}
	var item nvd.Item
	if err = json.Unmarshal(b, &item); err != nil {
		return nvd.Item{}, xerrors.Errorf("failed to unmarshal %s: %w", m.ID, err)
	}
	return item, nil
}

func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		return xerrors.Errorf("zstd encoder close error: %w", err)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return xerrors.Errorf("failed to get DB: %w", err)
	}
	return sqlDB.Close()
}
