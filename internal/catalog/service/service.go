package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/joseosorio28/webflux-api/internal/catalog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultRepeatFactor is the amplification used by the streaming
// diagnostics when no explicit factor is requested.
const DefaultRepeatFactor = 5000

type Repository interface {
	ScanProducts(ctx context.Context) iter.Seq2[catalog.Product, error]
	ScanCategories(ctx context.Context) iter.Seq2[catalog.Category, error]
	ScanImages(ctx context.Context) iter.Seq2[catalog.Image, error]
	ProductByName(ctx context.Context, name string) (catalog.Product, error)
	CategoryByID(ctx context.Context, id primitive.ObjectID) (catalog.Category, error)
	CategoryByName(ctx context.Context, name string) (catalog.Category, error)
	ImageByID(ctx context.Context, id primitive.ObjectID) (catalog.Image, error)
	SaveProduct(ctx context.Context, p catalog.Product) (catalog.Product, error)
	SaveCategory(ctx context.Context, c catalog.Category) (catalog.Category, error)
	SaveImage(ctx context.Context, img catalog.Image) (catalog.Image, error)
	DeleteProduct(ctx context.Context, p catalog.Product) error
	DropCatalog(ctx context.Context) error
}

type Publisher interface {
	Publish(ctx context.Context, event catalog.CatalogEvent) error
}

type Service struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
	created   prometheus.Counter
	deleted   prometheus.Counter
}

func New(repo Repository, publisher Publisher, logger *slog.Logger, created, deleted prometheus.Counter) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		created:   created,
		deleted:   deleted,
	}
}

// ListAll yields every product as stored, in store-native order.
func (s *Service) ListAll(ctx context.Context) iter.Seq2[catalog.Product, error] {
	return s.repo.ScanProducts(ctx)
}

// ListUppercased yields every product with its name upper-cased. The
// projection is applied to a fresh copy of each record and never
// persists back to the store. Each emitted element is logged as a
// best-effort tap off the critical path.
func (s *Service) ListUppercased(ctx context.Context) iter.Seq2[catalog.Product, error] {
	return func(yield func(catalog.Product, error) bool) {
		for p, err := range s.repo.ScanProducts(ctx) {
			if err != nil {
				yield(catalog.Product{}, err)
				return
			}
			p.Name = strings.ToUpper(p.Name)
			s.logger.Debug("product emitted", "name", p.Name)
			if !yield(p, nil) {
				return
			}
		}
	}
}

// ListAmplified replays the uppercased listing factor times
// back-to-back, re-reading the store on every replay. Elements are
// produced one at a time on downstream demand, so memory use does not
// grow with the factor. Cancelling ctx stops production between
// replays; the underlying scan observes ctx as well.
func (s *Service) ListAmplified(ctx context.Context, factor int) iter.Seq2[catalog.Product, error] {
	if factor < 1 {
		factor = DefaultRepeatFactor
	}
	return func(yield func(catalog.Product, error) bool) {
		for i := 0; i < factor; i++ {
			if ctx.Err() != nil {
				return
			}
			for p, err := range s.ListUppercased(ctx) {
				if !yield(p, err) {
					return
				}
				if err != nil {
					return
				}
			}
		}
	}
}

// FindByID walks the product sequence until it reaches the requested
// identifier, then returns the match with the uppercase projection
// applied. A point lookup is deliberately not used here; callers
// tolerate the linear cost.
func (s *Service) FindByID(ctx context.Context, id primitive.ObjectID) (catalog.Product, error) {
	for p, err := range s.repo.ScanProducts(ctx) {
		if err != nil {
			return catalog.Product{}, fmt.Errorf("scan products: %w", err)
		}
		if p.ID != id {
			continue
		}
		p.Name = strings.ToUpper(p.Name)
		s.logger.Info("product found", "id", p.ID.Hex(), "name", p.Name)
		s.publish(ctx, catalog.EventViewed, p)
		return p, nil
	}
	return catalog.Product{}, catalog.ErrNotFound
}

// FindByName is an exact-match store lookup; the name is returned as
// stored, without the uppercase projection.
func (s *Service) FindByName(ctx context.Context, name string) (catalog.Product, error) {
	return s.repo.ProductByName(ctx, name)
}

// Save persists the product. A zero creation timestamp defaults to
// now. A category referenced by id is resolved to the full stored
// record before the write; an unresolvable reference fails the save
// rather than persisting a dangling pointer.
func (s *Service) Save(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	created := p.ID.IsZero()

	if p.CreateAt.IsZero() {
		p.CreateAt = time.Now()
	}

	if p.Category != nil && !p.Category.ID.IsZero() {
		resolved, err := s.repo.CategoryByID(ctx, p.Category.ID)
		if err != nil {
			return catalog.Product{}, fmt.Errorf("resolve category %s: %w", p.Category.ID.Hex(), err)
		}
		p.Category = &resolved
	}

	saved, err := s.repo.SaveProduct(ctx, p)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("save product: %w", err)
	}

	if created {
		s.created.Inc()
		s.publish(ctx, catalog.EventCreated, saved)
	} else {
		s.publish(ctx, catalog.EventUpdated, saved)
	}

	return saved, nil
}

// Delete removes the product. Deleting a product that no longer exists
// is a success.
func (s *Service) Delete(ctx context.Context, p catalog.Product) error {
	if err := s.repo.DeleteProduct(ctx, p); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.deleted.Inc()
	s.publish(ctx, catalog.EventDeleted, p)
	return nil
}

// AttachImage derives a collision-resistant stored name from filename
// and adds an image referencing it to the product's image set. An
// empty filename leaves the product untouched. The image document and
// the product are persisted by the caller; so are the file bytes.
func (s *Service) AttachImage(p *catalog.Product, filename string) (catalog.Image, bool) {
	if filename == "" {
		return catalog.Image{}, false
	}

	img := catalog.Image{
		ID:   primitive.NewObjectID(),
		Name: uuid.NewString() + "-" + sanitizeFilename(filename),
	}
	p.AddImage(img)
	return img, true
}

var filenameSanitizer = strings.NewReplacer(" ", "", ":", "", "\\", "", "/", "")

func sanitizeFilename(name string) string {
	return filenameSanitizer.Replace(name)
}

func (s *Service) ListCategories(ctx context.Context) iter.Seq2[catalog.Category, error] {
	return s.repo.ScanCategories(ctx)
}

func (s *Service) FindCategoryByID(ctx context.Context, id primitive.ObjectID) (catalog.Category, error) {
	return s.repo.CategoryByID(ctx, id)
}

func (s *Service) FindCategoryByName(ctx context.Context, name string) (catalog.Category, error) {
	return s.repo.CategoryByName(ctx, name)
}

func (s *Service) SaveCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	saved, err := s.repo.SaveCategory(ctx, c)
	if err != nil {
		return catalog.Category{}, fmt.Errorf("save category: %w", err)
	}
	return saved, nil
}

func (s *Service) ListImages(ctx context.Context) iter.Seq2[catalog.Image, error] {
	return s.repo.ScanImages(ctx)
}

func (s *Service) FindImageByID(ctx context.Context, id primitive.ObjectID) (catalog.Image, error) {
	return s.repo.ImageByID(ctx, id)
}

func (s *Service) SaveImage(ctx context.Context, img catalog.Image) (catalog.Image, error) {
	saved, err := s.repo.SaveImage(ctx, img)
	if err != nil {
		return catalog.Image{}, fmt.Errorf("save image: %w", err)
	}
	return saved, nil
}

// publish is a fire-and-forget tap: failures are logged, never
// returned, and never affect the outcome of the calling operation.
func (s *Service) publish(ctx context.Context, eventType string, p catalog.Product) {
	err := s.publisher.Publish(ctx, catalog.CatalogEvent{
		EventType: eventType,
		ProductID: p.ID.Hex(),
		Name:      p.Name,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("publish event failed",
			"event_type", eventType,
			"product_id", p.ID.Hex(),
			"error", err,
		)
	}
}
