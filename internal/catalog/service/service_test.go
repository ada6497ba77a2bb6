package service

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joseosorio28/webflux-api/internal/catalog"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type mockRepo struct {
	scanProductsFn   func(ctx context.Context) iter.Seq2[catalog.Product, error]
	scanCategoriesFn func(ctx context.Context) iter.Seq2[catalog.Category, error]
	scanImagesFn     func(ctx context.Context) iter.Seq2[catalog.Image, error]
	productByNameFn  func(ctx context.Context, name string) (catalog.Product, error)
	categoryByIDFn   func(ctx context.Context, id primitive.ObjectID) (catalog.Category, error)
	categoryByNameFn func(ctx context.Context, name string) (catalog.Category, error)
	imageByIDFn      func(ctx context.Context, id primitive.ObjectID) (catalog.Image, error)
	saveProductFn    func(ctx context.Context, p catalog.Product) (catalog.Product, error)
	saveCategoryFn   func(ctx context.Context, c catalog.Category) (catalog.Category, error)
	saveImageFn      func(ctx context.Context, img catalog.Image) (catalog.Image, error)
	deleteProductFn  func(ctx context.Context, p catalog.Product) error
	dropCatalogFn    func(ctx context.Context) error
}

func (m *mockRepo) ScanProducts(ctx context.Context) iter.Seq2[catalog.Product, error] {
	return m.scanProductsFn(ctx)
}
func (m *mockRepo) ScanCategories(ctx context.Context) iter.Seq2[catalog.Category, error] {
	return m.scanCategoriesFn(ctx)
}
func (m *mockRepo) ScanImages(ctx context.Context) iter.Seq2[catalog.Image, error] {
	return m.scanImagesFn(ctx)
}
func (m *mockRepo) ProductByName(ctx context.Context, name string) (catalog.Product, error) {
	return m.productByNameFn(ctx, name)
}
func (m *mockRepo) CategoryByID(ctx context.Context, id primitive.ObjectID) (catalog.Category, error) {
	return m.categoryByIDFn(ctx, id)
}
func (m *mockRepo) CategoryByName(ctx context.Context, name string) (catalog.Category, error) {
	return m.categoryByNameFn(ctx, name)
}
func (m *mockRepo) ImageByID(ctx context.Context, id primitive.ObjectID) (catalog.Image, error) {
	return m.imageByIDFn(ctx, id)
}
func (m *mockRepo) SaveProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	return m.saveProductFn(ctx, p)
}
func (m *mockRepo) SaveCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	return m.saveCategoryFn(ctx, c)
}
func (m *mockRepo) SaveImage(ctx context.Context, img catalog.Image) (catalog.Image, error) {
	return m.saveImageFn(ctx, img)
}
func (m *mockRepo) DeleteProduct(ctx context.Context, p catalog.Product) error {
	return m.deleteProductFn(ctx, p)
}
func (m *mockRepo) DropCatalog(ctx context.Context) error {
	return m.dropCatalogFn(ctx)
}

type mockPublisher struct {
	events []catalog.CatalogEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event catalog.CatalogEvent) error {
	m.events = append(m.events, event)
	return m.err
}

func seqOf[T any](items ...T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func newTestService(repo Repository, pub Publisher) *Service {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return New(
		repo, pub, logger,
		prometheus.NewCounter(prometheus.CounterOpts{Name: "t_created", Help: "t"}),
		prometheus.NewCounter(prometheus.CounterOpts{Name: "t_deleted", Help: "t"}),
	)
}

func baseProducts() []catalog.Product {
	return []catalog.Product{
		{ID: primitive.NewObjectID(), Name: "TV Panasonic Pantalla LCD", Price: 456.89},
		{ID: primitive.NewObjectID(), Name: "Sony Camara HD Digital", Price: 177.89},
		{ID: primitive.NewObjectID(), Name: "Apple iPod", Price: 46.89},
	}
}

func defaultRepo(stored []catalog.Product) *mockRepo {
	return &mockRepo{
		scanProductsFn: func(_ context.Context) iter.Seq2[catalog.Product, error] {
			return seqOf(stored...)
		},
		categoryByIDFn: func(_ context.Context, _ primitive.ObjectID) (catalog.Category, error) {
			return catalog.Category{}, catalog.ErrCategoryNotFound
		},
		saveProductFn: func(_ context.Context, p catalog.Product) (catalog.Product, error) {
			if p.ID.IsZero() {
				p.ID = primitive.NewObjectID()
			}
			return p, nil
		},
		deleteProductFn: func(_ context.Context, _ catalog.Product) error { return nil },
	}
}

func TestListUppercased(t *testing.T) {
	stored := baseProducts()
	svc := newTestService(defaultRepo(stored), &mockPublisher{})

	var got []catalog.Product
	for p, err := range svc.ListUppercased(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, p)
	}

	if len(got) != len(stored) {
		t.Fatalf("want %d products, got %d", len(stored), len(got))
	}
	for i, p := range got {
		if p.Name != strings.ToUpper(stored[i].Name) {
			t.Fatalf("want name %q, got %q", strings.ToUpper(stored[i].Name), p.Name)
		}
		if p.ID != stored[i].ID {
			t.Fatalf("projection changed product identity at index %d", i)
		}
	}

	// The projection must not touch the stored records.
	if stored[0].Name != "TV Panasonic Pantalla LCD" {
		t.Fatalf("stored record mutated: %q", stored[0].Name)
	}
}

func TestListUppercased_PropagatesScanError(t *testing.T) {
	errScan := errors.New("store unavailable")
	repo := defaultRepo(nil)
	repo.scanProductsFn = func(_ context.Context) iter.Seq2[catalog.Product, error] {
		return func(yield func(catalog.Product, error) bool) {
			yield(catalog.Product{}, errScan)
		}
	}
	svc := newTestService(repo, &mockPublisher{})

	var gotErr error
	for _, err := range svc.ListUppercased(context.Background()) {
		gotErr = err
	}
	if !errors.Is(gotErr, errScan) {
		t.Fatalf("want scan error, got %v", gotErr)
	}
}

func TestListAmplified(t *testing.T) {
	stored := baseProducts()
	svc := newTestService(defaultRepo(stored), &mockPublisher{})

	const factor = 4
	var got []catalog.Product
	for p, err := range svc.ListAmplified(context.Background(), factor) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, p)
	}

	if len(got) != factor*len(stored) {
		t.Fatalf("want %d elements, got %d", factor*len(stored), len(got))
	}
	for i, p := range got {
		want := strings.ToUpper(stored[i%len(stored)].Name)
		if p.Name != want {
			t.Fatalf("element %d: want %q, got %q", i, want, p.Name)
		}
	}
}

func TestListAmplified_DefaultFactor(t *testing.T) {
	stored := baseProducts()
	svc := newTestService(defaultRepo(stored), &mockPublisher{})

	count := 0
	for _, err := range svc.ListAmplified(context.Background(), 0) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
	}

	if count != DefaultRepeatFactor*len(stored) {
		t.Fatalf("want %d elements, got %d", DefaultRepeatFactor*len(stored), count)
	}
}

func TestListAmplified_StopsOnDemand(t *testing.T) {
	stored := baseProducts()
	scans := 0
	repo := defaultRepo(stored)
	repo.scanProductsFn = func(_ context.Context) iter.Seq2[catalog.Product, error] {
		scans++
		return seqOf(stored...)
	}
	svc := newTestService(repo, &mockPublisher{})

	taken := 0
	for _, err := range svc.ListAmplified(context.Background(), 1000) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		taken++
		if taken == 2 {
			break
		}
	}

	if scans != 1 {
		t.Fatalf("want a single store scan after early stop, got %d", scans)
	}
}

func TestListAmplified_CancelledContext(t *testing.T) {
	stored := baseProducts()
	svc := newTestService(defaultRepo(stored), &mockPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	count := 0
	for _, err := range svc.ListAmplified(ctx, 1000) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		if count == len(stored) {
			cancel()
		}
	}

	// Cancellation is observed between replays.
	if count != len(stored) {
		t.Fatalf("want production to stop after %d elements, got %d", len(stored), count)
	}
}

func TestFindByID(t *testing.T) {
	stored := baseProducts()
	pub := &mockPublisher{}
	svc := newTestService(defaultRepo(stored), pub)

	p, err := svc.FindByID(context.Background(), stored[1].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "SONY CAMARA HD DIGITAL" {
		t.Fatalf("want uppercased name, got %q", p.Name)
	}
	if p.Price != stored[1].Price {
		t.Fatalf("want price %v, got %v", stored[1].Price, p.Price)
	}

	if len(pub.events) != 1 || pub.events[0].EventType != catalog.EventViewed {
		t.Fatalf("want a single %s event, got %v", catalog.EventViewed, pub.events)
	}
}

func TestFindByID_NotFound(t *testing.T) {
	svc := newTestService(defaultRepo(baseProducts()), &mockPublisher{})

	_, err := svc.FindByID(context.Background(), primitive.NewObjectID())
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFindByName(t *testing.T) {
	stored := catalog.Product{ID: primitive.NewObjectID(), Name: "Apple iPod", Price: 46.89}
	repo := defaultRepo(nil)
	repo.productByNameFn = func(_ context.Context, name string) (catalog.Product, error) {
		if name == stored.Name {
			return stored, nil
		}
		return catalog.Product{}, catalog.ErrNotFound
	}
	pub := &mockPublisher{}
	svc := newTestService(repo, pub)

	p, err := svc.FindByName(context.Background(), "Apple iPod")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Apple iPod" {
		t.Fatalf("lookup by name must return the stored casing, got %q", p.Name)
	}
	if len(pub.events) != 0 {
		t.Fatalf("lookup by name must not publish events, got %v", pub.events)
	}

	// Exact match only: the upper-cased form is a different name.
	if _, err := svc.FindByName(context.Background(), "APPLE IPOD"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("want ErrNotFound for a non-matching name, got %v", err)
	}
}

func TestFindCategoryByName(t *testing.T) {
	stored := catalog.Category{ID: primitive.NewObjectID(), Name: "Electronics"}
	repo := defaultRepo(nil)
	repo.categoryByNameFn = func(_ context.Context, name string) (catalog.Category, error) {
		if name == stored.Name {
			return stored, nil
		}
		return catalog.Category{}, catalog.ErrCategoryNotFound
	}
	svc := newTestService(repo, &mockPublisher{})

	c, err := svc.FindCategoryByName(context.Background(), "Electronics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != stored.ID || c.Name != "Electronics" {
		t.Fatalf("want stored category back, got %+v", c)
	}

	if _, err := svc.FindCategoryByName(context.Background(), "ELECTRONICS"); !errors.Is(err, catalog.ErrCategoryNotFound) {
		t.Fatalf("want ErrCategoryNotFound for a non-matching name, got %v", err)
	}
}

func TestSave(t *testing.T) {
	categoryID := primitive.NewObjectID()
	electronics := catalog.Category{ID: categoryID, Name: "Electronics"}
	fixed := time.Date(2020, 4, 18, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		product      catalog.Product
		wantErr      error
		wantCreateAt time.Time
		wantCategory string
		wantEvent    string
	}{
		{
			name:      "createAt defaults to now",
			product:   catalog.Product{Name: "Apple iPod", Price: 46.89},
			wantEvent: catalog.EventCreated,
		},
		{
			name:         "preset createAt is preserved",
			product:      catalog.Product{Name: "Apple iPod", Price: 46.89, CreateAt: fixed},
			wantCreateAt: fixed,
			wantEvent:    catalog.EventCreated,
		},
		{
			name: "category id reference is resolved to the full record",
			product: catalog.Product{
				Name:     "Apple iPod",
				Price:    46.89,
				Category: &catalog.Category{ID: categoryID},
			},
			wantCategory: "Electronics",
			wantEvent:    catalog.EventCreated,
		},
		{
			name: "unresolvable category fails the save",
			product: catalog.Product{
				Name:     "Apple iPod",
				Price:    46.89,
				Category: &catalog.Category{ID: primitive.NewObjectID()},
			},
			wantErr: catalog.ErrCategoryNotFound,
		},
		{
			name:      "existing id publishes an update",
			product:   catalog.Product{ID: primitive.NewObjectID(), Name: "Apple iPod", Price: 46.89},
			wantEvent: catalog.EventUpdated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := defaultRepo(nil)
			repo.categoryByIDFn = func(_ context.Context, id primitive.ObjectID) (catalog.Category, error) {
				if id == categoryID {
					return electronics, nil
				}
				return catalog.Category{}, catalog.ErrCategoryNotFound
			}
			var persisted *catalog.Product
			saveFn := repo.saveProductFn
			repo.saveProductFn = func(ctx context.Context, p catalog.Product) (catalog.Product, error) {
				saved, err := saveFn(ctx, p)
				persisted = &saved
				return saved, err
			}

			pub := &mockPublisher{}
			svc := newTestService(repo, pub)

			saved, err := svc.Save(context.Background(), tt.product)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want error %v, got %v", tt.wantErr, err)
				}
				if persisted != nil {
					t.Fatalf("nothing must be persisted on a failed save, got %v", persisted)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if saved.ID.IsZero() {
				t.Fatal("want an assigned id")
			}
			if tt.wantCreateAt.IsZero() {
				if saved.CreateAt.IsZero() {
					t.Fatal("want createAt defaulted to now")
				}
			} else if !saved.CreateAt.Equal(tt.wantCreateAt) {
				t.Fatalf("want createAt %v, got %v", tt.wantCreateAt, saved.CreateAt)
			}
			if tt.wantCategory != "" {
				if saved.Category == nil || saved.Category.Name != tt.wantCategory {
					t.Fatalf("want resolved category %q, got %v", tt.wantCategory, saved.Category)
				}
			}
			if len(pub.events) != 1 || pub.events[0].EventType != tt.wantEvent {
				t.Fatalf("want event %q, got %v", tt.wantEvent, pub.events)
			}
		})
	}
}

func TestSave_PublishFail_StillReturnsProduct(t *testing.T) {
	repo := defaultRepo(nil)
	pub := &mockPublisher{err: errors.New("broker down")}
	svc := newTestService(repo, pub)

	saved, err := svc.Save(context.Background(), catalog.Product{Name: "Apple iPod", Price: 46.89})
	if err != nil {
		t.Fatalf("expected no error despite publish failure, got: %v", err)
	}
	if saved.Name != "Apple iPod" {
		t.Fatalf("want name Apple iPod, got %q", saved.Name)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	p := catalog.Product{ID: primitive.NewObjectID(), Name: "Apple iPod"}
	pub := &mockPublisher{}
	svc := newTestService(defaultRepo(nil), pub)

	if err := svc.Delete(context.Background(), p); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := svc.Delete(context.Background(), p); err != nil {
		t.Fatalf("second delete must succeed as a no-op: %v", err)
	}

	if len(pub.events) != 2 {
		t.Fatalf("want 2 deleted events, got %d", len(pub.events))
	}
	for _, e := range pub.events {
		if e.EventType != catalog.EventDeleted {
			t.Fatalf("want %s event, got %s", catalog.EventDeleted, e.EventType)
		}
	}
}

func TestAttachImage(t *testing.T) {
	svc := newTestService(defaultRepo(nil), &mockPublisher{})

	p := catalog.Product{ID: primitive.NewObjectID(), Name: "Apple iPod"}
	img, attached := svc.AttachImage(&p, "my photo:1\\a/b.png")
	if !attached {
		t.Fatal("want image attached")
	}

	if !strings.HasSuffix(img.Name, "-myphoto1ab.png") {
		t.Fatalf("want sanitized suffix, got %q", img.Name)
	}
	if len(img.Name) <= len("-myphoto1ab.png") {
		t.Fatalf("want a random token prefix, got %q", img.Name)
	}
	if img.ID.IsZero() {
		t.Fatal("want an assigned image id")
	}

	if len(p.Images) != 1 || p.Images[0].ID != img.ID {
		t.Fatalf("want image in product set, got %v", p.Images)
	}

	// Re-adding the same image keeps the set deduplicated.
	p.AddImage(img)
	if len(p.Images) != 1 {
		t.Fatalf("want deduplicated image set, got %d entries", len(p.Images))
	}
}

func TestAttachImage_EmptyFilename(t *testing.T) {
	svc := newTestService(defaultRepo(nil), &mockPublisher{})

	p := catalog.Product{ID: primitive.NewObjectID()}
	_, attached := svc.AttachImage(&p, "")
	if attached {
		t.Fatal("empty filename must not attach an image")
	}
	if len(p.Images) != 0 {
		t.Fatalf("want untouched image set, got %v", p.Images)
	}
}

func TestSeedDemo(t *testing.T) {
	var categories []catalog.Category
	var products []catalog.Product
	dropped := false

	repo := defaultRepo(nil)
	repo.dropCatalogFn = func(_ context.Context) error {
		dropped = true
		return nil
	}
	repo.saveCategoryFn = func(_ context.Context, c catalog.Category) (catalog.Category, error) {
		c.ID = primitive.NewObjectID()
		categories = append(categories, c)
		return c, nil
	}
	repo.categoryByIDFn = func(_ context.Context, id primitive.ObjectID) (catalog.Category, error) {
		for _, c := range categories {
			if c.ID == id {
				return c, nil
			}
		}
		return catalog.Category{}, catalog.ErrCategoryNotFound
	}
	repo.saveProductFn = func(_ context.Context, p catalog.Product) (catalog.Product, error) {
		p.ID = primitive.NewObjectID()
		products = append(products, p)
		return p, nil
	}

	svc := newTestService(repo, &mockPublisher{})
	if err := svc.SeedDemo(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !dropped {
		t.Fatal("want collections dropped before seeding")
	}
	if len(categories) != 4 {
		t.Fatalf("want 4 categories, got %d", len(categories))
	}
	if len(products) != 9 {
		t.Fatalf("want 9 products, got %d", len(products))
	}
	for _, p := range products {
		if p.Category == nil || p.Category.ID.IsZero() {
			t.Fatalf("product %q seeded without a resolved category", p.Name)
		}
		if p.CreateAt.IsZero() {
			t.Fatalf("product %q seeded without createAt", p.Name)
		}
	}
}
