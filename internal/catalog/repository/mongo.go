package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/joseosorio28/webflux-api/internal/catalog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const healthCheckTimeout = 2 * time.Second

const (
	productsCollection   = "products"
	categoriesCollection = "categories"
	imagesCollection     = "images"
)

// Connect opens a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client.Database(database), nil
}

type Mongo struct {
	db         *mongo.Database
	products   *mongo.Collection
	categories *mongo.Collection
	images     *mongo.Collection
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{
		db:         db,
		products:   db.Collection(productsCollection),
		categories: db.Collection(categoriesCollection),
		images:     db.Collection(imagesCollection),
	}
}

// scanAll lazily iterates every record of a collection in store-native
// order. The cursor advances only when the consumer asks for the next
// element; stopping the iteration early closes the cursor without
// reading past the in-flight document.
func scanAll[T any](ctx context.Context, coll *mongo.Collection) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		cur, err := coll.Find(ctx, bson.M{})
		if err != nil {
			yield(zero, fmt.Errorf("scan %s: %w", coll.Name(), err))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var rec T
			if err := cur.Decode(&rec); err != nil {
				yield(zero, fmt.Errorf("decode %s: %w", coll.Name(), err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}

		if err := cur.Err(); err != nil {
			yield(zero, fmt.Errorf("iterate %s: %w", coll.Name(), err))
		}
	}
}

// findOne returns absent when no document matches; any other driver
// failure is wrapped and surfaced to the caller.
func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, absent error) (T, error) {
	var rec T
	if err := coll.FindOne(ctx, filter).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return rec, absent
		}
		return rec, fmt.Errorf("find %s: %w", coll.Name(), err)
	}
	return rec, nil
}

func upsert(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, rec any) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, rec, opts); err != nil {
		return fmt.Errorf("upsert %s: %w", coll.Name(), err)
	}
	return nil
}

func (r *Mongo) ScanProducts(ctx context.Context) iter.Seq2[catalog.Product, error] {
	return scanAll[catalog.Product](ctx, r.products)
}

func (r *Mongo) ScanCategories(ctx context.Context) iter.Seq2[catalog.Category, error] {
	return scanAll[catalog.Category](ctx, r.categories)
}

func (r *Mongo) ScanImages(ctx context.Context) iter.Seq2[catalog.Image, error] {
	return scanAll[catalog.Image](ctx, r.images)
}

func (r *Mongo) ProductByName(ctx context.Context, name string) (catalog.Product, error) {
	return findOne[catalog.Product](ctx, r.products, bson.M{"name": name}, catalog.ErrNotFound)
}

func (r *Mongo) CategoryByID(ctx context.Context, id primitive.ObjectID) (catalog.Category, error) {
	return findOne[catalog.Category](ctx, r.categories, bson.M{"_id": id}, catalog.ErrCategoryNotFound)
}

func (r *Mongo) CategoryByName(ctx context.Context, name string) (catalog.Category, error) {
	return findOne[catalog.Category](ctx, r.categories, bson.M{"name": name}, catalog.ErrCategoryNotFound)
}

func (r *Mongo) ImageByID(ctx context.Context, id primitive.ObjectID) (catalog.Image, error) {
	return findOne[catalog.Image](ctx, r.images, bson.M{"_id": id}, catalog.ErrImageNotFound)
}

// SaveProduct persists the product, assigning an identifier on first
// insert. The identifier never changes across subsequent saves.
func (r *Mongo) SaveProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if err := upsert(ctx, r.products, p.ID, p); err != nil {
		return catalog.Product{}, err
	}
	return p, nil
}

func (r *Mongo) SaveCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if err := upsert(ctx, r.categories, c.ID, c); err != nil {
		return catalog.Category{}, err
	}
	return c, nil
}

func (r *Mongo) SaveImage(ctx context.Context, img catalog.Image) (catalog.Image, error) {
	if img.ID.IsZero() {
		img.ID = primitive.NewObjectID()
	}
	if err := upsert(ctx, r.images, img.ID, img); err != nil {
		return catalog.Image{}, err
	}
	return img, nil
}

// DeleteProduct removes the product by identifier. Deleting a product
// that no longer exists is a no-op success.
func (r *Mongo) DeleteProduct(ctx context.Context, p catalog.Product) error {
	if _, err := r.products.DeleteOne(ctx, bson.M{"_id": p.ID}); err != nil {
		return fmt.Errorf("delete product %s: %w", p.ID.Hex(), err)
	}
	return nil
}

// DropCatalog removes all three collections. Used by the demo seed.
func (r *Mongo) DropCatalog(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{r.products, r.categories, r.images} {
		if err := coll.Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (r *Mongo) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return r.db.Client().Ping(ctx, nil)
}
