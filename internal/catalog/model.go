package catalog

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound         = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrImageNotFound    = errors.New("image not found")
)

const (
	EventsQueue  = "catalog.events"
	EventCreated = "product_created"
	EventUpdated = "product_updated"
	EventDeleted = "product_deleted"
	EventViewed  = "product_viewed"
)

type Product struct {
	ID       primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Name     string             `json:"name" bson:"name" example:"TV Panasonic Pantalla LCD"`
	Price    float64            `json:"price" bson:"price" example:"456.89"`
	CreateAt time.Time          `json:"createAt" bson:"create_at"`
	Category *Category          `json:"category,omitempty" bson:"category,omitempty"`
	Images   []Image            `json:"images,omitempty" bson:"images,omitempty"`
}

// AddImage appends img to the product's image set, keeping it
// deduplicated by image id.
func (p *Product) AddImage(img Image) {
	for _, existing := range p.Images {
		if existing.ID == img.ID {
			return
		}
	}
	p.Images = append(p.Images, img)
}

type Category struct {
	ID   primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Name string             `json:"name" bson:"name" example:"Electronics"`
}

type Image struct {
	ID   primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	Name string             `json:"name" bson:"name"`
}

type CatalogEvent struct {
	EventType string    `json:"event_type"`
	ProductID string    `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
