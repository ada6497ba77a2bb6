package service

import (
	"context"
	"fmt"

	"github.com/joseosorio28/webflux-api/internal/catalog"
)

var seedCategories = []string{"Electronics", "Sports", "Computing", "Furniture"}

var seedProducts = []struct {
	name     string
	price    float64
	category string
}{
	{"TV Panasonic Pantalla LCD", 456.89, "Electronics"},
	{"Sony Camara HD Digital", 177.89, "Electronics"},
	{"Apple iPod", 46.89, "Electronics"},
	{"Sony Notebook", 846.89, "Computing"},
	{"Hewlett Packard Multifuncional", 200.89, "Computing"},
	{"Bianchi Bicicleta", 70.89, "Sports"},
	{"HP Notebook Omen 17", 2500.89, "Computing"},
	{"Mica Cómoda 5 Cajones", 150.89, "Furniture"},
	{"TV Sony Bravia OLED 4K Ultra HD", 2255.89, "Electronics"},
}

// SeedDemo resets the catalog to the demo data set: four categories
// and nine products. Existing collections are dropped first.
func (s *Service) SeedDemo(ctx context.Context) error {
	if err := s.repo.DropCatalog(ctx); err != nil {
		return fmt.Errorf("drop catalog: %w", err)
	}

	categories := make(map[string]catalog.Category, len(seedCategories))
	for _, name := range seedCategories {
		c, err := s.repo.SaveCategory(ctx, catalog.Category{Name: name})
		if err != nil {
			return fmt.Errorf("seed category %q: %w", name, err)
		}
		s.logger.Info("seeded category", "id", c.ID.Hex(), "name", c.Name)
		categories[name] = c
	}

	for _, seed := range seedProducts {
		c := categories[seed.category]
		p, err := s.Save(ctx, catalog.Product{
			Name:     seed.name,
			Price:    seed.price,
			Category: &c,
		})
		if err != nil {
			return fmt.Errorf("seed product %q: %w", seed.name, err)
		}
		s.logger.Info("seeded product", "id", p.ID.Hex(), "name", p.Name, "price", p.Price)
	}

	return nil
}
