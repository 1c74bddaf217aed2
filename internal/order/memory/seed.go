package memory

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid"
	"gopkg.in/yaml.v3"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/catalog"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/customer"
)

// Seed is the YAML fixture that fills the catalog and customer directory
// of an in-process store.
type Seed struct {
	Products  []SeedProduct  `yaml:"products"`
	Customers []SeedCustomer `yaml:"customers"`
}

type SeedProduct struct {
	ID            string `yaml:"id"`
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	UnitPrice     int64  `yaml:"unit_price"`
	StockQuantity int    `yaml:"stock_quantity"`
}

type SeedCustomer struct {
	ID             string `yaml:"id"`
	Code           string `yaml:"code"`
	Name           string `yaml:"name"`
	Phone          string `yaml:"phone"`
	Address        string `yaml:"address"`
	AssignedSaleID string `yaml:"assigned_sale_id"`
}

// LoadSeed decodes a fixture and stores its products and customers. Nothing
// is stored when any entry is invalid.
func (s *Store) LoadSeed(r io.Reader) (products, customers int, err error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return 0, 0, fmt.Errorf("memory: failed to decode seed: %w", err)
	}

	now := time.Now().UTC()
	ps := make([]catalog.Product, 0, len(seed.Products))
	for i, sp := range seed.Products {
		id, err := uuid.FromString(sp.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("memory: seed product %d: invalid id %q: %w", i, sp.ID, err)
		}
		if sp.UnitPrice < 0 || sp.StockQuantity < 0 {
			return 0, 0, fmt.Errorf("memory: seed product %d: price and stock must not be negative", i)
		}
		ps = append(ps, catalog.Product{
			ID:            id,
			Code:          sp.Code,
			Name:          sp.Name,
			UnitPrice:     sp.UnitPrice,
			StockQuantity: sp.StockQuantity,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	cs := make([]customer.Customer, 0, len(seed.Customers))
	for i, sc := range seed.Customers {
		id, err := uuid.FromString(sc.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("memory: seed customer %d: invalid id %q: %w", i, sc.ID, err)
		}
		c := customer.Customer{
			ID:        id,
			Code:      sc.Code,
			Name:      sc.Name,
			Phone:     sc.Phone,
			Address:   sc.Address,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if sc.AssignedSaleID != "" {
			saleID, err := uuid.FromString(sc.AssignedSaleID)
			if err != nil {
				return 0, 0, fmt.Errorf("memory: seed customer %d: invalid assigned_sale_id %q: %w", i, sc.AssignedSaleID, err)
			}
			c.AssignedSaleID = uuid.NullUUID{UUID: saleID, Valid: true}
		}
		cs = append(cs, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.products[p.ID] = p
	}
	for _, c := range cs {
		s.customers[c.ID] = c
	}
	return len(ps), len(cs), nil
}
