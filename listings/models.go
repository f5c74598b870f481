// Package listings is the provider directory: venues, caterers,
// photographers and the other businesses couples browse.
package listings

import (
	"time"

	"github.com/uptrace/bun"
)

type Provider struct {
	bun.BaseModel `bun:"table:providers" msgpack:"-"`

	ID          string    `bun:"id,pk" msgpack:"id"`
	Name        string    `bun:"name,notnull" msgpack:"name"`
	Category    string    `bun:"category,notnull" msgpack:"category"`
	City        string    `bun:"city" msgpack:"city"`
	Description string    `bun:"description" msgpack:"description"`
	PriceFrom   float64   `bun:"price_from" msgpack:"price_from"`
	Rating      float64   `bun:"rating" msgpack:"rating"`
	Published   bool      `bun:"published" msgpack:"published"`
	PhotoURL    string    `bun:"photo_url" msgpack:"photo_url"`
	CreatedAt   time.Time `bun:"created_at,notnull" msgpack:"created_at"`
}

func ProviderID(p Provider) string { return p.ID }

// Categories lists the directory sections.
var Categories = []string{
	"lieu",
	"traiteur",
	"photographe",
	"fleuriste",
	"musique",
	"decoration",
	"robe",
}
