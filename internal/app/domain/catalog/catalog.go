// Package catalog holds the static shop items and ship stat table.
//
// The catalog is loaded once at start from the embedded catalog.yaml or an
// override file and is never mutated afterwards.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Rarity tags shown by the shop.
type Rarity string

const (
	Common    Rarity = "common"
	Rare      Rarity = "rare"
	Epic      Rarity = "epic"
	Legendary Rarity = "legendary"
)

// Variant is the kind-specific payload of a shop item. The set of variants
// is closed: Ship, Boost and CoinPackage.
type Variant interface {
	Kind() string
	variant()
}

// Ship unlocks a ship in the inventory.
type Ship struct {
	Multiplier float64 `json:"coin_multiplier"`
	SpeedBonus float64 `json:"speed_bonus"`
}

// Boost grants a multiplier for a fixed duration.
type Boost struct {
	Multiplier float64       `json:"coin_multiplier"`
	Duration   time.Duration `json:"-"`
}

// CoinPackage credits coins.
type CoinPackage struct {
	Face   int64 `json:"face"`
	Credit int64 `json:"credit"`
}

func (Ship) Kind() string        { return "ship" }
func (Boost) Kind() string       { return "boost" }
func (CoinPackage) Kind() string { return "coins" }

func (Ship) variant()        {}
func (Boost) variant()       {}
func (CoinPackage) variant() {}

// Item is an immutable shop entry. Exactly one of PriceCoins and
// PriceExternal is set.
type Item struct {
	ID            string
	Name          string
	Description   string
	Image         string
	Rarity        Rarity
	PriceCoins    *int64
	PriceExternal *decimal.Decimal
	Variant       Variant
}

// CoinPriced reports whether the item can be bought with coins.
func (i Item) CoinPriced() bool { return i.PriceCoins != nil }

// ExternalPriced reports whether the item is bought with an external payment.
func (i Item) ExternalPriced() bool { return i.PriceExternal != nil }

// MarshalJSON renders the flat shop view of the item.
func (i Item) MarshalJSON() ([]byte, error) {
	view := struct {
		ID             string           `json:"id"`
		Name           string           `json:"name"`
		Description    string           `json:"description"`
		Type           string           `json:"type"`
		Image          string           `json:"image"`
		Rarity         Rarity           `json:"rarity"`
		PriceCoins     *int64           `json:"price_coins,omitempty"`
		PriceUSDT      *decimal.Decimal `json:"price_usdt,omitempty"`
		CoinMultiplier float64          `json:"coin_multiplier,omitempty"`
		SpeedBonus     float64          `json:"speed_bonus,omitempty"`
		DurationMin    int64            `json:"duration_minutes,omitempty"`
		Coins          int64            `json:"coins,omitempty"`
	}{
		ID:          i.ID,
		Name:        i.Name,
		Description: i.Description,
		Image:       i.Image,
		Rarity:      i.Rarity,
		PriceCoins:  i.PriceCoins,
		PriceUSDT:   i.PriceExternal,
	}
	switch v := i.Variant.(type) {
	case Ship:
		view.Type = v.Kind()
		view.CoinMultiplier = v.Multiplier
		view.SpeedBonus = v.SpeedBonus
	case Boost:
		view.Type = v.Kind()
		view.CoinMultiplier = v.Multiplier
		view.DurationMin = int64(v.Duration / time.Minute)
	case CoinPackage:
		view.Type = v.Kind()
		view.Coins = v.Credit
	}
	return json.Marshal(view)
}

// ShipStats describes gameplay stats of a ship.
type ShipStats struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	Speed      float64 `json:"speed" yaml:"speed"`
	Image      string  `json:"image" yaml:"image"`
}

// Catalog is the loaded, validated item set.
type Catalog struct {
	items []Item
	byID  map[string]Item
	ships map[string]ShipStats
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// MustDefault is Default that panics on a broken embedded catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the catalog from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

type fileItem struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Image       string `yaml:"image"`
	Rarity      Rarity `yaml:"rarity"`
	PriceCoins  *int64 `yaml:"price_coins"`
	PriceUSDT   string `yaml:"price_usdt"`
	Ship        *struct {
		Multiplier float64 `yaml:"multiplier"`
		SpeedBonus float64 `yaml:"speed_bonus"`
	} `yaml:"ship"`
	Boost *struct {
		Multiplier float64       `yaml:"multiplier"`
		Duration   time.Duration `yaml:"duration"`
	} `yaml:"boost"`
	Coins *struct {
		Face   int64 `yaml:"face"`
		Credit int64 `yaml:"credit"`
	} `yaml:"coins"`
}

type file struct {
	Ships []ShipStats `yaml:"ships"`
	Items []fileItem  `yaml:"items"`
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		byID:  make(map[string]Item, len(f.Items)),
		ships: make(map[string]ShipStats, len(f.Ships)),
	}
	for _, s := range f.Ships {
		if s.ID == "" {
			return nil, fmt.Errorf("ship with empty id")
		}
		if s.Multiplier <= 0 {
			return nil, fmt.Errorf("ship %s: multiplier must be positive", s.ID)
		}
		c.ships[s.ID] = s
	}
	if _, ok := c.ships["basic"]; !ok {
		return nil, fmt.Errorf("ship table must contain basic")
	}

	for _, raw := range f.Items {
		item, err := raw.toItem()
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("duplicate item %s", item.ID)
		}
		if _, ok := item.Variant.(Ship); ok {
			if _, known := c.ships[item.ID]; !known {
				return nil, fmt.Errorf("item %s: no ship stats", item.ID)
			}
		}
		c.byID[item.ID] = item
		c.items = append(c.items, item)
	}
	return c, nil
}

func (fi fileItem) toItem() (Item, error) {
	if fi.ID == "" {
		return Item{}, fmt.Errorf("item with empty id")
	}
	item := Item{
		ID:          fi.ID,
		Name:        fi.Name,
		Description: fi.Description,
		Image:       fi.Image,
		Rarity:      fi.Rarity,
	}

	variants := 0
	if fi.Ship != nil {
		variants++
		if fi.Ship.Multiplier <= 0 {
			return Item{}, fmt.Errorf("item %s: ship multiplier must be positive", fi.ID)
		}
		item.Variant = Ship{Multiplier: fi.Ship.Multiplier, SpeedBonus: fi.Ship.SpeedBonus}
	}
	if fi.Boost != nil {
		variants++
		if fi.Boost.Multiplier <= 0 || fi.Boost.Duration <= 0 {
			return Item{}, fmt.Errorf("item %s: boost needs a positive multiplier and duration", fi.ID)
		}
		item.Variant = Boost{Multiplier: fi.Boost.Multiplier, Duration: fi.Boost.Duration}
	}
	if fi.Coins != nil {
		variants++
		if fi.Coins.Credit <= 0 {
			return Item{}, fmt.Errorf("item %s: coin package credit must be positive", fi.ID)
		}
		item.Variant = CoinPackage{Face: fi.Coins.Face, Credit: fi.Coins.Credit}
	}
	if variants != 1 {
		return Item{}, fmt.Errorf("item %s: exactly one of ship, boost, coins required", fi.ID)
	}

	hasUSDT := strings.TrimSpace(fi.PriceUSDT) != ""
	switch {
	case fi.PriceCoins != nil && hasUSDT:
		return Item{}, fmt.Errorf("item %s: both coin and external price set", fi.ID)
	case fi.PriceCoins == nil && !hasUSDT:
		return Item{}, fmt.Errorf("item %s: no price set", fi.ID)
	case fi.PriceCoins != nil:
		if *fi.PriceCoins <= 0 {
			return Item{}, fmt.Errorf("item %s: coin price must be positive", fi.ID)
		}
		if _, ok := item.Variant.(CoinPackage); ok {
			return Item{}, fmt.Errorf("item %s: coin packages cannot be bought with coins", fi.ID)
		}
		price := *fi.PriceCoins
		item.PriceCoins = &price
	default:
		price, err := decimal.NewFromString(strings.TrimSpace(fi.PriceUSDT))
		if err != nil {
			return Item{}, fmt.Errorf("item %s: parse price: %w", fi.ID, err)
		}
		if !price.IsPositive() {
			return Item{}, fmt.Errorf("item %s: price must be positive", fi.ID)
		}
		item.PriceExternal = &price
	}
	return item, nil
}

// Item looks up a shop item.
func (c *Catalog) Item(id string) (Item, bool) {
	item, ok := c.byID[id]
	return item, ok
}

// Items returns the shop items in catalog order.
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

// Ship returns stats for a ship id. Unknown ids resolve to basic.
func (c *Catalog) Ship(id string) ShipStats {
	if s, ok := c.ships[id]; ok {
		return s
	}
	return c.ships["basic"]
}

// Ships returns the stat table sorted by multiplier.
func (c *Catalog) Ships() []ShipStats {
	out := make([]ShipStats, 0, len(c.ships))
	for _, s := range c.ships {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Multiplier == out[j].Multiplier {
			return out[i].ID < out[j].ID
		}
		return out[i].Multiplier < out[j].Multiplier
	})
	return out
}
