package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PlaceholderImage is substituted whenever the backend omits an image.
const PlaceholderImage = "/placeholder.png"

// Category represents a product category as served by the backend.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	present fieldSet
}

// Product represents a catalog product as served by the backend.
// The backend schema is not owned by this service, so decoding accepts
// several field spellings (see UnmarshalJSON).
type Product struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Price        float64   `json:"price"` // major currency units as sent by the backend
	StockID      string    `json:"stockId,omitempty"`
	CategoryID   string    `json:"categoryId,omitempty"`
	CategoryName string    `json:"categoryName,omitempty"`
	Image        string    `json:"image"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`

	// present records which fields the decoded payload carried. It is empty
	// for values built in code.
	present fieldSet
}

// fieldSet is a bitmask of decoded fields.
type fieldSet uint16

const (
	fieldTitle fieldSet = 1 << iota
	fieldDescription
	fieldPrice
	fieldStockID
	fieldCategoryID
	fieldCategoryName
	fieldImage
	fieldUpdatedAt
)

func (s fieldSet) has(f fieldSet) bool { return s&f != 0 }

// presentFields maps payload keys to the fields they set.
func presentFields(data []byte, keys map[string]fieldSet) fieldSet {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0
	}
	var out fieldSet
	for k := range raw {
		out |= keys[k]
	}
	return out
}

var productKeys = map[string]fieldSet{
	"title":        fieldTitle,
	"name":         fieldTitle,
	"description":  fieldDescription,
	"price":        fieldPrice,
	"stockId":      fieldStockID,
	"categoryId":   fieldCategoryID,
	"category":     fieldCategoryID,
	"categoryName": fieldCategoryName,
	"images":       fieldImage,
	"image":        fieldImage,
	"updatedAt":    fieldUpdatedAt,
}

var categoryKeys = map[string]fieldSet{
	"name":      fieldTitle,
	"title":     fieldTitle,
	"image":     fieldImage,
	"updatedAt": fieldUpdatedAt,
}

// EntityID implements reconcile.Entity.
func (p Product) EntityID() string { return p.ID }

// EntityID implements reconcile.Entity.
func (c Category) EntityID() string { return c.ID }

type productWire struct {
	ID           string          `json:"id"`
	MongoID      string          `json:"_id"`
	Title        string          `json:"title"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        Amount          `json:"price"`
	StockID      string          `json:"stockId"`
	Category     json.RawMessage `json:"category"`
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Images       []string        `json:"images"`
	Image        string          `json:"image"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// UnmarshalJSON decodes a product defensively: id from "id" or "_id",
// title from "title" or "name", image from images[0], then "image", then
// the placeholder; category may be an id string or an embedded object.
func (p *Product) UnmarshalJSON(data []byte) error {
	var w productWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain: decoding product: %w", err)
	}
	*p = Product{
		ID:           firstNonEmpty(w.ID, w.MongoID),
		Title:        firstNonEmpty(w.Title, w.Name),
		Description:  w.Description,
		Price:        float64(w.Price),
		StockID:      w.StockID,
		CategoryID:   w.CategoryID,
		CategoryName: w.CategoryName,
		UpdatedAt:    w.UpdatedAt,
		present:      presentFields(data, productKeys),
	}
	if len(w.Category) > 0 && string(w.Category) != "null" {
		var id string
		if err := json.Unmarshal(w.Category, &id); err == nil {
			p.CategoryID = firstNonEmpty(p.CategoryID, id)
		} else {
			var c Category
			if err := json.Unmarshal(w.Category, &c); err != nil {
				return fmt.Errorf("domain: decoding product category: %w", err)
			}
			p.CategoryID = firstNonEmpty(p.CategoryID, c.ID)
			p.CategoryName = firstNonEmpty(c.Name, p.CategoryName)
			p.present |= fieldCategoryName
		}
	}
	switch {
	case len(w.Images) > 0 && w.Images[0] != "":
		p.Image = w.Images[0]
	case w.Image != "":
		p.Image = w.Image
	default:
		p.Image = PlaceholderImage
	}
	return nil
}

type categoryWire struct {
	ID        string    `json:"id"`
	MongoID   string    `json:"_id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Image     string    `json:"image"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UnmarshalJSON decodes a category, tolerating "_id" and a missing image.
func (c *Category) UnmarshalJSON(data []byte) error {
	var w categoryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain: decoding category: %w", err)
	}
	*c = Category{
		ID:        firstNonEmpty(w.ID, w.MongoID),
		Name:      firstNonEmpty(w.Name, w.Title),
		Image:     firstNonEmpty(w.Image, PlaceholderImage),
		UpdatedAt: w.UpdatedAt,
		present:   presentFields(data, categoryKeys),
	}
	return nil
}

// MergeProduct overlays incoming onto existing. A decoded incoming value
// overwrites exactly the fields its payload carried, zero values included;
// a value built in code overwrites its non-zero fields. A placeholder image
// never replaces a real one.
func MergeProduct(existing, incoming Product) Product {
	out := existing
	out.ID = firstNonEmpty(incoming.ID, existing.ID)
	set := incoming.present
	if set == 0 {
		set = nonZeroProductFields(incoming)
	}
	if set.has(fieldTitle) {
		out.Title = incoming.Title
	}
	if set.has(fieldDescription) {
		out.Description = incoming.Description
	}
	if set.has(fieldPrice) {
		out.Price = incoming.Price
	}
	if set.has(fieldStockID) {
		out.StockID = incoming.StockID
	}
	if set.has(fieldCategoryID) {
		out.CategoryID = incoming.CategoryID
	}
	if set.has(fieldCategoryName) {
		out.CategoryName = incoming.CategoryName
	}
	if set.has(fieldImage) {
		out.Image = mergeImage(existing.Image, incoming.Image)
	}
	if set.has(fieldUpdatedAt) {
		out.UpdatedAt = incoming.UpdatedAt
	}
	return out
}

func nonZeroProductFields(p Product) fieldSet {
	var s fieldSet
	if p.Title != "" {
		s |= fieldTitle
	}
	if p.Description != "" {
		s |= fieldDescription
	}
	if p.Price != 0 {
		s |= fieldPrice
	}
	if p.StockID != "" {
		s |= fieldStockID
	}
	if p.CategoryID != "" {
		s |= fieldCategoryID
	}
	if p.CategoryName != "" {
		s |= fieldCategoryName
	}
	if p.Image != "" {
		s |= fieldImage
	}
	if !p.UpdatedAt.IsZero() {
		s |= fieldUpdatedAt
	}
	return s
}

// MergeCategory overlays incoming onto existing with the same rules as
// MergeProduct.
func MergeCategory(existing, incoming Category) Category {
	out := existing
	out.ID = firstNonEmpty(incoming.ID, existing.ID)
	set := incoming.present
	if set == 0 {
		if incoming.Name != "" {
			set |= fieldTitle
		}
		if incoming.Image != "" {
			set |= fieldImage
		}
		if !incoming.UpdatedAt.IsZero() {
			set |= fieldUpdatedAt
		}
	}
	if set.has(fieldTitle) {
		out.Name = incoming.Name
	}
	if set.has(fieldImage) {
		out.Image = mergeImage(existing.Image, incoming.Image)
	}
	if set.has(fieldUpdatedAt) {
		out.UpdatedAt = incoming.UpdatedAt
	}
	return out
}

func mergeImage(existing, incoming string) string {
	if incoming == "" || (incoming == PlaceholderImage && existing != "") {
		return existing
	}
	return incoming
}

// Amount is a JSON number that the backend sometimes sends as a string.
type Amount float64

// UnmarshalJSON accepts 1500, 1500.5, "1500" and "1,500".
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*a = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("domain: invalid amount %s", string(data))
	}
	*a = Amount(f)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
