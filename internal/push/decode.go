package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"kings-storefront/internal/domain"
	"kings-storefront/internal/reconcile"
)

// Event names emitted by the backend.
const (
	EventProductUpdated  = "productUpdated"
	EventCategoryUpdated = "categoryUpdated"
)

// Older backends signal a deletion by pushing a placeholder entity with
// one of these names instead of a kind.
const (
	legacyDeletedProduct  = "Deleted Product"
	legacyDeletedCategory = "Deleted Category"
)

type changeHeader struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	MongoID string `json:"_id"`
}

// DecodeProductEvent turns a productUpdated payload into a reconcile event.
//
// Accepted shapes:
//
//	{"kind":"deleted","id":"p1"}
//	{"kind":"upserted","product":{...}}
//	{...product...}                      (legacy, sentinel title means delete)
func DecodeProductEvent(payload json.RawMessage) (reconcile.Event[domain.Product], error) {
	return decodeChange(payload, "product", func(p domain.Product) bool {
		return p.Title == legacyDeletedProduct
	})
}

// DecodeCategoryEvent turns a categoryUpdated payload into a reconcile event.
func DecodeCategoryEvent(payload json.RawMessage) (reconcile.Event[domain.Category], error) {
	return decodeChange(payload, "category", func(c domain.Category) bool {
		return c.Name == legacyDeletedCategory
	})
}

func decodeChange[T reconcile.Entity](payload json.RawMessage, key string, legacyDelete func(T) bool) (reconcile.Event[T], error) {
	var zero reconcile.Event[T]
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return zero, fmt.Errorf("%w: %s payload is not an object", ErrMalformed, key)
	}

	var hdr changeHeader
	if err := json.Unmarshal(trimmed, &hdr); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.ToLower(hdr.Kind) {
	case "deleted", "delete", "removed":
		id := hdr.ID
		if id == "" {
			id = hdr.MongoID
		}
		if id == "" {
			return zero, fmt.Errorf("%w: %s deletion without id", ErrMalformed, key)
		}
		return reconcile.Deleted[T](id), nil

	case "":
		entity, err := decodeEntity[T](trimmed)
		if err != nil {
			return zero, err
		}
		if legacyDelete(entity) {
			return reconcile.Deleted[T](entity.EntityID()), nil
		}
		return reconcile.Upserted(entity), nil

	case "upserted", "upsert", "created", "updated":
		body := trimmed
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err == nil {
			for _, k := range []string{key, "data"} {
				if v, ok := wrapper[k]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '{' {
					body = v
					break
				}
			}
		}
		entity, err := decodeEntity[T](body)
		if err != nil {
			return zero, err
		}
		return reconcile.Upserted(entity), nil

	default:
		return zero, fmt.Errorf("%w: unknown %s change kind %q", ErrMalformed, key, hdr.Kind)
	}
}

func decodeEntity[T reconcile.Entity](data []byte) (T, error) {
	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return entity, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if entity.EntityID() == "" {
		return entity, fmt.Errorf("%w: entity without id", ErrMalformed)
	}
	return entity, nil
}
