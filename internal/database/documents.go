package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"token-manager/internal/models"
	"token-manager/internal/store"
)

// Documents keeps the JSON document tree in a SQL table, one row per
// "collection/key" plus an optional collection-level row (empty key). It serves
// the one and two segment paths the ledger uses. A key lives either inside the
// collection row or in its own row, never both.
type Documents struct {
	db *gorm.DB
}

var _ store.Store = (*Documents)(nil)

func NewDocuments(db *gorm.DB) *Documents {
	return &Documents{db: db}
}

func splitPath(path string) ([]string, error) {
	segs := store.Segments(path)
	if len(segs) == 0 || len(segs) > 2 {
		return nil, fmt.Errorf("%w: %q", store.ErrUnsupportedPath, path)
	}
	return segs, nil
}

func (d *Documents) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := d.db.WithContext(ctx).Transaction(fn)
	if err == nil || errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrUnsupportedPath) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func (d *Documents) Get(ctx context.Context, path string, dst any) (bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}
	var node any
	err = d.run(ctx, func(tx *gorm.DB) error {
		node, err = readNode(tx, segs, false)
		return err
	})
	if err != nil || node == nil {
		return false, err
	}
	return true, store.Decode(node, dst)
}

func (d *Documents) GetWithETag(ctx context.Context, path string, dst any) (string, bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", false, err
	}
	var node any
	err = d.run(ctx, func(tx *gorm.DB) error {
		node, err = readNode(tx, segs, false)
		return err
	})
	if err != nil {
		return "", false, err
	}
	if node == nil {
		return store.NullETag, false, nil
	}
	etag, err := store.ETagOf(node)
	if err != nil {
		return "", false, err
	}
	return etag, true, store.Decode(node, dst)
}

func (d *Documents) Set(ctx context.Context, path string, v any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := store.Normalize(v)
	if err != nil {
		return err
	}
	return d.run(ctx, func(tx *gorm.DB) error {
		return setNode(tx, segs, node)
	})
}

func (d *Documents) SetIfMatch(ctx context.Context, path string, v any, etag string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	node, err := store.Normalize(v)
	if err != nil {
		return err
	}
	return d.run(ctx, func(tx *gorm.DB) error {
		current, err := readNode(tx, segs, true)
		if err != nil {
			return err
		}
		currentTag := store.NullETag
		if current != nil {
			if currentTag, err = store.ETagOf(current); err != nil {
				return err
			}
		}
		if currentTag != etag {
			return store.ErrConflict
		}
		if current == nil && len(segs) == 2 && node != nil {
			// Nothing to lock yet; a concurrent creator loses on the primary key.
			doc, err := newDocument(segs[0], segs[1], node)
			if err != nil {
				return err
			}
			if err := tx.Create(doc).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return store.ErrConflict
				}
				return err
			}
			return nil
		}
		return setNode(tx, segs, node)
	})
}

func (d *Documents) Update(ctx context.Context, path string, fields map[string]any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		if normalized[k], err = store.Normalize(v); err != nil {
			return err
		}
	}
	return d.run(ctx, func(tx *gorm.DB) error {
		collection := segs[0]
		if len(segs) == 2 {
			current, err := readNode(tx, segs, true)
			if err != nil {
				return err
			}
			obj := copyObject(current)
			mergeInto(obj, normalized)
			return setNode(tx, segs, emptyToNil(obj))
		}

		rootDoc, err := loadRow(tx, collection, "", true)
		if err != nil {
			return err
		}
		root, err := decodeRow(rootDoc)
		if err != nil {
			return err
		}
		obj := copyObject(root)
		rootChanged := false
		for k, v := range normalized {
			child, err := loadRow(tx, collection, k, true)
			if err != nil {
				return err
			}
			if child != nil {
				if err := writeRow(tx, collection, k, v); err != nil {
					return err
				}
				continue
			}
			mergeInto(obj, map[string]any{k: v})
			rootChanged = true
		}
		if !rootChanged {
			return nil
		}
		return writeRow(tx, collection, "", emptyToNil(obj))
	})
}

func (d *Documents) Push(ctx context.Context, path string, v any) (string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if len(segs) != 1 {
		return "", fmt.Errorf("%w: push below %q", store.ErrUnsupportedPath, path)
	}
	node, err := store.Normalize(v)
	if err != nil {
		return "", err
	}
	key, err := store.NewPushKey()
	if err != nil {
		return "", err
	}
	err = d.run(ctx, func(tx *gorm.DB) error {
		return writeRow(tx, segs[0], key, node)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (d *Documents) Delete(ctx context.Context, path string) error {
	return d.Set(ctx, path, nil)
}

func loadRow(tx *gorm.DB, collection, key string, lock bool) (*models.Document, error) {
	q := tx.Where("collection = ? AND doc_key = ?", collection, key)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var doc models.Document
	err := q.Limit(1).Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.Collection == "" {
		return nil, nil
	}
	return &doc, nil
}

func decodeRow(doc *models.Document) (any, error) {
	if doc == nil {
		return nil, nil
	}
	return store.Parse([]byte(doc.Value))
}

func readNode(tx *gorm.DB, segs []string, lock bool) (any, error) {
	collection := segs[0]
	if len(segs) == 2 {
		doc, err := loadRow(tx, collection, segs[1], lock)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return decodeRow(doc)
		}
		rootDoc, err := loadRow(tx, collection, "", lock)
		if err != nil {
			return nil, err
		}
		root, err := decodeRow(rootDoc)
		if err != nil {
			return nil, err
		}
		if obj, ok := root.(map[string]any); ok {
			return emptyToNil(obj[segs[1]]), nil
		}
		return nil, nil
	}

	q := tx.Where("collection = ?", collection).Order("doc_key")
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var docs []models.Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, err
	}
	var root any
	children := map[string]any{}
	for i := range docs {
		v, err := decodeRow(&docs[i])
		if err != nil {
			return nil, err
		}
		if docs[i].Key == "" {
			root = v
			continue
		}
		children[docs[i].Key] = v
	}
	if len(children) == 0 {
		return emptyToNil(root), nil
	}
	merged := copyObject(root)
	for k, v := range children {
		merged[k] = v
	}
	return merged, nil
}

// setNode overwrites the node at segs; nil removes it.
func setNode(tx *gorm.DB, segs []string, node any) error {
	collection := segs[0]
	if len(segs) == 1 {
		if err := tx.Where("collection = ?", collection).Delete(&models.Document{}).Error; err != nil {
			return err
		}
		return writeRow(tx, collection, "", node)
	}
	key := segs[1]
	rootDoc, err := loadRow(tx, collection, "", true)
	if err != nil {
		return err
	}
	root, err := decodeRow(rootDoc)
	if err != nil {
		return err
	}
	if obj, ok := root.(map[string]any); ok {
		if _, exists := obj[key]; exists {
			delete(obj, key)
			if err := writeRow(tx, collection, "", emptyToNil(obj)); err != nil {
				return err
			}
		}
	}
	return writeRow(tx, collection, key, node)
}

func newDocument(collection, key string, node any) (*models.Document, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node: %w", err)
	}
	etag, err := store.ETagOf(node)
	if err != nil {
		return nil, err
	}
	return &models.Document{Collection: collection, Key: key, Value: string(raw), ETag: etag}, nil
}

func writeRow(tx *gorm.DB, collection, key string, node any) error {
	if node == nil {
		return tx.Where("collection = ? AND doc_key = ?", collection, key).Delete(&models.Document{}).Error
	}
	doc, err := newDocument(collection, key, node)
	if err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "etag", "updated_at"}),
	}).Create(doc).Error
}

func copyObject(node any) map[string]any {
	out := map[string]any{}
	if obj, ok := node.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	}
	return out
}

// mergeInto applies a shallow merge where nil deletes the field.
func mergeInto(obj map[string]any, fields map[string]any) {
	for k, v := range fields {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}
}

func emptyToNil(node any) any {
	if obj, ok := node.(map[string]any); ok && len(obj) == 0 {
		return nil
	}
	return node
}
