// Package contrib holds the contribution engine: the field catalog, value
// normalization, snapshot diffing and the editing draft. It has no storage or
// transport dependencies; the service layer feeds it snapshots.
package contrib

import (
	"fmt"
	"sort"
)

// Category groups fields a contributor edits together.
type Category string

const (
	CategoryBasicInfo   Category = "basic_info"
	CategoryMedia       Category = "media"
	CategoryContent     Category = "content"
	CategoryReleaseInfo Category = "release_info"
	CategoryAdvanced    Category = "advanced"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryBasicInfo,
	CategoryMedia,
	CategoryContent,
	CategoryReleaseInfo,
	CategoryAdvanced,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Reference kinds for fields holding ids of other records.
const (
	RefGenre  = "genre"
	RefStudio = "studio"
)

// Field is one row of a catalog. Excluded fields carry no category.
type Field struct {
	Name     string   `json:"name"`
	Category Category `json:"category,omitempty"`
	Excluded bool     `json:"excluded"`
	Ref      string   `json:"ref,omitempty"`
}

// Catalog is the read-only field table for one entity type.
type Catalog struct {
	entityType string
	fields     map[string]Field
	byCategory map[Category][]string
}

// NewCatalog builds a catalog. Every non-excluded field must have a valid
// category and names must be unique.
func NewCatalog(entityType string, fields []Field) (*Catalog, error) {
	c := &Catalog{
		entityType: entityType,
		fields:     make(map[string]Field, len(fields)),
		byCategory: make(map[Category][]string),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("catalog %s: field with empty name", entityType)
		}
		if _, dup := c.fields[f.Name]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate field %q", entityType, f.Name)
		}
		if f.Excluded {
			f.Category = ""
		} else if !f.Category.Valid() {
			return nil, fmt.Errorf("catalog %s: field %q has unknown category %q", entityType, f.Name, f.Category)
		}
		c.fields[f.Name] = f
		if !f.Excluded {
			c.byCategory[f.Category] = append(c.byCategory[f.Category], f.Name)
		}
	}
	for cat := range c.byCategory {
		sort.Strings(c.byCategory[cat])
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level tables.
func MustCatalog(entityType string, fields []Field) *Catalog {
	c, err := NewCatalog(entityType, fields)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) EntityType() string { return c.entityType }

// Lookup returns the catalog row for name.
func (c *Catalog) Lookup(name string) (Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// IsExcluded reports whether name may never be contributed.
func (c *Catalog) IsExcluded(name string) bool {
	f, ok := c.fields[name]
	return ok && f.Excluded
}

// Editable reports whether name is a known, contribution-eligible field.
func (c *Catalog) Editable(name string) bool {
	f, ok := c.fields[name]
	return ok && !f.Excluded
}

// FieldsIn returns the fields a category exposes for editing, sorted.
func (c *Catalog) FieldsIn(cat Category) []string {
	names := c.byCategory[cat]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// ExcludedFields returns the excluded field names, sorted.
func (c *Catalog) ExcludedFields() []string {
	var out []string
	for name, f := range c.fields {
		if f.Excluded {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Fields returns every row sorted by name.
func (c *Catalog) Fields() []Field {
	out := make([]Field, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StripExcluded returns a copy of s without excluded fields.
func (c *Catalog) StripExcluded(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		if c.IsExcluded(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Registry maps entity types to their catalogs.
type Registry struct {
	catalogs map[string]*Catalog
}

// NewRegistry registers the given catalogs by entity type.
func NewRegistry(catalogs ...*Catalog) *Registry {
	r := &Registry{catalogs: make(map[string]*Catalog, len(catalogs))}
	for _, c := range catalogs {
		r.catalogs[c.EntityType()] = c
	}
	return r
}

// Catalog returns the catalog for entityType or a ValidationError.
func (r *Registry) Catalog(entityType string) (*Catalog, error) {
	c, ok := r.catalogs[entityType]
	if !ok {
		return nil, NewValidationError("entityType", fmt.Sprintf("unsupported entity type %q", entityType))
	}
	return c, nil
}

// EntityTypes lists registered types, sorted.
func (r *Registry) EntityTypes() []string {
	out := make([]string, 0, len(r.catalogs))
	for t := range r.catalogs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// EntityTypeSeries is the media series record.
const EntityTypeSeries = "series"

// SeriesCatalog is the single shared exclusion/category table for series.
// Both the draft and the server-side re-diff read it.
var SeriesCatalog = MustCatalog(EntityTypeSeries, []Field{
	{Name: "title", Category: CategoryBasicInfo},
	{Name: "synonyms", Category: CategoryBasicInfo},
	{Name: "format", Category: CategoryBasicInfo},
	{Name: "status", Category: CategoryBasicInfo},
	{Name: "description", Category: CategoryBasicInfo},

	{Name: "coverImage", Category: CategoryMedia},
	{Name: "bannerImage", Category: CategoryMedia},
	{Name: "trailerUrl", Category: CategoryMedia},
	{Name: "color", Category: CategoryMedia},

	{Name: "genreIds", Category: CategoryContent, Ref: RefGenre},
	{Name: "tagIds", Category: CategoryContent},
	{Name: "studioIds", Category: CategoryContent, Ref: RefStudio},
	{Name: "source", Category: CategoryContent},
	{Name: "isAdult", Category: CategoryContent},

	{Name: "startDate", Category: CategoryReleaseInfo},
	{Name: "endDate", Category: CategoryReleaseInfo},
	{Name: "season", Category: CategoryReleaseInfo},
	{Name: "seasonYear", Category: CategoryReleaseInfo},
	{Name: "episodes", Category: CategoryReleaseInfo},
	{Name: "duration", Category: CategoryReleaseInfo},
	{Name: "countryOfOrigin", Category: CategoryReleaseInfo},

	{Name: "externalIds", Category: CategoryAdvanced},
	{Name: "slug", Category: CategoryAdvanced},

	// system and admin-only
	{Name: "id", Excluded: true},
	{Name: "isLocked", Excluded: true},
	{Name: "trendingScore", Excluded: true},
	{Name: "popularity", Excluded: true},
	{Name: "averageScore", Excluded: true},
	{Name: "moderationNotes", Excluded: true},
	{Name: "createdAt", Excluded: true},
	{Name: "updatedAt", Excluded: true},
})

// DefaultRegistry holds every catalog the service exposes.
func DefaultRegistry() *Registry {
	return NewRegistry(SeriesCatalog)
}
