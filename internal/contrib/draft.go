package contrib

import "sort"

// Patch is what a draft emits for submission: new values of changed fields
// and the contributor's note.
type Patch struct {
	ProposedPatch map[string]any `json:"proposedPatch"`
	Note          string         `json:"contributorNote"`
}

// Draft is the in-progress edit state of one editing session. It is not safe
// for concurrent use; callers serialize edits from a session.
//
// Category selection only scopes which fields are offered for editing. An
// override made under a category stays in the changeset after the category
// is deselected, until RevertField drops it.
type Draft struct {
	catalog   *Catalog
	original  Snapshot
	overrides Snapshot
	selected  map[Category]struct{}
	note      string
}

// NewDraft returns an empty draft bound to catalog.
func NewDraft(catalog *Catalog) *Draft {
	d := &Draft{catalog: catalog}
	d.Initialize(nil)
	return d
}

// Initialize resets the draft from snapshot. Calling it again discards all
// edits, selections and the note.
func (d *Draft) Initialize(snapshot Snapshot) {
	d.original = snapshot.Clone()
	d.overrides = d.catalog.StripExcluded(snapshot)
	d.selected = make(map[Category]struct{})
	d.note = ""
}

// ToggleCategory selects cat, or deselects it if already selected.
func (d *Draft) ToggleCategory(cat Category) error {
	if !cat.Valid() {
		return NewValidationError("category", "unknown category "+string(cat))
	}
	if _, ok := d.selected[cat]; ok {
		delete(d.selected, cat)
		return nil
	}
	d.selected[cat] = struct{}{}
	return nil
}

// SelectedCategories returns the selection in catalog display order.
func (d *Draft) SelectedCategories() []Category {
	out := make([]Category, 0, len(d.selected))
	for _, cat := range Categories {
		if _, ok := d.selected[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// EditableFields returns the fields exposed by the selected categories.
func (d *Draft) EditableFields() []string {
	var out []string
	for _, cat := range d.SelectedCategories() {
		out = append(out, d.catalog.FieldsIn(cat)...)
	}
	sort.Strings(out)
	return out
}

// UpdateFields merges partial into the overrides. Excluded fields are
// dropped here as well as in Diff.
func (d *Draft) UpdateFields(partial map[string]any) {
	for field, value := range partial {
		if d.catalog.IsExcluded(field) {
			continue
		}
		d.overrides[field] = value
	}
}

// RevertField restores field to its original value.
func (d *Draft) RevertField(field string) {
	if v, ok := d.original[field]; ok && !d.catalog.IsExcluded(field) {
		d.overrides[field] = v
		return
	}
	delete(d.overrides, field)
}

// SetNote stores the contributor note.
func (d *Draft) SetNote(note string) { d.note = note }

// Note returns the contributor note.
func (d *Draft) Note() string { return d.note }

// Changeset is recomputed on every call.
func (d *Draft) Changeset() (Changeset, error) {
	return Diff(d.original, d.overrides, d.catalog)
}

// HasChanges reports whether the changeset is non-empty.
func (d *Draft) HasChanges() (bool, error) {
	cs, err := d.Changeset()
	if err != nil {
		return false, err
	}
	return len(cs) > 0, nil
}

// BuildPatch returns the submission payload. It fails when nothing changed
// or no category is selected. An empty note keeps the note set by SetNote.
func (d *Draft) BuildPatch(note string) (*Patch, error) {
	cs, err := d.Changeset()
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, NewValidationError("proposedPatch", "no changes to submit")
	}
	if len(d.selected) == 0 {
		return nil, NewValidationError("categories", "select at least one category")
	}
	if note == "" {
		note = d.note
	}
	return &Patch{ProposedPatch: cs.Patch(), Note: note}, nil
}
