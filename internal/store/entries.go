package store

import (
	"context"

	"gorm.io/gorm"
)

// CreateEntry inserts e and bumps the owner's counters in one transaction
func (s *Store) CreateEntry(ctx context.Context, e *Entry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return translate(err, "create entry")
		}
		return adjustCounters(tx, e.UserID, counterDelta("", e.Visibility))
	})
}

// Entry returns one of the user's entries
func (s *Store) Entry(ctx context.Context, userID, id string) (*Entry, error) {
	e := new(Entry)
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(e).Error
	if err != nil {
		return nil, translate(err, "entry")
	}
	return e, nil
}

// Entries lists the user's entries newest first
func (s *Store) Entries(ctx context.Context, userID string, limit, offset int) ([]Entry, error) {
	var out []Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "list entries")
	}
	return out, nil
}

// EntryUpdate holds the mutable entry fields, nil leaves a field unchanged
type EntryUpdate struct {
	Type         *EntryType
	Content      *string
	Visibility   *Visibility
	QualityEmoji *string
	QualityScore *int
	MediaURLs    *[]string
	Locations    *[]Location
}

// UpdateEntry applies u to one of the user's entries. Moving an entry to a
// different visibility moves it between the per-visibility counters.
func (s *Store) UpdateEntry(ctx context.Context, userID, id string, u EntryUpdate) (*Entry, error) {
	var out *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e := new(Entry)
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(e).Error; err != nil {
			return translate(err, "entry")
		}
		before := e.Visibility

		if u.Type != nil {
			e.Type = *u.Type
		}
		if u.Content != nil {
			e.Content = *u.Content
		}
		if u.Visibility != nil {
			e.Visibility = *u.Visibility
		}
		if u.QualityEmoji != nil {
			e.QualityEmoji = u.QualityEmoji
		}
		if u.QualityScore != nil {
			e.QualityScore = u.QualityScore
		}
		if u.MediaURLs != nil {
			e.MediaURLs = *u.MediaURLs
		}
		if u.Locations != nil {
			e.Locations = *u.Locations
		}

		if err := tx.Save(e).Error; err != nil {
			return translate(err, "update entry")
		}
		if err := adjustCounters(tx, userID, counterDelta(before, e.Visibility)); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// DeleteEntry removes one of the user's entries and decrements the counters
func (s *Store) DeleteEntry(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e := new(Entry)
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(e).Error; err != nil {
			return translate(err, "entry")
		}
		if err := tx.Delete(e).Error; err != nil {
			return translate(err, "delete entry")
		}
		return adjustCounters(tx, userID, counterDelta(e.Visibility, ""))
	})
}

// counterDelta returns the per-column changes for an entry moving from one
// visibility to another. An empty visibility means the entry does not exist
// on that side (create or delete).
func counterDelta(from, to Visibility) map[string]int {
	d := make(map[string]int, 3)
	switch {
	case from == to:
		return d
	case from == "":
		d["journal_entries_count"]++
	case to == "":
		d["journal_entries_count"]--
	}
	if from != "" {
		d[from.counterColumn()]--
	}
	if to != "" {
		d[to.counterColumn()]++
	}
	return d
}

func adjustCounters(tx *gorm.DB, userID string, delta map[string]int) error {
	if len(delta) == 0 {
		return nil
	}
	cols := make(map[string]any, len(delta))
	for col, n := range delta {
		if n != 0 {
			cols[col] = gorm.Expr(col+" + ?", n)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	return translate(tx.Model(&User{}).Where("id = ?", userID).Updates(cols).Error, "adjust entry counters")
}
