// Package notes holds the note document model shared by the store, the
// sync hub, and the HTTP layer.
package notes

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is assigned when a client submits a note without a title.
const DefaultTitle = "Untitled note"

// Item kinds. The kind decides which payload fields are meaningful: text
// items carry content, file items carry a display name and an attachment ref.
const (
	ItemText = "text"
	ItemFile = "file"
)

type Item struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

type Section struct {
	ID       string `json:"id"`
	SubTitle string `json:"subTitle"`
	Items    []Item `json:"items"`
}

type Note struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Sections      []Section `json:"sections"`
	TopLevelItems []Item    `json:"topLevelItems"`
}

// NoteSet is the ordered collection of one user's notes. Creation appends,
// so insertion order is preserved across loads.
type NoteSet []Note

func (s NoteSet) IndexOf(noteID string) int {
	for i := range s {
		if s[i].ID == noteID {
			return i
		}
	}
	return -1
}

func (s NoteSet) Find(noteID string) (Note, bool) {
	if i := s.IndexOf(noteID); i >= 0 {
		return s[i], true
	}
	return Note{}, false
}

// Normalize backfills missing section/item identifiers and applies the
// defaults for a client-submitted note body. The note id itself is owned by
// the service and never touched here. Existing ids are immutable.
func Normalize(n *Note) {
	if strings.TrimSpace(n.Title) == "" {
		n.Title = DefaultTitle
	}
	if n.Sections == nil {
		n.Sections = []Section{}
	}
	if n.TopLevelItems == nil {
		n.TopLevelItems = []Item{}
	}
	for i := range n.Sections {
		normalizeSection(&n.Sections[i])
	}
	normalizeItems(n.TopLevelItems)
}

func normalizeSection(s *Section) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Items == nil {
		s.Items = []Item{}
	}
	normalizeItems(s.Items)
}

func normalizeItems(items []Item) {
	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.Type == "" {
			item.Type = ItemText
		}
		// Zero whichever payload the kind does not use.
		switch item.Type {
		case ItemText:
			item.Name = ""
			item.Ref = ""
		case ItemFile:
			item.Content = ""
		}
	}
}

// Validate rejects structurally malformed note bodies. Normalize never
// coerces an unknown item kind, so unknown kinds fail here either way.
func Validate(n Note) error {
	for _, section := range n.Sections {
		if err := validateItems(section.Items); err != nil {
			return err
		}
	}
	return validateItems(n.TopLevelItems)
}

func validateItems(items []Item) error {
	for _, item := range items {
		if item.Type != "" && item.Type != ItemText && item.Type != ItemFile {
			return fmt.Errorf("unknown item type %q", item.Type)
		}
	}
	return nil
}
