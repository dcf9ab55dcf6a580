package search

import (
	"strings"

	"notesync/api/internal/notes"
)

// RecordFromNote flattens a note into one searchable document: the title plus
// every text item's content and every attachment's display name.
func RecordFromNote(userID string, n notes.Note) NoteRecord {
	var b strings.Builder
	writeItems := func(items []notes.Item) {
		for _, it := range items {
			switch it.Type {
			case notes.ItemText:
				if it.Content != "" {
					b.WriteString(it.Content)
					b.WriteString("\n")
				}
			case notes.ItemFile:
				if it.Name != "" {
					b.WriteString(it.Name)
					b.WriteString("\n")
				}
			}
		}
	}

	writeItems(n.TopLevelItems)
	for _, sec := range n.Sections {
		if sec.SubTitle != "" {
			b.WriteString(sec.SubTitle)
			b.WriteString("\n")
		}
		writeItems(sec.Items)
	}

	return NoteRecord{
		ID:     n.ID,
		UserID: userID,
		Title:  n.Title,
		Text:   strings.TrimSpace(b.String()),
	}
}
