package search

import (
	"github.com/rs/zerolog"

	"notesync/api/internal/notes"
)

// Service is the facade that tries Meilisearch first and falls back to
// PostgreSQL.
type Service struct {
	meili *Meili
	pg    *PgNotes
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgNotes, log zerolog.Logger) *Service {
	return &Service{meili: meili, pg: pg, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("postgres note search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNote upserts one note into the index (fire-and-forget).
func (s *Service) IndexNote(userID string, n notes.Note) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromNote(userID, n)
	go func() {
		if err := s.meili.IndexNotes([]NoteRecord{record}); err != nil {
			s.log.Warn().Err(err).Str("note_id", record.ID).Msg("index note")
		}
	}()
}

// IndexNoteSet upserts the user's whole note set (fire-and-forget).
func (s *Service) IndexNoteSet(userID string, set notes.NoteSet) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := make([]NoteRecord, 0, len(set))
	for _, n := range set {
		records = append(records, RecordFromNote(userID, n))
	}
	go func() {
		if err := s.meili.IndexNotes(records); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("index note set")
		}
	}()
}

// DeleteNote removes one note from the index (fire-and-forget).
func (s *Service) DeleteNote(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(id); err != nil {
			s.log.Warn().Err(err).Str("note_id", id).Msg("delete note from index")
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
