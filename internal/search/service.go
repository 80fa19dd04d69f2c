package search

import "log"

// Service is the fire-and-forget indexing facade used by the collab layer's
// persist hook. meili may be nil when search is not configured; every method
// is a no-op then.
type Service struct {
	meili *Meili
}

func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// IndexFile indexes a file asynchronously; failures are logged and never
// block a flush.
func (s *Service) IndexFile(record FileRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexFile(record); err != nil {
			log.Printf("search: index file %s: %v", record.ID, err)
		}
	}()
}

// DeleteFile removes a file from the index asynchronously.
func (s *Service) DeleteFile(id string) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteFile(id); err != nil {
			log.Printf("search: delete file %s: %v", id, err)
		}
	}()
}
