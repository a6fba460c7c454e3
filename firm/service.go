package firm

import "context"

// DirectoryReader abstracts repository operations for the service.
type DirectoryReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	Teams(ctx context.Context, firmID string, activeOnly bool) ([]Team, error)
	Groups(ctx context.Context, firmID string) ([]Group, error)
}

// Service exposes business-level firm directory operations.
type Service struct {
	repo DirectoryReader
}

// NewService builds a Service using the provided repository.
func NewService(repo DirectoryReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the firm profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit firm profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// Teams returns the firm's response teams. With activeOnly set, teams that
// have been deactivated are filtered out.
func (s *Service) Teams(ctx context.Context, firmID string, activeOnly bool) ([]Team, error) {
	return s.repo.Teams(ctx, firmID, activeOnly)
}

// Groups returns the subscriber groups served by the firm.
func (s *Service) Groups(ctx context.Context, firmID string) ([]Group, error) {
	return s.repo.Groups(ctx, firmID)
}
