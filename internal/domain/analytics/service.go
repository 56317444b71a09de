package analytics

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) VisitsByDay(ctx context.Context, f Filter) ([]DayCount, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.repo.VisitsByDay(ctx, f)
}

func (s *Service) VisitsByDoctor(ctx context.Context, f Filter) ([]DoctorCount, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.repo.VisitsByDoctor(ctx, f)
}

func (s *Service) VisitsBySpecialty(ctx context.Context, f Filter) (map[string]int, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.repo.VisitsBySpecialty(ctx, f)
}
