package analytics

import "context"

type Repository interface {
	VisitsByDay(ctx context.Context, f Filter) ([]DayCount, error)
	VisitsByDoctor(ctx context.Context, f Filter) ([]DoctorCount, error)
	VisitsBySpecialty(ctx context.Context, f Filter) (map[string]int, error)
}
