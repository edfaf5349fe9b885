package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
)

type fakeHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (f *fakeHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return f.report, f.err
}

func TestHealthReportDerivesStatus(t *testing.T) {
	repo := &fakeHealthRepo{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"stripe":    {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %s, want degraded", report.Status)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatalf("generated-at not stamped")
	}
}

func TestHealthReportErrorWins(t *testing.T) {
	repo := &fakeHealthRepo{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError},
			"stripe":    {Status: domain.HealthStatusOK},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("status = %s, want error", report.Status)
	}
}
