// Package report renders and delivers the emailed statistics report
// behind the laporan command.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/mailer"
	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/storage"
)

type Service struct {
	storage storage.Storage
	mailer  mailer.Service
	logger  *zap.Logger
}

func NewService(store storage.Storage, mail mailer.Service, logger *zap.Logger) *Service {
	return &Service{storage: store, mailer: mail, logger: logger}
}

// SendStatistics builds the current statistics report and emails it.
func (s *Service) SendStatistics(ctx context.Context, toEmail string, requestedBy *models.User) error {
	stats, err := s.storage.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	body := Render(stats, requestedBy, time.Now())
	subject := "Laporan EcoBot " + time.Now().Format("2006-01-02")

	if err := s.mailer.SendReport(ctx, toEmail, subject, body); err != nil {
		return err
	}

	s.logger.Info("Report sent",
		zap.String("recipient", toEmail),
		zap.String("requested_by", requestedBy.Phone))
	return nil
}

// Render produces the plain-text report body.
func Render(stats *storage.Stats, requestedBy *models.User, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("Laporan EcoBot\n")
	fmt.Fprintf(&sb, "Dibuat: %s\n", now.Format("02 Jan 2006 15:04"))
	fmt.Fprintf(&sb, "Diminta oleh: %s (%s)\n\n", requestedBy.Name, requestedBy.Role)

	sb.WriteString("Pengguna:\n")
	fmt.Fprintf(&sb, "- Total: %d\n", stats.TotalUsers)
	fmt.Fprintf(&sb, "- Aktif: %d\n", stats.ActiveUsers)
	fmt.Fprintf(&sb, "- Total pesan: %d\n", stats.TotalMessages)
	fmt.Fprintf(&sb, "- Total gambar: %d\n\n", stats.TotalImages)

	sb.WriteString("Klasifikasi sampah:\n")
	fmt.Fprintf(&sb, "- Organik: %d\n", stats.CategoryCounts[models.WasteOrganik])
	fmt.Fprintf(&sb, "- Anorganik: %d\n", stats.CategoryCounts[models.WasteAnorganik])
	fmt.Fprintf(&sb, "- B3: %d\n", stats.CategoryCounts[models.WasteB3])

	return sb.String()
}
