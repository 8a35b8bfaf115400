package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/router"
	"github.com/ecobot-id/ecobot/internal/session"
)

const (
	redeemCost         = 100
	nearestPointsLimit = 3
	educationTipsReply = "Tips Pengelolaan Sampah:\n• Pilah sampah organik, anorganik, dan B3 sejak dari rumah\n• Bersihkan kemasan sebelum dipilah agar bisa didaur ulang\n• Olah sisa makanan menjadi kompos\n• Serahkan sampah B3 ke titik pengumpulan khusus\n\nKirim foto sampah untuk identifikasi otomatis, atau tanya langsung tentang pengelolaan sampah."
	redeemComingReply  = "Penukaran poin membutuhkan minimal %d poin. Poin Anda saat ini: %d.\n\nKumpulkan poin dengan rutin menyetor sampah."
	redeemConfirmReply = "Anda akan menukar %d poin dengan paket hadiah. Balas YA untuk konfirmasi, atau pesan lain untuk membatalkan."
	redeemDoneReply    = "Penukaran berhasil! %d poin telah dipotong. Sisa poin Anda: %d.\n\nHadiah dapat diambil di titik pengumpulan utama."
	redeemCancelReply  = "Penukaran dibatalkan. Poin Anda tetap utuh."
	contactReply       = "Terima kasih sudah membagikan kontak %s.\n\nMinta pemilik nomor tersebut mengirim pesan 'daftar' ke EcoBot untuk ikut bergabung."
	reportQueuedReply  = "Laporan sedang diproses dan akan dikirim ke email koordinator.\n\nIsi laporan: statistik pengguna, data klasifikasi sampah, dan ringkasan aktivitas."
	reportFailedReply  = "Maaf, laporan gagal dikirim.\n\nPeriksa konfigurasi email atau coba lagi nanti."
)

// dispatch routes a classified event to its handler. It returns the
// reply and any failure for Handle to convert.
func (d *Dispatcher) dispatch(ctx context.Context, msg *messaging.NormalizedMessage, user *models.User, cls router.Classification) (string, error) {
	// Anything other than a free-text answer abandons a pending
	// confirmation, so a later "ya" can't trigger a forgotten redeem.
	if cls.Tag != router.TagFreeText {
		d.disarmPendingConfirm(ctx, user.Phone)
	}

	switch cls.Tag {
	case router.TagAdmin:
		return d.handleAdmin(ctx, user, cls.AdminSub, cls.AdminArgs)
	case router.TagHelp:
		return d.renderHelp(user), nil
	case router.TagEducation:
		return educationTipsReply, nil
	case router.TagSchedule:
		return d.handleSchedule(ctx)
	case router.TagLocation:
		return d.handleLocationList(ctx)
	case router.TagPoints:
		return fmt.Sprintf("Poin Anda saat ini: %d.\n\nKumpulkan poin dengan rutin memilah dan menyetor sampah.", user.Points), nil
	case router.TagRedeem:
		return d.handleRedeem(ctx, user)
	case router.TagStatistics:
		return d.handleStatistics(ctx)
	case router.TagReport:
		return d.handleReport(ctx, user)
	case router.TagModeService:
		return d.switchMode(ctx, user.Phone, session.ModeService)
	case router.TagModeGeneral:
		return d.switchMode(ctx, user.Phone, session.ModeGeneral)
	case router.TagModeHybrid:
		return d.switchMode(ctx, user.Phone, session.ModeHybrid)
	case router.TagImage:
		return d.handleImage(ctx, msg, user)
	case router.TagLocationLookup:
		return d.handleNearest(ctx, msg)
	case router.TagContact:
		return fmt.Sprintf(contactReply, msg.ContactPhone), nil
	default:
		return d.handleFreeText(ctx, user, cls.Text)
	}
}

func (d *Dispatcher) handleSchedule(ctx context.Context) (string, error) {
	schedules, err := d.storage.Schedules(ctx)
	if err != nil {
		return "", err
	}
	if len(schedules) == 0 {
		return "Maaf, belum ada jadwal pengumpulan yang terdaftar.", nil
	}

	var sb strings.Builder
	sb.WriteString("Jadwal Pengumpulan Aktif:\n")
	for _, s := range schedules {
		fmt.Fprintf(&sb, "• %s %s-%s (titik %d)\n", s.Day, s.Start, s.End, s.PointID)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (d *Dispatcher) handleLocationList(ctx context.Context) (string, error) {
	points, err := d.storage.CollectionPoints(ctx)
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "Maaf, belum ada titik pengumpulan yang terdaftar.", nil
	}

	var sb strings.Builder
	sb.WriteString("Titik Pengumpulan Aktif:\n")
	for _, p := range points {
		fmt.Fprintf(&sb, "• %s — %s (%s)\n", p.Name, p.Address, strings.Join(p.AcceptedTypes, ", "))
	}
	sb.WriteString("\nKirim lokasi Anda (share location) untuk melihat titik terdekat.")
	return sb.String(), nil
}

// handleNearest answers a shared-location payload with the closest
// collection points and a directions link.
func (d *Dispatcher) handleNearest(ctx context.Context, msg *messaging.NormalizedMessage) (string, error) {
	points, err := d.maps.Nearest(ctx, msg.Latitude, msg.Longitude, "", nearestPointsLimit)
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "Maaf, belum ada titik pengumpulan yang terdaftar di sekitar Anda.", nil
	}

	var sb strings.Builder
	sb.WriteString("Titik pengumpulan terdekat:\n")
	for _, p := range points {
		fmt.Fprintf(&sb, "• %s — %s\n", p.Name, p.Address)
	}
	fmt.Fprintf(&sb, "\nRute ke titik terdekat:\n%s",
		d.maps.DirectionsURL(msg.Latitude, msg.Longitude, points[0]))
	return sb.String(), nil
}

func (d *Dispatcher) handleRedeem(ctx context.Context, user *models.User) (string, error) {
	if user.Points < redeemCost {
		return fmt.Sprintf(redeemComingReply, redeemCost, user.Points), nil
	}

	sess, err := d.sessions.Get(ctx, user.Phone)
	if err != nil {
		d.logger.Warn("Failed to load session", zap.Error(err), zap.String("phone", user.Phone))
	}
	sess.PendingConfirm = "redeem"
	if err := d.sessions.Save(ctx, user.Phone, sess); err != nil {
		return "", err
	}
	return fmt.Sprintf(redeemConfirmReply, redeemCost), nil
}

func (d *Dispatcher) handleStatistics(ctx context.Context) (string, error) {
	stats, err := d.storage.Statistics(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Statistik EcoBot\n\n")
	fmt.Fprintf(&sb, "Pengguna: %d total, %d aktif\n", stats.TotalUsers, stats.ActiveUsers)
	fmt.Fprintf(&sb, "Pesan: %d, Gambar: %d\n\n", stats.TotalMessages, stats.TotalImages)
	sb.WriteString("Klasifikasi:\n")
	fmt.Fprintf(&sb, "• Organik: %d\n", stats.CategoryCounts[models.WasteOrganik])
	fmt.Fprintf(&sb, "• Anorganik: %d\n", stats.CategoryCounts[models.WasteAnorganik])
	fmt.Fprintf(&sb, "• B3: %d", stats.CategoryCounts[models.WasteB3])
	return sb.String(), nil
}

func (d *Dispatcher) handleReport(ctx context.Context, user *models.User) (string, error) {
	if d.reportEmail == "" {
		return reportFailedReply, nil
	}
	if err := d.reports.SendStatistics(ctx, d.reportEmail, user); err != nil {
		d.logger.Error("Report delivery failed",
			zap.Error(err), zap.String("phone", user.Phone))
		return reportFailedReply, nil
	}
	return reportQueuedReply, nil
}

func (d *Dispatcher) switchMode(ctx context.Context, phone string, mode session.Mode) (string, error) {
	sess, err := d.sessions.Get(ctx, phone)
	if err != nil {
		d.logger.Warn("Failed to load session", zap.Error(err), zap.String("phone", phone))
	}
	sess.Mode = mode
	if err := d.sessions.Save(ctx, phone, sess); err != nil {
		return "", err
	}

	switch mode {
	case session.ModeService:
		return "Mode layanan database aktif. Jawaban diambil langsung dari data desa (jadwal, lokasi, poin).\n\nUntuk jawaban AI, aktifkan kembali /hybrid-ecobot.", nil
	case session.ModeGeneral:
		return "Mode AI umum aktif. Semua pertanyaan dijawab oleh AI tanpa data desa.\n\nUntuk data spesifik desa gunakan /layanan-ecobot.", nil
	default:
		return "Mode hybrid aktif. Data desa diprioritaskan, AI sebagai cadangan.", nil
	}
}

func (d *Dispatcher) disarmPendingConfirm(ctx context.Context, phone string) {
	sess, err := d.sessions.Get(ctx, phone)
	if err != nil || sess.PendingConfirm == "" {
		return
	}
	sess.PendingConfirm = ""
	if err := d.sessions.Save(ctx, phone, sess); err != nil {
		d.logger.Warn("Failed to clear pending confirmation",
			zap.Error(err), zap.String("phone", phone))
	}
}

// handleFreeText resolves pending confirmations first, then hands the
// message to the assembler under the session's AI mode.
func (d *Dispatcher) handleFreeText(ctx context.Context, user *models.User, text string) (string, error) {
	sess, err := d.sessions.Get(ctx, user.Phone)
	if err != nil {
		d.logger.Warn("Failed to load session", zap.Error(err), zap.String("phone", user.Phone))
		sess = session.Session{Mode: session.ModeHybrid}
	}

	if sess.PendingConfirm == "redeem" {
		sess.PendingConfirm = ""
		if err := d.sessions.Save(ctx, user.Phone, sess); err != nil {
			return "", err
		}
		if answer := strings.ToLower(strings.TrimSpace(text)); answer == "ya" || answer == "yes" {
			return d.completeRedeem(ctx, user)
		}
		return redeemCancelReply, nil
	}

	return d.asm.Respond(ctx, user, text, sess.Mode)
}

// completeRedeem deducts the redeem cost under the identity lock so a
// concurrent message can't double-spend.
func (d *Dispatcher) completeRedeem(ctx context.Context, user *models.User) (string, error) {
	lock := d.lockFor(user.Phone)
	lock.Lock()
	defer lock.Unlock()

	current, err := d.storage.GetUser(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	if current == nil || current.Points < redeemCost {
		return redeemCancelReply, nil
	}
	if err := d.storage.AddPoints(ctx, user.Phone, -redeemCost); err != nil {
		return "", err
	}
	return fmt.Sprintf(redeemDoneReply, redeemCost, current.Points-redeemCost), nil
}

// handleImage downloads the image, classifies it, and records the
// classification. A failed classification writes no record.
func (d *Dispatcher) handleImage(ctx context.Context, msg *messaging.NormalizedMessage, user *models.User) (string, error) {
	image, err := d.channel.DownloadMedia(ctx, msg.MediaURL)
	if err != nil {
		return "", err
	}

	analysis, err := d.vision.Classify(ctx, image)
	if err != nil {
		return "", err
	}

	record := &models.Classification{
		ID:          uuid.New().String(),
		Phone:       user.Phone,
		Category:    analysis.Category,
		Confidence:  analysis.Confidence,
		Method:      models.MethodAI,
		Description: analysis.Description,
		CreatedAt:   time.Now(),
	}
	if err := d.storage.SaveClassification(ctx, record); err != nil {
		d.logger.Warn("Failed to save classification",
			zap.Error(err), zap.String("phone", user.Phone))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Jenis sampah: %s (keyakinan %.0f%%)\n\n", analysis.Category, analysis.Confidence*100)
	sb.WriteString(analysis.Description)
	return sb.String(), nil
}

func (d *Dispatcher) renderHelp(user *models.User) string {
	var sb strings.Builder
	sb.WriteString("EcoBot - Daftar Fitur\n")
	fmt.Fprintf(&sb, "Peran Anda: %s\n\n", roleName(user.Role))

	sb.WriteString("Mode Layanan AI:\n")
	sb.WriteString("• /layanan-ecobot — jawaban dari data desa saja\n")
	sb.WriteString("• /general-ecobot — jawaban AI umum\n")
	sb.WriteString("• /hybrid-ecobot — gabungan (default)\n\n")

	sb.WriteString("Perintah:\n")
	for _, cmd := range router.Commands() {
		if !user.Role.AtLeast(cmd.MinRole) || strings.HasSuffix(cmd.Name, "-ecobot") {
			continue
		}
		fmt.Fprintf(&sb, "• %s — %s\n", cmd.Name, cmd.Description)
	}

	sb.WriteString("\nCara pakai:\n")
	sb.WriteString("• Kirim foto sampah untuk identifikasi otomatis\n")
	sb.WriteString("• Kirim lokasi Anda untuk titik pengumpulan terdekat\n")
	sb.WriteString("• Tanya apa saja tentang pengelolaan sampah")

	if user.Role == models.RoleAdmin {
		sb.WriteString("\n\nPanel Admin:\n")
		for _, cmd := range router.AdminCommands() {
			fmt.Fprintf(&sb, "• /admin %s — %s\n", cmd.Name, cmd.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func roleName(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "Admin"
	case models.RoleKoordinator:
		return "Koordinator"
	default:
		return "Warga"
	}
}

func formatCoords(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lng)
}
