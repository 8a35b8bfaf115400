package assembler

import (
	"context"
	"fmt"
	"strings"

	"github.com/ecobot-id/ecobot/internal/models"
)

// Keyword groups that map a free-text question to a structured lookup.
// Static so the grounded coverage is enumerable.
var (
	scheduleWords = []string{"jadwal", "kapan", "pengumpulan", "diangkut", "angkut"}
	locationWords = []string{"lokasi", "dimana", "di mana", "tempat", "buang", "titik"}
	pointWords    = []string{"poin", "point", "skor", "reward"}
)

// faqAnswers are template answers served without any generative call.
// Ordered: "anorganik" must be tested before "organik", which is a
// substring of it under the Contains match.
var faqAnswers = []struct {
	keywords []string
	answer   string
}{
	{
		keywords: []string{"anorganik", "plastik", "kaleng", "botol"},
		answer:   "Sampah anorganik (plastik, kaleng, kertas, kaca) tidak terurai alami. Pilah ke tempat sampah biru/kuning agar bisa didaur ulang.",
	},
	{
		keywords: []string{"organik", "kompos", "sisa makanan"},
		answer:   "Sampah organik (sisa makanan, daun, ranting) dapat terurai alami. Buang ke tempat sampah hijau/coklat, atau olah menjadi kompos di rumah.",
	},
	{
		keywords: []string{"b3", "baterai", "obat", "beracun"},
		answer:   "Sampah B3 (baterai, lampu, obat kadaluarsa, cat) berbahaya dan beracun. Jangan campur dengan sampah lain; serahkan ke titik pengumpulan khusus B3.",
	},
	{
		keywords: []string{"daur ulang", "recycle"},
		answer:   "Tips daur ulang: bersihkan kemasan sebelum dipilah, pisahkan per jenis, dan setorkan ke titik pengumpulan terdekat. Ketik 'lokasi' untuk melihat daftarnya.",
	},
}

// groundedAnswer tries to answer text from structured database lookups.
// ok=false means no structured match; errors are persistence failures.
func (a *Assembler) groundedAnswer(ctx context.Context, user *models.User, text string) (reply string, ok bool, err error) {
	lower := strings.ToLower(text)

	if containsAny(lower, scheduleWords) {
		schedules, err := a.storage.Schedules(ctx)
		if err != nil {
			return "", false, err
		}
		if len(schedules) == 0 {
			return "Maaf, belum ada jadwal pengumpulan yang terdaftar.", true, nil
		}
		return renderSchedules(schedules), true, nil
	}

	if containsAny(lower, locationWords) {
		points, err := a.storage.CollectionPoints(ctx)
		if err != nil {
			return "", false, err
		}
		if len(points) == 0 {
			return "Maaf, belum ada titik pengumpulan yang terdaftar.", true, nil
		}
		return renderPoints(points), true, nil
	}

	if containsAny(lower, pointWords) {
		return fmt.Sprintf("Poin Anda saat ini: %d.\n\nKumpulkan poin dengan rutin memilah dan menyetor sampah.", user.Points), true, nil
	}

	for _, faq := range faqAnswers {
		if containsAny(lower, faq.keywords) {
			return faq.answer, true, nil
		}
	}

	return "", false, nil
}

func renderSchedules(schedules []*models.Schedule) string {
	var sb strings.Builder
	sb.WriteString("Jadwal Pengumpulan Aktif:\n")
	for _, s := range schedules {
		fmt.Fprintf(&sb, "• %s %s-%s (titik %d)\n", s.Day, s.Start, s.End, s.PointID)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderPoints(points []*models.CollectionPoint) string {
	var sb strings.Builder
	sb.WriteString("Titik Pengumpulan Aktif:\n")
	for _, p := range points {
		fmt.Fprintf(&sb, "• %s — %s (%s)\n", p.Name, p.Address, strings.Join(p.AcceptedTypes, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
