// Package assembler builds the bounded context handed to the text-AI and
// answers what it can straight from the database. It owns the three AI
// modes: service (database only), general (AI only), hybrid (database
// first, AI fallback with database facts injected).
package assembler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/ai"
	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/session"
	"github.com/ecobot-id/ecobot/internal/storage"
)

const basePreamble = `Kamu adalah EcoBot, asisten virtual pengelolaan sampah untuk %s.
Ramah, informatif, dan peduli lingkungan. Jawab dalam bahasa Indonesia yang
mudah dipahami warga desa, maksimal 4-5 kalimat.

Jenis sampah: Organik (sisa makanan, daun), Anorganik (plastik, kaleng,
kertas, kaca), B3 (baterai, lampu, obat kadaluarsa).`

const generalPreamble = `
Jawab dari pengetahuan umum pengelolaan sampah. Jika ditanya data spesifik
desa (jadwal, lokasi), arahkan user ke perintah 'jadwal' dan 'lokasi'.`

const serviceNoMatch = "Maaf, saya tidak menemukan data yang cocok.\n\nDalam mode layanan, coba ketik 'jadwal', 'lokasi', atau 'point'. Untuk jawaban AI, aktifkan mode hybrid dengan /hybrid-ecobot."

// Assembler resolves free-text messages according to the active AI mode.
type Assembler struct {
	storage      storage.Storage
	text         ai.TextGenerator
	contextTurns int
	villageName  string
	logger       *zap.Logger
}

func New(store storage.Storage, text ai.TextGenerator, contextTurns int, villageName string, logger *zap.Logger) *Assembler {
	if contextTurns <= 0 {
		contextTurns = 5
	}
	return &Assembler{
		storage:      store,
		text:         text,
		contextTurns: contextTurns,
		villageName:  villageName,
		logger:       logger,
	}
}

// Respond produces the reply for a free-text message under the given
// mode. Adapter errors are returned to the dispatcher, which owns the
// canned-apology fallback.
func (a *Assembler) Respond(ctx context.Context, user *models.User, text string, mode session.Mode) (string, error) {
	switch mode {
	case session.ModeService:
		if reply, ok, err := a.groundedAnswer(ctx, user, text); err != nil {
			return "", err
		} else if ok {
			return reply, nil
		}
		return serviceNoMatch, nil

	case session.ModeGeneral:
		turns, err := a.recentTurns(ctx, user.Phone)
		if err != nil {
			return "", err
		}
		preamble := fmt.Sprintf(basePreamble, a.villageName) + generalPreamble
		return a.text.Generate(ctx, preamble, turns, text)

	default: // hybrid
		if reply, ok, err := a.groundedAnswer(ctx, user, text); err != nil {
			return "", err
		} else if ok {
			return reply, nil
		}
		return a.generateGrounded(ctx, user, text)
	}
}

// generateGrounded calls the text-AI with the user's recent turns and
// durable facts injected into the system preamble.
func (a *Assembler) generateGrounded(ctx context.Context, user *models.User, text string) (string, error) {
	turns, err := a.recentTurns(ctx, user.Phone)
	if err != nil {
		return "", err
	}
	facts, err := a.storage.FactsFor(ctx, user.Phone)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, basePreamble, a.villageName)
	sb.WriteString("\n\nTENTANG USER INI:")
	fmt.Fprintf(&sb, "\n- Role: %s, poin: %d", user.Role, user.Points)
	if user.Name != "" {
		fmt.Fprintf(&sb, "\n- Nama: %s", user.Name)
	}
	for _, fact := range facts {
		fmt.Fprintf(&sb, "\n- %s: %s", fact.Key, fact.Value)
	}

	return a.text.Generate(ctx, sb.String(), turns, text)
}

func (a *Assembler) recentTurns(ctx context.Context, phone string) ([]*models.ConversationTurn, error) {
	return a.storage.RecentTurns(ctx, phone, a.contextTurns)
}
