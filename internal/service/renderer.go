package service

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/careline-id/careline/internal/domain"
)

// Followup message bodies per stage. The texts escalate in urgency as the
// chain progresses.
var stageTemplates = map[domain.FollowupStage]string{
	domain.StageReminder15Min: "Halo! Sudahkah Anda minum obat sesuai pengingat tadi? Balas SUDAH jika sudah, atau BELUM jika belum sempat.",
	domain.StageReminder2H:    "Kami belum menerima konfirmasi obat Anda. Mohon balas SUDAH atau BELUM agar kami dapat membantu.",
	domain.StageReminder24H:   "Kami masih menunggu kabar Anda sejak kemarin. Jika ada kendala dengan obat, balas pesan ini dan relawan kami akan menghubungi Anda.",
}

// Renderer formats followup message bodies from stage templates.
type Renderer struct {
	templates map[domain.FollowupStage]*template.Template
}

func NewRenderer() (*Renderer, error) {
	templates := make(map[domain.FollowupStage]*template.Template, len(stageTemplates))
	for stage, body := range stageTemplates {
		tmpl, err := template.New(stage.String()).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template for stage %s: %w", stage, err)
		}
		templates[stage] = tmpl
	}

	return &Renderer{templates: templates}, nil
}

func (r *Renderer) Render(job domain.FollowupJob) (string, error) {
	if r == nil {
		return "", fmt.Errorf("renderer is not initialized")
	}

	tmpl, ok := r.templates[job.Stage]
	if !ok {
		return "", fmt.Errorf("%w: no template for stage %q", domain.ErrValidation, job.Stage)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, job); err != nil {
		return "", fmt.Errorf("failed to render followup message: %w", err)
	}

	return sb.String(), nil
}
