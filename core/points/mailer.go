package points

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/nithadya/classsync/core"
)

const levelUpTemplate = "level_up"

// LevelUpMailer emails users who reached a higher level.
type LevelUpMailer struct {
	users   UserDirectory
	mailer  core.EmailService
	logger  core.Logger
	timeout time.Duration
}

var _ Notifier = (*LevelUpMailer)(nil)

func NewLevelUpMailer(users UserDirectory, mailer core.EmailService, logger core.Logger) *LevelUpMailer {
	return &LevelUpMailer{
		users:   users,
		mailer:  mailer,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Notify sends the mail in the background. Level drops (after a repair) are ignored.
func (m *LevelUpMailer) Notify(change ScoreChange) {
	if change.NewLevel.Tier() <= change.OldLevel.Tier() {
		return
	}
	go m.send(change)
}

func (m *LevelUpMailer) send(change ScoreChange) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	usr, err := m.users.GetByID(ctx, change.UserID)
	if err != nil {
		m.logger.Error(fmt.Sprintf("level up mail for user %s: %v", change.UserID, err), err)
		return
	}
	if usr.Email == "" || !usr.Active() {
		return
	}

	m.mailer.SendMessages(levelUpMessage(usr.Email, usr.DisplayName(), change))
}

func levelUpMessage(email, name string, change ScoreChange) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: name, Address: email}},
		Subject:      fmt.Sprintf("You reached %s level!", change.NewLevel),
		TemplateName: levelUpTemplate,
		TemplateData: map[string]interface{}{
			"Name":          name,
			"Level":         change.NewLevel,
			"PreviousLevel": change.OldLevel,
			"Points":        change.NewPoints,
		},
	}
}
