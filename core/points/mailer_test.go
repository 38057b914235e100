package points

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/user"
)

type mapDirectory map[string]user.User

func (d mapDirectory) GetByID(_ context.Context, id string) (user.User, error) {
	if usr, ok := d[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (d mapDirectory) DisplayNames(_ context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = d[id].DisplayName()
	}
	return names, nil
}

type mailSink chan *core.EmailMessage

func (s mailSink) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		s <- msg
	}
}

func TestLevelUpMailer_Notify(t *testing.T) {
	active := user.User{ID: "u-active", Name: "Ada", Email: "ada@test.cd"}
	active.SetActive(true)
	inactive := user.User{ID: "u-inactive", Name: "Omar", Email: "omar@test.cd"}
	inactive.SetActive(false)
	noEmail := user.User{ID: "u-no-email", Name: "Zed"}
	noEmail.SetActive(true)

	sink := make(mailSink, 8)
	mailer := NewLevelUpMailer(mapDirectory{
		active.ID:   active,
		inactive.ID: inactive,
		noEmail.ID:  noEmail,
	}, sink, new(nopLogger))

	// none of these must send anything
	mailer.Notify(ScoreChange{UserID: active.ID, OldPoints: 10, NewPoints: 60, OldLevel: LevelBeginner, NewLevel: LevelBeginner})
	mailer.Notify(ScoreChange{UserID: active.ID, OldPoints: 1200, NewPoints: 900, OldLevel: LevelIntermediate, NewLevel: LevelBeginner})
	mailer.Notify(ScoreChange{UserID: "unknown", OldPoints: 990, NewPoints: 1010, OldLevel: LevelBeginner, NewLevel: LevelIntermediate})
	mailer.Notify(ScoreChange{UserID: inactive.ID, OldPoints: 990, NewPoints: 1010, OldLevel: LevelBeginner, NewLevel: LevelIntermediate})
	mailer.Notify(ScoreChange{UserID: noEmail.ID, OldPoints: 990, NewPoints: 1010, OldLevel: LevelBeginner, NewLevel: LevelIntermediate})

	mailer.Notify(ScoreChange{UserID: active.ID, OldPoints: 995, NewPoints: 1015, OldLevel: LevelBeginner, NewLevel: LevelIntermediate})

	var msg *core.EmailMessage
	select {
	case msg = <-sink:
	case <-time.After(time.Second):
		t.Fatal("no level up mail sent")
	}
	require.Len(t, msg.To, 1)
	assert.Equal(t, "ada@test.cd", msg.To[0].Address)
	assert.Equal(t, "Ada", msg.To[0].Name)
	assert.Equal(t, "You reached Intermediate level!", msg.Subject)
	assert.Equal(t, levelUpTemplate, msg.TemplateName)
	assert.Equal(t, 1015, msg.TemplateData.(map[string]interface{})["Points"])

	select {
	case extra := <-sink:
		t.Errorf("unexpected mail to %v", extra.To)
	case <-time.After(50 * time.Millisecond):
	}
}
