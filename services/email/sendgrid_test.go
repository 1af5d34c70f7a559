package emailsvc

import (
	"net/http"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jitu/core"
)

func TestSendgridService_prepare(t *testing.T) {
	conf := &core.Config{
		AppName:          "Jitu",
		DefaultFromEmail: mail.Address{Name: "Jitu", Address: "noreply@localhost"},
	}
	svc := NewSendgridService(conf, nil)

	m := svc.prepare(core.EmailMessage{
		To:           []mail.Address{{Name: "Learner", Address: "lrn1@test.cd"}},
		Bcc:          []mail.Address{{Address: "audit@test.cd"}},
		Subject:      "Your result for Q3",
		TemplateName: "result",
		TextContent:  "Score: 70.00",
	})

	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[Jitu] Your result for Q3", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "lrn1@test.cd", p.To[0].Address)
	require.Len(t, p.BCC, 1)
	assert.Equal(t, "result", p.CustomArgs["template"])
	assert.Equal(t, []string{"result"}, m.Categories)

	require.Len(t, m.Content, 1, "no html part without html content")
	assert.Equal(t, "text/plain", m.Content[0].Type)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusAccepted, false},
		{http.StatusBadRequest, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.status))
		})
	}
}
