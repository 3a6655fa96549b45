package core_test

import (
	"net/mail"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcardenasp7/conta/core"
	appfs "github.com/lcardenasp7/conta/fs"
	"github.com/lcardenasp7/conta/testutil"
)

func TestParseEmailTemplates(t *testing.T) {
	logger := new(testutil.Logger)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)
	assert.Empty(t, logger.Levelled("ERROR"))

	msg := core.EmailMessage{
		To:           []mail.Address{{Address: "bursar@school.test"}},
		Subject:      "Fund OPE reached alert level 1",
		TemplateName: "fund_alert",
		TemplateData: map[string]interface{}{
			"AppName":     "Conta",
			"FundCode":    "OPE",
			"FundName":    "Operations",
			"Utilization": "72.0",
			"Balance":     "720.00",
			"Capacity":    "1000.00",
			"Alerts":      []map[string]interface{}{{"Level": 1, "Message": "fund OPE reached 72.0% of its capacity"}},
		},
	}
	require.NoError(t, msg.Render())
	assert.True(t, msg.HasContent())
	assert.Contains(t, msg.TextContent, "Fund OPE (Operations) reached 72.0% of its capacity.")
	assert.Contains(t, msg.HTMLContent, "720.00")
}

func TestRender_missingLayout(t *testing.T) {
	fsys := fstest.MapFS{
		"email/no_layout.txt": {Data: []byte(`{{define "content"}}hello{{end}}`)},
	}
	logger := new(testutil.Logger)
	core.ParseEmailTemplates(fsys, "email", logger)
	require.Len(t, logger.Levelled("ERROR"), 1)

	msg := core.EmailMessage{TemplateName: "no_layout"}
	err := msg.Render()
	require.Error(t, err)
	assert.Equal(t, `email template "no_layout" failed to parse`, err.Error())
	assert.False(t, msg.HasContent())

	msg = core.EmailMessage{TemplateName: "unknown"}
	assert.EqualError(t, msg.Render(), `email template "unknown" not found`)
}
