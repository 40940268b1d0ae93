package notifier

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
)

type emailData struct {
	Name      string
	Link      string
	ExpiresIn string
}

const resetHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Reset your password</h2>
  <p>Hi {{.Name}},</p>
  <p>We received a request to reset the password for your CRM account. Click the button below to choose a new one.</p>
  <p><a href="{{.Link}}" style="background:#2563eb;color:#fff;padding:10px 18px;border-radius:6px;text-decoration:none;">Reset password</a></p>
  <p>Or paste this link into your browser:<br>{{.Link}}</p>
  <p>This link expires in {{.ExpiresIn}}. If you did not ask for a reset you can ignore this email.</p>
</body>
</html>`

const resetText = `Hi {{.Name}},

We received a request to reset the password for your CRM account.
Open the link below to choose a new one:

{{.Link}}

This link expires in {{.ExpiresIn}}. If you did not ask for a reset you can ignore this email.
`

const welcomeHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Welcome to CRM, {{.Name}}!</h2>
  <p>Your account and organization are ready.</p>
  <p><a href="{{.Link}}" style="background:#2563eb;color:#fff;padding:10px 18px;border-radius:6px;text-decoration:none;">Sign in</a></p>
</body>
</html>`

const welcomeText = `Welcome to CRM, {{.Name}}!

Your account and organization are ready. Sign in at:

{{.Link}}
`

type template struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

var (
	resetTemplate = template{
		subject: "Reset your CRM password",
		html:    htmltemplate.Must(htmltemplate.New("reset.html").Parse(resetHTML)),
		text:    texttemplate.Must(texttemplate.New("reset.txt").Parse(resetText)),
	}
	welcomeTemplate = template{
		subject: "Welcome to CRM",
		html:    htmltemplate.Must(htmltemplate.New("welcome.html").Parse(welcomeHTML)),
		text:    texttemplate.Must(texttemplate.New("welcome.txt").Parse(welcomeText)),
	}
)

func (t template) render(data emailData) (html, text string, err error) {
	var hb, tb bytes.Buffer
	if err := t.html.Execute(&hb, data); err != nil {
		return "", "", err
	}
	if err := t.text.Execute(&tb, data); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}
