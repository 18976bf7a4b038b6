package mail

import trust "github.com/goliatone/go-trust"

type templatePair struct {
	subject string
	body    string
}

var defaultTemplates = map[trust.MailKind]templatePair{
	trust.MailInvitation: {
		subject: `You have been invited to {{ product }}`,
		body: `Hello,

You have been invited to join {{ product }}. Use the link below to create your
account before {{ expire_at|date:"2006-01-02 15:04 MST" }}:

{{ link|safe }}

If you were not expecting this invitation you can ignore this message.
`,
	},
	trust.MailTwoFactorCode: {
		subject: `Your {{ product }} verification code`,
		body: `Your verification code is {{ code }}.

It expires in {{ expires_in }}. If you did not try to sign in, change your
password.
`,
	},
	trust.MailPasswordReset: {
		subject: `Reset your {{ product }} password`,
		body: `Use the code {{ code }} to reset your password. It expires in
{{ expires_in }}.

If you did not ask for a password reset you can ignore this message.
`,
	},
}
