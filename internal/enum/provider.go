package enum

type EmailProvider string

const (
	EmailProviderGmail   EmailProvider = "gmail"
	EmailProviderIMAP    EmailProvider = "imap"
	EmailProviderGeneric EmailProvider = "generic"
)

func (t EmailProvider) String() string {
	return string(t)
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}
