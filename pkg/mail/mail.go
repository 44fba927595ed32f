package mail

import "context"

// Mailer delivers a single HTML email. Sends are best-effort: callers log
// failures and move on, they never retry within a run.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
