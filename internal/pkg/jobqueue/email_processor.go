package jobqueue

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processNotificationEmailJob delivers a queued billing notification email.
func (q *Queue) processNotificationEmailJob(job *Job) error {
	payload, err := NotificationEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid notification email payload: %w", err)
	}
	if payload.To == "" {
		return fmt.Errorf("notification email payload missing recipient")
	}
	if q.mailer == nil {
		return fmt.Errorf("no email sender configured")
	}

	if err := q.mailer.Send(payload.To, payload.Subject, payload.Body); err != nil {
		return fmt.Errorf("send email to %s: %w", payload.To, err)
	}
	log.Debugf("[JobQueue] Sent notification email to %s", payload.To)
	return nil
}
