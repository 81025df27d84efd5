package notifier

import (
	"fmt"
	"time"

	"github.com/ibra15-cyber/todo-backend/internal/domain"
)

// deadlineLayout renders deadlines as "September 29, 2025 at 03:09 PM".
const deadlineLayout = "January 02, 2006 at 03:04 PM"

const untitledTask = "Untitled Task"

// Detail keys understood by BuildMessage.
const (
	DetailTaskID      = "task_id"
	DetailDescription = "description"
	DetailDeadline    = "deadline"
)

// BuildMessage renders the subject and body for a notification kind.
func BuildMessage(kind domain.NotificationKind, details map[string]string) (subject, message string) {
	switch kind {
	case domain.NotificationWelcome:
		return "Welcome to Todo App - Notification Subscription Confirmation",
			"Welcome to the Todo App!\n\n" +
				"You have been successfully subscribed to task notifications.\n" +
				"You will receive emails when your tasks expire.\n\n" +
				"Thank you for using our service!"

	case domain.NotificationExpired:
		desc := details[DetailDescription]
		if desc == "" {
			desc = untitledTask
		}
		subject = "Task Expired: " + desc
		message = fmt.Sprintf("ALERT: Your To-Do Task has Expired!\n\n"+
			"Task: %s\n"+
			"Task ID: %s\n"+
			"Deadline: %s\n\n"+
			"This task was due and has been automatically marked as expired. "+
			"Please log in to the Todo App to review your tasks.",
			desc, details[DetailTaskID], FormatDeadline(details[DetailDeadline]))
		return subject, message
	}

	return string(kind), ""
}

// FormatDeadline turns an RFC 3339 timestamp into the human form used in
// messages. Unparseable input is returned unchanged.
func FormatDeadline(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(deadlineLayout)
}
