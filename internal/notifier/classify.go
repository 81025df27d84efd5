package notifier

import (
	"net/http"
	"strconv"

	"github.com/ibra15-cyber/todo-backend/internal/metrics"
)

const (
	outcomeSent    = metrics.OutcomeSent
	outcomeFailed  = metrics.OutcomeFailed
	outcomeDropped = metrics.OutcomeDropped
)

func classify(r SendResult) string {
	return metrics.ClassifyStatus(r.StatusCode, r.Error)
}

func httpStatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}
