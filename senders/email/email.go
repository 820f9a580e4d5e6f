package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var (
	//go:embed undeliverable.html
	undeliverableHTML     string
	undeliverableTemplate = template.Must(template.New("undeliverable.html").Parse(undeliverableHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

// UndeliverableEmailFormat tells the operator which stored subscriptions could
// not be sent to because their endpoint descriptor is incomplete.
type UndeliverableEmailFormat struct {
	NotificationTitle string
	SubscriptionIDs   []string
	DispatchedAt      time.Time
}

func (ef *UndeliverableEmailFormat) Subject() string {
	return fmt.Sprintf("eventpush: %d subscriptions need review", len(ef.SubscriptionIDs))
}

func (ef *UndeliverableEmailFormat) Body() string {
	return mustFillTemplate(undeliverableTemplate, ef)
}
