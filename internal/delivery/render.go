package delivery

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/neshama/shivanotify/internal/notify"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Rendered is a message ready for the mail transport.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type kindTemplates struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// Renderer renders notification messages from the embedded templates.
type Renderer struct {
	templates map[notify.Kind]kindTemplates
}

// NewRenderer parses the templates of every kind.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[notify.Kind]kindTemplates, len(notify.OrderedKinds))}
	for _, kind := range notify.OrderedKinds {
		html, err := htmltemplate.ParseFS(templateFS, "templates/layout.html.tmpl", "templates/"+string(kind)+".html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("delivery: parse %s html: %w", kind, err)
		}
		text, err := texttemplate.ParseFS(templateFS, "templates/"+string(kind)+".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("delivery: parse %s text: %w", kind, err)
		}
		r.templates[kind] = kindTemplates{html: html, text: text}
	}
	return r, nil
}

// Render produces the subject and both bodies of msg.
func (r *Renderer) Render(msg notify.Message) (Rendered, error) {
	tpl, ok := r.templates[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("delivery: no template for kind %q", msg.Kind)
	}

	out := Rendered{Subject: Subject(msg.Kind, msg.Data)}

	var text bytes.Buffer
	if err := tpl.text.Execute(&text, msg.Data); err != nil {
		return Rendered{}, fmt.Errorf("delivery: render %s text: %w", msg.Kind, err)
	}
	out.Text = strings.TrimSpace(text.String()) + "\n"

	var html bytes.Buffer
	view := struct {
		Subject string
		Data    notify.TemplateData
	}{Subject: out.Subject, Data: msg.Data}
	if err := tpl.html.ExecuteTemplate(&html, "layout", view); err != nil {
		return Rendered{}, fmt.Errorf("delivery: render %s html: %w", msg.Kind, err)
	}
	out.HTML = html.String()
	return out, nil
}

// Subject returns the subject line for a kind.
func Subject(kind notify.Kind, data notify.TemplateData) string {
	family := data.FamilyName
	switch kind {
	case notify.KindSignupConfirmation:
		if n := len(data.Meals); n > 1 {
			return fmt.Sprintf("Your %d meal signups for %s", n, family)
		}
		return "Your meal signup for " + family
	case notify.KindInstantOrganizerAlert:
		if len(data.Meals) > 0 && data.Meals[0].VolunteerName != "" {
			return fmt.Sprintf("New meal signup from %s - %s", data.Meals[0].VolunteerName, family)
		}
		return "New meal signup - " + family
	case notify.KindDayBeforeReminder:
		return fmt.Sprintf("Reminder: your meal for %s is tomorrow", family)
	case notify.KindMorningOfReminder:
		return "Today: your meal for " + family
	case notify.KindUncoveredDateAlert:
		return fmt.Sprintf("%d uncovered meal date(s) - %s", len(data.UncoveredDates), family)
	case notify.KindDailySummary:
		return fmt.Sprintf("Daily summary - %s shiva", family)
	case notify.KindThankYou:
		return fmt.Sprintf("Thank you for supporting the %s family", family)
	case notify.KindCoOrganizerInvite:
		return fmt.Sprintf("You're invited to co-organize - %s shiva", family)
	}
	return family
}
