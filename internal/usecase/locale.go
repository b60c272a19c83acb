package usecase

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Chat labels are rendered in English by default; es-MX is kept for the
// storefront's original audience.
var (
	localeEnglish = language.AmericanEnglish
	localeSpanish = language.MustParse("es-MX")

	localeMatcher = language.NewMatcher([]language.Tag{localeEnglish, localeSpanish})
)

type labels struct {
	today     string
	justNow   string
	minutes   string
	hours     string
	months    [12]string
	shortMons [12]string
	longDate  func(t time.Time, months [12]string) string
	shortDate func(t time.Time, months [12]string) string
}

var englishLabels = labels{
	today:   "Today",
	justNow: "just now",
	minutes: "%d min ago",
	hours:   "%d h ago",
	months: [12]string{"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"},
	shortMons: [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun",
		"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
	longDate: func(t time.Time, m [12]string) string {
		return fmt.Sprintf("%s %d, %d", m[t.Month()-1], t.Day(), t.Year())
	},
	shortDate: func(t time.Time, m [12]string) string {
		return fmt.Sprintf("%s %d, %d", m[t.Month()-1], t.Day(), t.Year())
	},
}

var spanishLabels = labels{
	today:   "Hoy",
	justNow: "Hace un momento",
	minutes: "Hace %d min",
	hours:   "Hace %d h",
	months: [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
	shortMons: [12]string{"ene", "feb", "mar", "abr", "may", "jun",
		"jul", "ago", "sept", "oct", "nov", "dic"},
	longDate: func(t time.Time, m [12]string) string {
		return fmt.Sprintf("%d de %s de %d", t.Day(), m[t.Month()-1], t.Year())
	},
	shortDate: func(t time.Time, m [12]string) string {
		return fmt.Sprintf("%d %s %d", t.Day(), m[t.Month()-1], t.Year())
	},
}

func labelsFor(locale string) labels {
	if locale == "" {
		return englishLabels
	}
	_, idx := language.MatchStrings(localeMatcher, locale)
	if idx == 1 {
		return spanishLabels
	}
	return englishLabels
}

func (l labels) long(t time.Time) string  { return l.longDate(t, l.months) }
func (l labels) short(t time.Time) string { return l.shortDate(t, l.shortMons) }
