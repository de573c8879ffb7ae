// Package i18n picks the message printer used for CLI output. Numbers such
// as gain values and counts are formatted for the user's locale.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language.
var DefaultLang = language.English

// SupportedLangs are the languages the CLI formats for.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// LocaleTag resolves a POSIX locale string ("de_DE.UTF-8", "C", "") to a
// supported language.
func LocaleTag(locale string) language.Tag {
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	if locale == "" || locale == "C" || locale == "POSIX" {
		return DefaultLang
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return DefaultLang
	}
	matched, _, confidence := matcher.Match(tag)
	if confidence == language.No {
		return DefaultLang
	}
	base, _ := matched.Base()
	return language.Make(base.String())
}

// NewCLIPrinter returns a printer for the locale named by LC_ALL, LC_MESSAGES
// or LANG, in that order.
func NewCLIPrinter() *message.Printer {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(env); v != "" {
			return message.NewPrinter(LocaleTag(v))
		}
	}
	return message.NewPrinter(DefaultLang)
}
