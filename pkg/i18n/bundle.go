// Package i18n holds the message bundles: immutable key → text template
// maps, one per language, loaded once at startup.
//
// Bundle directories searched (in order):
//  1. ./messages/            (relative to working directory)
//  2. <data dir>/messages/
//
// English defaults are compiled in, so the bot runs with no message files
// at all.
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bundle is an immutable mapping from message key to text template for one
// language. Templates use %s / %d verbs filled by the caller.
type Bundle struct {
	lang     string
	messages map[string]string
}

// Lang returns the bundle's language code.
func (b *Bundle) Lang() string { return b.lang }

// Get returns the template for key, falling back to the key itself so a
// missing message is visible rather than silently empty.
func (b *Bundle) Get(key string) string {
	if msg, ok := b.messages[key]; ok {
		return msg
	}
	return key
}

// Format renders the template for key with fmt-style arguments.
func (b *Bundle) Format(key string, args ...interface{}) string {
	return fmt.Sprintf(b.Get(key), args...)
}

// Has reports whether the bundle defines key.
func (b *Bundle) Has(key string) bool {
	_, ok := b.messages[key]
	return ok
}

// englishDefaults is the built-in bundle. Language files override per key.
var englishDefaults = map[string]string{
	"welcome":             "Hi %s! Welcome! I'm your assistant. How can I help you today?",
	"help_header":         "Here are the available commands:\n\n",
	"help_footer":         "\nTip: you can also use the inline buttons for quick access.",
	"unknown_command":     "Sorry, I don't understand that command. Type /help for available commands.",
	"unknown_input":       "I received your message: %s\n\nUse /help to see available commands.",
	"error_occurred":      "Something went wrong while processing your request. Please try again later.",
	"feature_unavailable": "This feature is not available. Ask the operator to enable it.",
	"weather_usage":       "Please provide a city name.\nExample: /weather London",
	"weather_ask_city":    "Which city do you want the weather for?",
	"weather_not_found":   "City %q not found.",
	"weather_report":      "Weather in %s\nTemperature: %.1f°C\nWind: %.1f m/s\nHumidity: %d%%\nConditions: %s",
	"news_header":         "Latest news headlines:\n\n",
	"news_failed":         "Could not fetch the news right now. Please try again later.",
	"joke_prefix":         "Here's one: %s",
	"quote_prefix":        "%s",
	"calc_usage":          "Please provide an expression.\nExample: /calc 2 + 3 * 4",
	"calc_ask_expr":       "What should I calculate?",
	"calc_result":         "%s = %s",
	"calc_invalid":        "Invalid expression. Only numbers, + - * / and parentheses are allowed.",
	"reminder_usage":      "Please provide time and message.\nExample: /reminder 30m Buy groceries",
	"reminder_ask_when":   "When should I remind you? Use a duration like 30m, 2h or 1d.",
	"reminder_ask_what":   "What should the reminder say?",
	"reminder_set":        "Reminder set for %s: %s",
	"reminder_fire":       "Reminder: %s",
	"bad_duration":        "Invalid time format. Use a positive integer with a unit: 30m, 2h, 1d.",
	"bad_delay":           "The delay must be positive. Use something like 30m, 2h or 1d.",
	"subscribe_usage":     "Please provide a cron schedule and a topic.\nExample: /subscribe \"0 9 * * *\" quote",
	"subscribe_bad_cron":  "That is not a valid cron expression.",
	"subscribe_bad_topic": "Unknown topic %q. Available: joke, quote, news.",
	"subscribe_set":       "Subscribed to %s on schedule %q.",
	"unsubscribe_done":    "Removed %d subscription(s).",
	"unsubscribe_none":    "You have no subscriptions.",
	"cancel_ack":          "Okay, cancelled. What else can I do for you?",
	"cancel_nothing":      "Nothing to cancel.",
	"about_text":          "Assistant Bot\n\nWeather, news, jokes, quotes, a calculator and reminders, all in one bot.\nUse /help to see the available commands.",
	"settings_text":       "Settings\n\nLanguage: %s\nWeather provider: %s\nNews provider: %s\n\nSettings are managed by the operator via configuration.",
	"group_heard":         "Hi! I heard: %s",
	"btn_help":            "Help",
	"btn_weather":         "Weather",
	"btn_news":            "News",
	"btn_joke":            "Joke",
	"btn_quote":           "Quote",
	"btn_settings":        "Settings",
}

// Load builds the bundle for lang. Language files named <lang>.yaml are
// merged over the English defaults; an unknown language falls back to the
// defaults unchanged.
func Load(lang string, dirs ...string) *Bundle {
	messages := make(map[string]string, len(englishDefaults))
	for k, v := range englishDefaults {
		messages[k] = v
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = "en"
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, lang+".yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var overrides map[string]string
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			continue
		}
		for k, v := range overrides {
			messages[k] = v
		}
	}

	return &Bundle{lang: lang, messages: messages}
}
