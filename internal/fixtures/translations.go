package fixtures

import "sort"

// Translation tables for the strings the mock server emits. English is the
// reference locale: every key exists there, other locales may lag behind
// and fall back to it.

const referenceLocale = "en"

var translations = map[string]map[string]string{
	"en": {
		"greeting":               "Hello! How can I help you today?",
		"farewell":               "Goodbye, talk soon.",
		"agent.thinking":         "Let me look into that.",
		"agent.done":             "Here is what I found.",
		"error.unauthorized":     "You are not authorized to access this thread.",
		"error.thread_not_found": "That conversation no longer exists.",
		"error.rate_limited":     "Too many messages, please slow down.",
		"error.internal":         "Something went wrong on our side.",
	},
	"es": {
		"greeting":               "¡Hola! ¿En qué puedo ayudarte hoy?",
		"farewell":               "Adiós, hasta pronto.",
		"agent.thinking":         "Déjame investigarlo.",
		"agent.done":             "Esto es lo que encontré.",
		"error.unauthorized":     "No tienes autorización para acceder a esta conversación.",
		"error.thread_not_found": "Esa conversación ya no existe.",
		"error.rate_limited":     "Demasiados mensajes, más despacio por favor.",
		"error.internal":         "Algo salió mal de nuestro lado.",
	},
	"de": {
		"greeting":               "Hallo! Wie kann ich dir heute helfen?",
		"farewell":               "Tschüss, bis bald.",
		"agent.thinking":         "Ich schaue mir das an.",
		"agent.done":             "Das habe ich gefunden.",
		"error.unauthorized":     "Du bist nicht berechtigt, auf diesen Thread zuzugreifen.",
		"error.thread_not_found": "Diese Unterhaltung existiert nicht mehr.",
		"error.rate_limited":     "Zu viele Nachrichten, bitte langsamer.",
		// error.internal intentionally missing, mirrors the real catalog.
	},
	"ja": {
		"greeting":               "こんにちは！今日はどのようにお手伝いしましょうか？",
		"farewell":               "さようなら、またお話ししましょう。",
		"agent.thinking":         "少し調べてみます。",
		"agent.done":             "調べた結果はこちらです。",
		"error.unauthorized":     "このスレッドへのアクセス権限がありません。",
		"error.thread_not_found": "その会話はもう存在しません。",
		"error.rate_limited":     "メッセージが多すぎます。少しお待ちください。",
		"error.internal":         "こちら側で問題が発生しました。",
	},
}

// Lookup returns the string for key in locale, falling back to English
// when the locale or the key is missing there. The second return reports
// whether the key exists at all in the reference locale.
func Lookup(locale, key string) (string, bool) {
	if table, ok := translations[locale]; ok {
		if s, ok := table[key]; ok {
			return s, true
		}
	}
	s, ok := translations[referenceLocale][key]
	return s, ok
}

// Locales returns the supported locale codes, sorted, English first.
func Locales() []string {
	out := make([]string, 0, len(translations))
	for code := range translations {
		if code == referenceLocale {
			continue
		}
		out = append(out, code)
	}
	sort.Strings(out)
	return append([]string{referenceLocale}, out...)
}

// TranslationKeys returns every key in the reference locale, sorted.
func TranslationKeys() []string {
	ref := translations[referenceLocale]
	out := make([]string, 0, len(ref))
	for k := range ref {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MissingKeys returns the reference-locale keys that locale does not
// translate. Unknown locales miss everything.
func MissingKeys(locale string) []string {
	table := translations[locale]
	var out []string
	for _, k := range TranslationKeys() {
		if _, ok := table[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
