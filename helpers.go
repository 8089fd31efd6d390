package main

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var protocolSuffixes = []string{"@c.us", "@g.us", "@lid", "@s.whatsapp.net", "@broadcast"}

// stripProtocolSuffix removes any transport addressing suffix from an address,
// e.g. "60123456789@c.us" -> "60123456789".
func stripProtocolSuffix(addr string) string {
	for _, suffix := range protocolSuffixes {
		addr = strings.TrimSuffix(addr, suffix)
	}
	return addr
}

var (
	phoneShapeRe     = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
	digitsOnlyRe     = regexp.MustCompile(`^\d+$`)
	phoneCandidateRe = regexp.MustCompile(`\+?\d[\d\s\-()]*\d`)
)

// looksLikePhone reports whether s has the shape of a phone number: digits with
// an optional leading + and spaces/dashes/parentheses as separators, carrying at
// least 8 significant digits.
func looksLikePhone(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || !phoneShapeRe.MatchString(s) {
		return false
	}
	return len(normalizePhone(s)) >= 8
}

// normalizePhone strips separators and the leading + from a phone-shaped string.
func normalizePhone(s string) string {
	replacer := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "")
	return replacer.Replace(strings.TrimSpace(s))
}

// extractPhone pulls a phone number out of s, which may be the whole string
// ("+1 (555) 123-4567") or a run embedded in a name ("John 60123456789").
// Returns "" when nothing phone-shaped is present.
func extractPhone(s string) string {
	if looksLikePhone(s) {
		return normalizePhone(s)
	}
	for _, candidate := range phoneCandidateRe.FindAllString(s, -1) {
		if n := normalizePhone(candidate); isNumericPhone(n) {
			return n
		}
	}
	return ""
}

// isNumericPhone reports whether s is purely numeric and long enough to be a
// plausible phone number.
func isNumericPhone(s string) bool {
	return len(s) >= 8 && digitsOnlyRe.MatchString(s)
}

func (s *server) respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respondWithJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
