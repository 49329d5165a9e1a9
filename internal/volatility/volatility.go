// Package volatility implements the dynamic-text signal detection used
// by candidate/repair generation and by stability scoring as
// volatilityFlags. Both call sites detect the same
// underlying signals (numeric fragments, date/time fragments, long text,
// domain-specific dynamic keywords), so the detector lives in one place
// instead of being reimplemented per consumer.
package volatility

import (
	"regexp"
	"strings"
)

// Flag values match the report's volatilityFlags vocabulary exactly; the
// "dynamic signals" reuse the same names rather than inventing a second
// vocabulary for what is the same detection.
const (
	FlagNumericFragment  = "contains_numeric_fragment"
	FlagDateTimeFragment = "contains_date_or_time_fragment"
	FlagLongText         = "contains_long_text"
	FlagDynamicKeyword   = "contains_dynamic_keyword"
	FlagExactTrue        = "exact_true"
)

// LongTextThreshold is the "long-text ≥48 chars" dynamic signal from
// repair analysis.
const LongTextThreshold = 48

var numericFragmentPattern = regexp.MustCompile(`\d{2,}`)

var dateTimePattern = regexp.MustCompile(
	`(?i)\b\d{1,2}:\d{2}(:\d{2})?\b|\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b|` +
		`\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|jun(e)?|jul(y)?|aug(ust)?|sep(tember)?|oct(ober)?|nov(ember)?|dec(ember)?)\b`)

// dynamicKeywords are domain words that correlate strongly with
// frequently-changing content.
var dynamicKeywords = []string{
	"weather", "forecast", "temperature", "news", "breaking", "live", "latest",
	"today", "now", "update", "updated", "trending", "score", "odds", "price",
	"stock", "quote", "rate", "countdown",
}

// HasNumericFragment reports whether s contains a run of 2+ digits.
func HasNumericFragment(s string) bool { return numericFragmentPattern.MatchString(s) }

// HasDateTimeFragment reports whether s contains a recognizable date or
// time fragment (HH:MM, ISO date, slash date, or a month name).
func HasDateTimeFragment(s string) bool { return dateTimePattern.MatchString(s) }

// HasDynamicKeyword reports whether s contains one of the curated
// domain keywords associated with frequently-changing content.
func HasDynamicKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range dynamicKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsLongText reports whether s is at or above threshold characters.
func IsLongText(s string, threshold int) bool {
	return len([]rune(s)) >= threshold
}

// Detect returns every textual volatility flag s triggers. It never includes FlagExactTrue, which is structural
// (derived from the locator expression's `exact: true` option, not text)
// and is appended by the caller that parses the expression (internal/repair).
func Detect(s string) []string {
	var flags []string
	if HasNumericFragment(s) {
		flags = append(flags, FlagNumericFragment)
	}
	if HasDateTimeFragment(s) {
		flags = append(flags, FlagDateTimeFragment)
	}
	if IsLongText(s, LongTextThreshold) {
		flags = append(flags, FlagLongText)
	}
	if HasDynamicKeyword(s) {
		flags = append(flags, FlagDynamicKeyword)
	}
	return flags
}
