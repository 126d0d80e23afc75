package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

func GenerateUUID() string {
	return uuid.New().String()
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

func FormatDuration(duration time.Duration) string {
	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%.1fh", duration.Hours())
	}
	return fmt.Sprintf("%.1fd", duration.Hours()/24)
}

// FormatCoordinate renders a coordinate with the shortest exact decimal form
func FormatCoordinate(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func NormalizePhoneNumber(phone string) string {
	cleaned := regexp.MustCompile(`[^\d+]`).ReplaceAllString(phone, "")
	if cleaned != "" && !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned
}

func MaskPhoneNumber(phone string) string {
	cleaned := regexp.MustCompile(`\D`).ReplaceAllString(phone, "")
	if len(cleaned) < 4 {
		return phone
	}

	visible := cleaned[len(cleaned)-4:]
	masked := strings.Repeat("*", len(cleaned)-4) + visible
	return "+" + masked
}
